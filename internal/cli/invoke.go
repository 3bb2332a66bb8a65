package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/language"
	"github.com/fmueller/voxlate/internal/storage"
)

func newInvokeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run a single stage once against a stored object",
	}
	cmd.AddCommand(newInvokeNormalizeCmd(app))
	cmd.AddCommand(newInvokeProbeCmd(app))
	cmd.AddCommand(newInvokeTranscribeCmd(app))
	return cmd
}

func newInvokeNormalizeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <name>",
		Short: "Normalize an object from the raw bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				out, err := rt.normalizer.Handle(cmd.Context(), storage.ObjectEvent{Bucket: rt.cfg.Buckets.Raw, Name: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintf(app.outWriter(), "normalized %s/%s\n", out.Bucket, out.Name)
				return nil
			})
		},
	}
}

func newInvokeProbeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <name>",
		Short: "Read the audio header of an object in the normalized bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				info, err := rt.prober.Probe(cmd.Context(), storage.ObjectEvent{Bucket: rt.cfg.Buckets.Normalized, Name: args[0]})
				if err != nil {
					return err
				}
				fmt.Fprintln(app.outWriter(), renderTable(
					[]string{"Object", "Format", "Sample rate", "Channels"},
					[][]string{{info.Name, string(info.Format), strconv.Itoa(info.SampleRate), strconv.Itoa(info.Channels)}},
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newInvokeTranscribeCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <name>",
		Short: "Probe, transcribe and fan out an object in the normalized bucket",
		Long: "Probe, transcribe and fan out an object in the normalized bucket.\n" +
			"Translation requests wait on the bus until a daemon picks them up.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				ctx := cmd.Context()
				info, err := rt.prober.Probe(ctx, storage.ObjectEvent{Bucket: rt.cfg.Buckets.Normalized, Name: args[0]})
				if err != nil {
					return err
				}

				stopSpinner := startSpinner(app.progressEnabled(), "Transcribing")
				started := time.Now()
				outcome, err := rt.orchestrator.Run(ctx, info)
				stopSpinner()
				if err != nil {
					app.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
					return err
				}
				app.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))

				out := app.outWriter()
				fmt.Fprintln(out, outcome.Transcript)
				rows := make([][]string, 0, len(rt.cfg.Languages.Targets))
				for _, lang := range outcome.PassedThrough {
					rows = append(rows, []string{lang, language.DisplayName(lang), "verbatim", outcome.MessageIDs[lang]})
				}
				for _, lang := range outcome.Translated {
					rows = append(rows, []string{lang, language.DisplayName(lang), "translate from " + outcome.SourceLanguage, outcome.MessageIDs[lang]})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Target", "Language", "Route", "Message"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
}
