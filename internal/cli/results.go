package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxlate/internal/clipboard"
	"github.com/fmueller/voxlate/internal/language"
	"github.com/fmueller/voxlate/internal/pipeline"
	"github.com/fmueller/voxlate/internal/storage"
)

func newResultsCmd(app *appState) *cobra.Command {
	var (
		showText bool
		copyLang string
	)

	cmd := &cobra.Command{
		Use:   "results <filename>",
		Short: "List the translated artifacts for an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				if copyLang != "" {
					return app.copyResult(cmd.Context(), rt, args[0], copyLang)
				}
				return app.printResults(cmd.Context(), rt, args[0], showText)
			})
		},
	}
	cmd.Flags().BoolVar(&showText, "text", false, "Include the artifact text")
	cmd.Flags().StringVar(&copyLang, "copy", "", "Copy the artifact for this language to the clipboard")
	return cmd
}

const previewLength = 60

func (a *appState) copyResult(ctx context.Context, rt *runtime, filename, lang string) error {
	code, err := language.Normalize(lang)
	if err != nil {
		return fmt.Errorf("invalid --copy language: %w", err)
	}
	name := pipeline.ArtifactName(filename, code)
	data, err := rt.store.Get(ctx, rt.cfg.Buckets.Results, name)
	if err != nil {
		return err
	}
	if err := a.copyText(ctx, string(data)); err != nil {
		if errors.Is(err, clipboard.ErrUnavailable) {
			a.log().Warn("clipboard unavailable; printing text instead")
			fmt.Fprintln(a.outWriter(), string(data))
			return nil
		}
		return err
	}
	fmt.Fprintf(a.outWriter(), "Copied %s to clipboard\n", name)
	return nil
}

func (a *appState) printResults(ctx context.Context, rt *runtime, filename string, showText bool) error {
	objects, err := rt.store.List(ctx, rt.cfg.Buckets.Results, filename+"_")
	if err != nil {
		return err
	}
	objects = artifactsFor(objects, filename)
	if len(objects) == 0 {
		fmt.Fprintf(a.outWriter(), "No results for %s in %s\n", filename, rt.cfg.Buckets.Results)
		return nil
	}

	headers := []string{"Language", "Name", "Artifact", "Bytes", "Updated"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	if showText {
		headers = append(headers, "Text")
	}
	rows := make([][]string, 0, len(objects))
	for _, obj := range objects {
		lang := obj.Metadata.ContentLanguage
		row := []string{
			lang,
			language.DisplayName(lang),
			obj.Name,
			strconv.FormatInt(obj.Size, 10),
			obj.Updated.Local().Format(time.DateTime),
		}
		if showText {
			data, err := rt.store.Get(ctx, obj.Bucket, obj.Name)
			if err != nil {
				return err
			}
			row = append(row, preview(string(data)))
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(a.outWriter(), renderTable(headers, rows, aligns))
	return nil
}

// artifactsFor keeps objects named {filename}_{lang}.txt.
func artifactsFor(objects []storage.ObjectInfo, filename string) []storage.ObjectInfo {
	out := objects[:0]
	for _, obj := range objects {
		lang, ok := strings.CutPrefix(obj.Name, filename+"_")
		if !ok {
			continue
		}
		lang, ok = strings.CutSuffix(lang, ".txt")
		if !ok || lang == "" || strings.Contains(lang, "_") {
			continue
		}
		if obj.Metadata.ContentLanguage == "" {
			obj.Metadata.ContentLanguage = lang
		}
		out = append(out, obj)
	}
	return out
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength-1]) + "…"
}
