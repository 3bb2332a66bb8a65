package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxlate/internal/config"
	"github.com/fmueller/voxlate/internal/platform"
)

func newConfigCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(app))
	cmd.AddCommand(newConfigShowCmd(app))
	return cmd
}

func newConfigInitCmd(app *appState) *cobra.Command {
	var (
		path      string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := path
			if target == "" {
				resolved, err := platform.ResolveConfigPath()
				if err != nil {
					return err
				}
				target = resolved
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file %s already exists; pass --overwrite to replace it", target)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("stat config: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(app.outWriter(), "Wrote sample config to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Destination (default: user config location)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newConfigShowCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			shown.Speech.APIKey = redact(shown.Speech.APIKey)
			shown.Translate.APIKey = redact(shown.Translate.APIKey)
			encoded, err := shown.Encode()
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = app.outWriter().Write(encoded)
			return err
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}
