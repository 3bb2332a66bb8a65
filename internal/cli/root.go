package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fmueller/voxlate/internal/clipboard"
	"github.com/fmueller/voxlate/internal/config"
	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/version"
)

type appState struct {
	configPath string
	verbose    bool
	jsonLogs   bool
	noProgress bool

	logger *zap.Logger
	out    io.Writer

	// loadConfigFn is swapped in tests.
	loadConfigFn func(path string) (*config.Config, string, bool, error)
	copyFn       func(ctx context.Context, text string) error
	cfg          *config.Config
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		out:          os.Stdout,
		loadConfigFn: config.Load,
	}

	cmd := &cobra.Command{
		Use:           "voxlate",
		Short:         "Transcribe uploaded audio and translate it into every target language",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			app.out = cmd.OutOrStdout()
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	cmd.PersistentFlags().StringVar(&app.configPath, "config", "", "Path to config.toml")
	cmd.PersistentFlags().BoolVar(&app.verbose, "verbose", false, "Enable verbose logs")
	cmd.PersistentFlags().BoolVar(&app.jsonLogs, "json", false, "Enable JSON logging")
	cmd.PersistentFlags().BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newIngestCmd(app))
	cmd.AddCommand(newInvokeCmd(app))
	cmd.AddCommand(newResultsCmd(app))
	cmd.AddCommand(newBusCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig loads the configuration once per process.
func (a *appState) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	load := a.loadConfigFn
	if load == nil {
		load = config.Load
	}
	cfg, path, exists, err := load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if exists {
		a.log().Debug("config loaded", zap.String("path", path))
	} else {
		a.log().Debug("no config file found, using defaults", zap.String("path", path))
	}
	a.cfg = cfg
	return cfg, nil
}

// withRuntime opens the store and the bus for the duration of fn.
func (a *appState) withRuntime(ctx context.Context, fn func(*runtime) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg, a.log())
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			a.log().Warn("close runtime", zap.Error(err))
		}
	}()
	return fn(rt)
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) copyText(ctx context.Context, text string) error {
	if a.copyFn != nil {
		return a.copyFn(ctx, text)
	}
	return clipboard.Copy(ctx, text)
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}
