package logging

import (
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Verbose bool
	JSON    bool
	// Color forces colored console levels; nil means detect from stderr.
	Color *bool
}

func New(opts Options) (*zap.Logger, error) {
	return newConfig(opts).Build()
}

func newConfig(opts Options) zap.Config {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	if !opts.JSON {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = ""
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		if colorEnabled(opts.Color) {
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.EncoderConfig.EncodeCaller = nil
	}

	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = !opts.Verbose

	if opts.JSON {
		cfg.Encoding = "json"
	} else {
		cfg.Encoding = "console"
	}

	return cfg
}

func colorEnabled(force *bool) bool {
	if force != nil {
		return *force
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
