package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clblur/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logger    *slog.Logger

	// cfg is the effective configuration, loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "clblur",
	Short: "Offload a grayscale image filter to an OpenCL device",
	Long: `clblur compiles an OpenCL C kernel, uploads a grayscale image to a compute
device, runs the kernel once per pixel and writes the filtered image back.

Without OpenCL support (build with -tags gpu) the bundled kernels run on a
pure-Go host device.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded

		logger = newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default is ./clblur.yaml or $HOME/.clblur/clblur.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	pf.String("driver", "auto", "Device driver (auto, opencl, host)")
	pf.String("device", "default", "Device class (gpu, cpu, accelerator, default, all)")
	pf.String("data-dir", "./data", "Base directory for run records")
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
