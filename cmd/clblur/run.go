package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/clblur/internal/config"
	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
	"github.com/cwbudde/clblur/internal/imageio"
	"github.com/cwbudde/clblur/internal/pipeline"
	"github.com/cwbudde/clblur/internal/store"
)

var req config.Request

// openDriver is replaced in tests.
var openDriver = device.Open

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Filter one image on the compute device",
	Long: `Loads image <input> from the input directory, runs the configured kernel
with a filter of size <filter> and writes image <output> to the output directory.

Paths follow images.input_pattern and images.output_pattern, e.g.
images/image1.pgm -> images_output/image1_blurred.pgm.`,
	Example: "  clblur run -i 1 -o 1 -f 3",
	RunE:    runFilter,
}

func init() {
	runCmd.Flags().IntVarP(&req.Input, "input", "i", 0, "Input image index (required)")
	runCmd.Flags().IntVarP(&req.Output, "output", "o", 0, "Output image index (required)")
	runCmd.Flags().IntVarP(&req.FilterSize, "filter", "f", 0, "Filter size, a positive odd number (required)")
	runCmd.Flags().String("kernel", "kernels/blur.cl", "Kernel source file")
	runCmd.Flags().String("entry", "blur", "Kernel entry point")

	rootCmd.AddCommand(runCmd)
}

func runFilter(cmd *cobra.Command, args []string) error {
	if err := req.Validate(cmd.Flags().Changed); err != nil {
		if uerr := cmd.Usage(); uerr != nil {
			logger.Warn("Failed to print usage", "error", uerr)
		}
		return err
	}

	runID := store.NewRunID()
	log := logger.With("run_id", runID)

	rec := store.NewRunRecord(runID)
	rec.Kernel = store.KernelRef{Path: cfg.Kernel.Path, Entry: cfg.Kernel.Entry}
	rec.FilterSize = req.FilterSize
	rec.Input = store.ImageRef{Path: cfg.InputPath(req.Input)}
	rec.Output = store.ImageRef{Path: cfg.OutputPath(req.Output)}

	var trace *store.TraceWriter
	if cfg.Runs.Record {
		tw, err := store.NewTraceWriter(cfg.Runs.DataDir, runID)
		if err != nil {
			log.Warn("Run trace disabled", "error", err)
		} else {
			trace = tw
			defer trace.Close()
		}
	}

	res, err := execute(log, rec, trace)
	finishRecord(log, rec, err)

	if err != nil {
		log.Error("Run failed", "error", err, "kind", fault.KindOf(err).String(), "exit_code", fault.ExitCode(err))
		return err
	}

	log.Info("Run complete",
		"output", rec.Output.Path,
		"width", res.Width,
		"height", res.Height,
		"duration", rec.Duration(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d, %s %dx%d) run %s\n",
		rec.Output.Path, res.Width, res.Height, rec.Kernel.Entry, req.FilterSize, req.FilterSize, runID)
	return nil
}

// execute performs one offload pass and fills rec as it goes.
func execute(log *slog.Logger, rec *store.RunRecord, trace *store.TraceWriter) (*imageio.Gray, error) {
	img, err := imageio.Load(rec.Input.Path)
	if err != nil {
		return nil, err
	}
	rec.Input.Width, rec.Input.Height = img.Width, img.Height
	rec.Input.Checksum = img.Checksum()
	log.Info("Loaded input", "path", rec.Input.Path, "width", img.Width, "height", img.Height)

	builder := pipeline.Builder{MaxSourceBytes: cfg.Kernel.MaxSourceBytes}
	source, err := builder.LoadSource(rec.Kernel.Path)
	if err != nil {
		return nil, err
	}
	rec.Kernel.SourceBytes = len(source)
	log.Debug("Loaded kernel source", "path", rec.Kernel.Path, "size", humanize.Bytes(uint64(len(source))))

	filter, err := pipeline.BoxFilter(rec.FilterSize)
	if err != nil {
		return nil, err
	}

	class, err := cfg.DeviceClass()
	if err != nil {
		return nil, fault.New(fault.ConfigInvalid, "device class", err)
	}
	drv, err := openDriver(cfg.Device.Driver, device.Options{HostMaxWorkSize: cfg.Device.MaxWorkSize})
	if err != nil {
		return nil, fault.New(fault.PlatformUnavailable, "open driver", err)
	}
	rec.Device.Driver = drv.Name()

	p := pipeline.New(drv,
		pipeline.WithDeviceClass(class),
		pipeline.WithMaxSourceBytes(cfg.Kernel.MaxSourceBytes),
		pipeline.WithLogger(log),
		pipeline.WithObserver(func(ev pipeline.StageEvent) {
			if ev.Stage != pipeline.StageTornDown {
				rec.LastStage = ev.Stage.String()
			}
			if trace == nil {
				return
			}
			entry := store.TraceEntry{Stage: ev.Stage.String(), Timestamp: ev.At, ElapsedNS: int64(ev.Elapsed)}
			if ev.Err != nil {
				entry.Error = ev.Err.Error()
			}
			if err := trace.Write(entry); err != nil {
				log.Warn("Failed to write trace entry", "error", err)
			}
		}),
	)

	res, err := p.Run(pipeline.Job{
		Source: source,
		Entry:  rec.Kernel.Entry,
		Pixels: img.Pix,
		Width:  img.Width,
		Height: img.Height,
		Filter: filter,
	})
	if dev := p.Device(); dev.ID != 0 {
		rec.Device.Platform = dev.PlatformInfo.Name
		rec.Device.Name = dev.Info.Name
		rec.Device.Type = string(dev.Info.Type)
		log.Info("Device selected",
			"platform", rec.Device.Platform,
			"device", rec.Device.Name,
			"memory", humanize.IBytes(dev.Info.GlobalMemBytes),
		)
	}
	if err != nil {
		return nil, err
	}

	out := &imageio.Gray{Pix: res.Pixels, Width: res.Width, Height: res.Height}
	if err := imageio.Save(rec.Output.Path, out); err != nil {
		return nil, err
	}
	rec.Output.Width, rec.Output.Height = out.Width, out.Height
	rec.Output.Checksum = out.Checksum()
	return out, nil
}

// finishRecord stamps the outcome on rec and persists it when recording is
// enabled. Persistence failures are logged, never returned.
func finishRecord(log *slog.Logger, rec *store.RunRecord, runErr error) {
	rec.FinishedAt = time.Now()
	rec.ExitCode = fault.ExitCode(runErr)
	if runErr != nil {
		rec.Status = store.StatusFailed
		rec.Error = runErr.Error()
		rec.ErrorKind = fault.KindOf(runErr).String()
	} else {
		rec.Status = store.StatusSucceeded
	}

	if !cfg.Runs.Record {
		return
	}
	st, err := store.NewFSStore(cfg.Runs.DataDir)
	if err == nil {
		err = st.SaveRun(rec)
	}
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			log.Warn("Run record rejected", "field", verr.Field, "reason", verr.Reason)
			return
		}
		log.Warn("Failed to save run record", "error", err)
	}
}
