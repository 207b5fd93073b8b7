package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List compute platforms and devices",
	Long: `Lists every platform reported by the configured driver together with its
devices. The device used by 'run' is the first one matching device.class on
the first platform.`,
	RunE: runListDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(devicesCmd)
}

func runListDevices(cmd *cobra.Command, args []string) error {
	drv, err := openDriver(cfg.Device.Driver, device.Options{HostMaxWorkSize: cfg.Device.MaxWorkSize})
	if err != nil {
		return fault.New(fault.PlatformUnavailable, "open driver", err)
	}

	platforms, err := device.EnumeratePlatforms(drv)
	if err != nil {
		return fault.New(fault.PlatformUnavailable, "enumerate platforms", err)
	}

	out := cmd.OutOrStdout()
	if devicesJSON {
		data, err := json.MarshalIndent(platforms, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode platforms: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(platforms) == 0 {
		fmt.Fprintf(out, "No platforms found (driver %s).\n", drv.Name())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tDEVICE\tTYPE\tUNITS\tMEMORY\tMAX WORK SIZE")
	fmt.Fprintln(w, "--------\t------\t----\t-----\t------\t-------------")
	for _, p := range platforms {
		if len(p.Devices) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\n", p.Name)
			continue
		}
		for _, d := range p.Devices {
			maxWork := "-"
			if d.MaxWorkSize > 0 {
				maxWork = humanize.Comma(int64(d.MaxWorkSize))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				p.Name,
				d.Name,
				d.Type,
				d.MaxComputeUnits,
				humanize.IBytes(d.GlobalMemBytes),
				maxWork,
			)
		}
	}
	w.Flush()

	fmt.Fprintf(out, "\nDriver: %s\n", drv.Name())
	return nil
}
