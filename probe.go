package main

import (
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"shader-cam/pkg/camera"
)

func newProbeCmd() *cobra.Command {
	device := camera.DefaultDevice
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the capabilities, formats and frame sizes of a device as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := camera.Probe(device)
			if err != nil {
				return err
			}
			for _, f := range info.Formats {
				if sz, ok := f.MaxSize(); ok {
					logger.Infof("%s up to %dx%d", f.FourCC, sz.Width, sz.Height)
				}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "    ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", device, "capture device")

	return cmd
}
