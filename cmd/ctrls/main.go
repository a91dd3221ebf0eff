// Command ctrls prints the controls of a capture device.
package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"shader-cam/pkg/camera"
	"shader-cam/pkg/utils"
)

func main() {
	devName := pflag.StringP("device", "d", camera.DefaultDevice, "device name (path)")
	asJSON := pflag.Bool("json", false, "print JSON")
	pflag.Parse()

	logger := utils.GetLogger()
	c, err := camera.Open(*devName, camera.DefaultWidth, camera.DefaultHeight)
	if err != nil {
		logger.Fatalf("failed to open device: %s", err)
	}
	defer c.Close()

	ctrls, err := c.Controls()
	if err != nil {
		logger.Error(err)
		return
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "    ")
		if err = enc.Encode(ctrls); err != nil {
			logger.Error(err)
		}
		return
	}
	for _, ctrl := range ctrls {
		fmt.Println(camera.CtrlToString(ctrl))
		for i, m := range ctrl.MenuItems {
			fmt.Printf("\t(%d) Menu %s\n", i, m)
		}
	}
}
