// Command grab captures frames from a device and writes the last one to
// disk, raw and as JPEG, next to the rendered composite.
package main

import (
	goimage "image"
	"os"

	"github.com/spf13/pflag"
	"github.com/vladimirvivien/go4vl/v4l2"

	"shader-cam/pkg/camera"
	"shader-cam/pkg/render"
	"shader-cam/pkg/utils"
	"shader-cam/pkg/utils/image"
	"shader-cam/pkg/utils/rgb"
)

func main() {
	devName := pflag.StringP("device", "d", camera.DefaultDevice, "dev name (path)")
	width := pflag.IntP("width", "w", camera.DefaultWidth, "requested width")
	height := pflag.IntP("height", "h", camera.DefaultHeight, "requested height")
	count := pflag.IntP("count", "n", 5, "frames to capture, the first ones are often dark")
	out := pflag.StringP("out", "o", "grab", "output file prefix")
	pflag.Parse()

	logger := utils.GetLogger()
	defer logger.Sync()

	c, err := camera.Open(*devName, *width, *height)
	if err != nil {
		logger.Fatalf("failed to open dev: %s", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error(err)
		}
	}()

	for i := 0; i < *count; i++ {
		if err = c.CaptureFrame(); err != nil {
			logger.Errorf("capture: %s", err)
			return
		}
	}
	frame, err := c.CurrentFrame()
	if err != nil {
		logger.Error(err)
		return
	}
	f := c.Format()
	logger.Infof("%s %dx%d stride %d, %d bytes", camera.FourCC(f.PixelFormat), f.Width, f.Height, c.Stride(), len(frame))

	if err = os.WriteFile(*out+".raw", frame, 0660); err != nil {
		logger.Error(err)
		return
	}

	w, h := int(f.Width), int(f.Height)
	data, stride := frame, c.Stride()
	if f.PixelFormat == v4l2.PixelFmtYUYV {
		data, stride = make([]byte, w*h*3), 0
		image.YUYVToRGB(frame, w, h, c.Stride(), data)
	}
	if err = writeImage(image.DecodeRGB(data, w, h, stride), *out+".jpg"); err != nil {
		logger.Error(err)
		return
	}

	composite, err := render.NewCompositor(w, h, false).Render(rgb.NewRGB(data, w, h, stride))
	if err != nil {
		logger.Error(err)
		return
	}
	if err = writeImage(composite, *out+"-composite.jpg"); err != nil {
		logger.Error(err)
		return
	}
	logger.Infof("wrote %s.raw, %s.jpg and %s-composite.jpg", *out, *out, *out)
}

func writeImage(img goimage.Image, name string) error {
	fd, err := os.Create(name)
	if err != nil {
		return err
	}
	defer fd.Close()

	return image.EncodeJPEG(img, fd, image.DefaultQuality)
}
