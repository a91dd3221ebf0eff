package camera

import (
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

type DeviceInfo struct {
	Path      string       `json:"path"`
	Driver    string       `json:"driver"`
	Card      string       `json:"card"`
	BusInfo   string       `json:"busInfo"`
	Capture   bool         `json:"capture"`
	Streaming bool         `json:"streaming"`
	Formats   []FormatInfo `json:"formats"`
}

type FormatInfo struct {
	FourCC      string `json:"fourcc"`
	Description string `json:"description"`
	Sizes       []Size `json:"sizes,omitempty"`
}

type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// MaxSize returns the largest frame size listed for the format, if any.
func (f FormatInfo) MaxSize() (Size, bool) {
	var best Size
	for _, s := range f.Sizes {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best, best.Width > 0
}

// Probe describes the device at path without starting a stream.
func Probe(path string) (info DeviceInfo, err error) {
	fd, err := v4l2.OpenDevice(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return info, &Error{Kind: KindOpen, Op: "open " + path, Err: err}
	}
	defer func() {
		if e := v4l2.CloseDevice(fd); e != nil {
			err = multierr.Append(err, &Error{Kind: KindOpen, Op: "close", Err: e})
		}
	}()

	caps, err := v4l2.GetCapability(fd)
	if err != nil {
		return info, ioctlErr("VIDIOC_QUERYCAP", err)
	}
	info = DeviceInfo{
		Path:      path,
		Driver:    caps.Driver,
		Card:      caps.Card,
		BusInfo:   caps.BusInfo,
		Capture:   caps.IsVideoCaptureSupported(),
		Streaming: caps.IsStreamingSupported(),
	}

	descs, err := v4l2.GetAllFormatDescriptions(fd)
	if err != nil {
		return info, ioctlErr("VIDIOC_ENUM_FMT", err)
	}
	sizes, err := v4l2.GetAllFormatFrameSizes(fd)
	if err != nil {
		// Some drivers do not enumerate frame sizes at all.
		logger.Warnf("enumerate frame sizes of %s: %s", path, err)
	}
	info.Formats = groupFormats(descs, sizes)

	return info, nil
}

func groupFormats(descs []v4l2.FormatDescription, sizes []v4l2.FrameSizeEnum) []FormatInfo {
	res := make([]FormatInfo, 0, len(descs))
	for _, d := range descs {
		f := FormatInfo{
			FourCC:      FourCC(d.PixelFormat),
			Description: d.Description,
		}
		for _, s := range sizes {
			if s.PixelFormat != d.PixelFormat {
				continue
			}
			f.Sizes = append(f.Sizes, Size{Width: s.Size.MaxWidth, Height: s.Size.MaxHeight})
		}
		res = append(res, f)
	}

	return res
}
