package camera

import (
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"shader-cam/pkg/utils"
)

const (
	DefaultDevice = "/dev/video0"
	DefaultWidth  = 640
	DefaultHeight = 480

	// BufferCount is the number of mmap buffers requested from the driver.
	BufferCount = 2
	// WaitTimeout bounds a single readiness wait in CaptureFrame.
	WaitTimeout = 2 * time.Second
)

var (
	DefaultPixelFormat = v4l2.PixelFmtRGB24
	DefaultField       = v4l2.FieldInterlaced

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger().Named("camera")
}

type Option func(*Capture)

// WithDriver replaces the Linux driver, mostly for tests.
func WithDriver(d Driver) Option {
	return func(c *Capture) {
		c.drv = d
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Capture) {
		c.logger = l
	}
}

// WithTimeout overrides WaitTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Capture) {
		c.timeout = d
	}
}

// BytesPerPixel returns the packed pixel size of the formats the capture
// pipeline understands. Anything else is treated as RGB24.
func BytesPerPixel(f v4l2.FourCCType) int {
	switch f {
	case v4l2.PixelFmtYUYV:
		return 2
	default:
		return 3
	}
}

// FourCC renders a pixel format code as its four characters.
func FourCC(f v4l2.FourCCType) string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for len(b) > 0 && (b[len(b)-1] == 0 || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return string(b)
}
