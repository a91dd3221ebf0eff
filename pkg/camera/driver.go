package camera

import (
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
)

// Slot describes one kernel capture buffer, as reported by VIDIOC_QUERYBUF or
// VIDIOC_DQBUF.
type Slot struct {
	Index     uint32
	Offset    uint32
	Length    uint32
	BytesUsed uint32
	Sequence  uint32
}

// Driver is the set of V4L2 requests a Capture is assembled from. Errors are
// returned raw; the Capture retries EINTR and EAGAIN and classifies the rest.
type Driver interface {
	Open(path string) error
	// SetFormat issues VIDIOC_S_FMT and returns the format the driver granted.
	SetFormat(want v4l2.PixFormat) (v4l2.PixFormat, error)
	// RequestBuffers issues VIDIOC_REQBUFS for mmap buffers and returns the
	// granted count.
	RequestBuffers(count uint32) (uint32, error)
	QueryBuffer(index uint32) (Slot, error)
	Map(slot Slot) ([]byte, error)
	Unmap(buf []byte) error
	Queue(index uint32) error
	Dequeue() (Slot, error)
	StreamOn() error
	StreamOff() error
	// Wait blocks until the device is readable or timeout elapses. It reports
	// false with a nil error on timeout.
	Wait(timeout time.Duration) (bool, error)
	Close() error
}

// ControlDriver is implemented by drivers that expose V4L2 controls.
type ControlDriver interface {
	Controls() ([]v4l2.Control, error)
	SetControl(id v4l2.CtrlID, value v4l2.CtrlValue) error
}
