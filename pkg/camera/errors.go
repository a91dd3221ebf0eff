package camera

import (
	"errors"
	"fmt"
)

// Kind classifies a capture failure. Every kind is fatal to the Capture that
// produced it.
type Kind int

const (
	// KindOpen covers opening and closing the device node.
	KindOpen Kind = iota + 1
	// KindIoctl covers format, buffer and stream control requests.
	KindIoctl
	// KindMmap covers mapping and unmapping capture buffers.
	KindMmap
	// KindWait covers the readiness wait, including its timeout.
	KindWait
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindIoctl:
		return "ioctl"
	case KindMmap:
		return "mmap"
	case KindWait:
		return "wait"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	ErrTimeout      = errors.New("timed out waiting for frame")
	ErrNoFrame      = errors.New("no frame captured yet")
	ErrClosed       = errors.New("capture closed")
	ErrNoControls   = errors.New("driver does not expose controls")
	ErrNoBuffers    = errors.New("driver granted no buffers")
	ErrBufferLength = errors.New("buffer too small for granted format")
)

// ErrUnsupportedFormat is returned when the driver grants a pixel format other
// than RGB24 or YUYV.
var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// Error is returned by every fallible Capture operation.
type Error struct {
	Kind Kind
	// Op names the failing request, e.g. VIDIOC_DQBUF.
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

func ioctlErr(op string, err error) error {
	return &Error{Kind: KindIoctl, Op: op, Err: err}
}
