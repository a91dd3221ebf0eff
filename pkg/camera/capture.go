package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Capture is a streaming V4L2 capture context. It owns the device handle and
// the mapped buffer pool and is not safe for concurrent use.
//
// Only one frame is checked out at a time: CaptureFrame dequeues the filled
// buffer and hands it straight back to the driver, so the bytes returned by
// CurrentFrame may be overwritten at any point after the call and must be
// consumed before the next CaptureFrame.
type Capture struct {
	drv     Driver
	logger  *zap.SugaredLogger
	timeout time.Duration

	path      string
	format    v4l2.PixFormat
	pool      pool
	streaming bool
	closed    bool

	// current is the pool index of the most recently dequeued buffer, -1
	// until the first CaptureFrame.
	current int
	last    Slot
}

// Open opens path, negotiates an RGB24 width x height format, maps
// BufferCount buffers, queues them and starts streaming. The driver may grant
// different dimensions; that is logged and the granted format is used.
//
// On error everything acquired so far is released.
func Open(path string, width, height int, opts ...Option) (*Capture, error) {
	c := &Capture{
		logger:  logger,
		timeout: WaitTimeout,
		path:    path,
		current: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.drv == nil {
		c.drv = NewSysDriver()
	}

	if err := c.drv.Open(path); err != nil {
		return nil, &Error{Kind: KindOpen, Op: "open " + path, Err: err}
	}
	if err := c.init(uint32(width), uint32(height)); err != nil {
		return nil, multierr.Append(err, c.release())
	}
	c.logger.Infof("streaming %s at %dx%d with %d buffers", path, c.format.Width, c.format.Height, c.pool.len())

	return c, nil
}

func (c *Capture) init(width, height uint32) error {
	want := v4l2.PixFormat{
		Width:       width,
		Height:      height,
		PixelFormat: DefaultPixelFormat,
		Field:       DefaultField,
	}
	var got v4l2.PixFormat
	err := retry(func() (err error) {
		got, err = c.drv.SetFormat(want)
		return
	})
	if err != nil {
		return ioctlErr("VIDIOC_S_FMT", err)
	}
	if got.Width != width || got.Height != height {
		c.logger.Warnf("driver is sending image at %dx%d", got.Width, got.Height)
	}
	switch got.PixelFormat {
	case want.PixelFormat:
	case v4l2.PixelFmtYUYV:
		c.logger.Warnf("driver is sending %s instead of %s", FourCC(got.PixelFormat), FourCC(want.PixelFormat))
	default:
		return ioctlErr("VIDIOC_S_FMT", fmt.Errorf("%w: %s", ErrUnsupportedFormat, FourCC(got.PixelFormat)))
	}
	c.format = got

	var n uint32
	err = retry(func() (err error) {
		n, err = c.drv.RequestBuffers(BufferCount)
		return
	})
	if err != nil {
		return ioctlErr("VIDIOC_REQBUFS", err)
	}
	if n == 0 {
		return ioctlErr("VIDIOC_REQBUFS", ErrNoBuffers)
	}

	if err = c.pool.mapAll(c.drv, n); err != nil {
		return err
	}
	for i := 0; i < c.pool.len(); i++ {
		if b := c.pool.get(i); int(b.length) < c.FrameSize() {
			return &Error{Kind: KindMmap, Op: fmt.Sprintf("buffer %d", i), Err: ErrBufferLength}
		}
	}
	if err = c.pool.queueAll(c.drv); err != nil {
		return err
	}

	if err = retry(c.drv.StreamOn); err != nil {
		return ioctlErr("VIDIOC_STREAMON", err)
	}
	c.streaming = true

	return nil
}

// CaptureFrame blocks until the driver has filled a buffer, dequeues it as
// the current frame and queues it again. A wait that sees no data within the
// timeout fails with ErrTimeout; interrupted waits are retried.
func (c *Capture) CaptureFrame() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.wait(); err != nil {
		return err
	}

	var slot Slot
	err := retry(func() (err error) {
		slot, err = c.drv.Dequeue()
		return
	})
	if err != nil {
		return ioctlErr("VIDIOC_DQBUF", err)
	}
	if int(slot.Index) >= c.pool.len() {
		return ioctlErr("VIDIOC_DQBUF", fmt.Errorf("buffer index %d out of range", slot.Index))
	}
	c.current = int(slot.Index)
	c.last = slot

	if err = retry(func() error { return c.drv.Queue(slot.Index) }); err != nil {
		return ioctlErr("VIDIOC_QBUF", err)
	}

	return nil
}

func (c *Capture) wait() error {
	for {
		ready, err := c.drv.Wait(c.timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return &Error{Kind: KindWait, Op: "poll", Err: err}
		}
		if !ready {
			return &Error{Kind: KindWait, Op: "poll", Err: ErrTimeout}
		}
		return nil
	}
}

// CurrentFrame returns the mapped bytes of the most recently dequeued buffer.
// The slice aliases driver memory and is only valid until the next
// CaptureFrame or Close.
func (c *Capture) CurrentFrame() ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.current < 0 {
		return nil, ErrNoFrame
	}
	b := c.pool.get(c.current)

	return b.data[:b.length], nil
}

// ImageSize returns the byte length of the current buffer.
func (c *Capture) ImageSize() (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if c.current < 0 {
		return 0, ErrNoFrame
	}

	return int(c.pool.get(c.current).length), nil
}

// CurrentIndex returns the pool slot holding the current frame.
func (c *Capture) CurrentIndex() (int, error) {
	if c.current < 0 {
		return -1, ErrNoFrame
	}
	return c.current, nil
}

// LastSlot returns the descriptor of the last dequeued buffer.
func (c *Capture) LastSlot() Slot {
	return c.last
}

// Format returns the format granted by the driver.
func (c *Capture) Format() v4l2.PixFormat {
	return c.format
}

// FrameSize is the number of bytes of one packed image in the granted
// format, width*height*3 for RGB24.
func (c *Capture) FrameSize() int {
	return int(c.format.Width) * int(c.format.Height) * BytesPerPixel(c.format.PixelFormat)
}

// Stride is the number of bytes between two image rows.
func (c *Capture) Stride() int {
	if c.format.BytesPerLine != 0 {
		return int(c.format.BytesPerLine)
	}
	return int(c.format.Width) * BytesPerPixel(c.format.PixelFormat)
}

// Buffers returns the number of mapped buffers.
func (c *Capture) Buffers() int {
	return c.pool.len()
}

func (c *Capture) Path() string {
	return c.path
}

// Close stops streaming, unmaps every buffer and closes the device. It must
// be called exactly once; later calls return ErrClosed.
func (c *Capture) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.current = -1

	var err error
	if c.streaming {
		if e := retry(c.drv.StreamOff); e != nil {
			err = multierr.Append(err, ioctlErr("VIDIOC_STREAMOFF", e))
		}
		c.streaming = false
	}

	return multierr.Append(err, c.release())
}

func (c *Capture) release() error {
	err := c.pool.release(c.drv)
	if e := c.drv.Close(); e != nil {
		err = multierr.Append(err, &Error{Kind: KindOpen, Op: "close", Err: e})
	}

	return err
}

// retry runs fn until it fails with something other than EINTR or EAGAIN.
func retry(fn func() error) error {
	for {
		err := fn()
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		return err
	}
}
