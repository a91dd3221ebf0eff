// Package app runs the capture, render and publish loop.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shader-cam/pkg/camera"
	"shader-cam/pkg/events"
	"shader-cam/pkg/metrics"
	"shader-cam/pkg/preview"
	"shader-cam/pkg/render"
	"shader-cam/pkg/storage"
	"shader-cam/pkg/types"
	"shader-cam/pkg/utils"
	"shader-cam/pkg/utils/image"
	"shader-cam/pkg/utils/rgb"
	"shader-cam/pkg/video"
)

var (
	ErrNotRunning = errors.New("capture loop is not running")
	ErrNoStorage  = errors.New("no snapshot storage configured")
	ErrNoPreview  = errors.New("no frame rendered yet")
)

type Options struct {
	Device string
	Width  int
	Height int
	CPU    bool
	// Frames stops the loop after that many frames, 0 means no limit.
	Frames   int
	Settings types.CameraSettings
	Record   types.RecordSetting
	Quality  int

	// CameraOptions are passed to camera.Open.
	CameraOptions []camera.Option
}

type Deps struct {
	Metrics *metrics.Metrics
	Hub     *preview.Hub
	Bus     *events.Bus
	// Store is optional; without it snapshots are refused and recordings
	// need an explicit path.
	Store *storage.Storage
}

type Status struct {
	Device      string    `json:"device"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	PixelFormat string    `json:"pixelFormat"`
	Buffers     int       `json:"buffers"`
	FrameSize   string    `json:"frameSize"`
	CPU         bool      `json:"cpu"`
	Frames      uint64    `json:"frames"`
	Running     bool      `json:"running"`
	Recording   string    `json:"recording,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
}

// request runs fn on the capture loop goroutine, which owns the Capture.
type request struct {
	fn   func(c *camera.Capture) error
	done chan error
}

type Runner struct {
	opts Options
	deps Deps

	logger   *zap.SugaredLogger
	requests chan request
	stopped  chan struct{}
	once     sync.Once

	lock   sync.Mutex
	status Status
}

func New(opts Options, deps Deps) *Runner {
	if opts.Quality == 0 {
		opts.Quality = image.DefaultQuality
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Hub == nil {
		deps.Hub = preview.NewHub(deps.Metrics.SetSubscribers)
	}
	if deps.Bus == nil {
		deps.Bus = events.New()
	}

	return &Runner{
		opts:     opts,
		deps:     deps,
		logger:   utils.GetLogger().Named("app"),
		requests: make(chan request),
		stopped:  make(chan struct{}),
		status:   Status{Device: opts.Device, CPU: opts.CPU},
	}
}

func (r *Runner) Hub() *preview.Hub {
	return r.deps.Hub
}

func (r *Runner) Metrics() *metrics.Metrics {
	return r.deps.Metrics
}

func (r *Runner) Bus() *events.Bus {
	return r.deps.Bus
}

// Run opens the device and processes frames until ctx is done, the frame
// limit is reached or a capture error occurs. Cancellation is a clean exit.
// The device is always torn down before Run returns. Run may only be called
// once.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer r.once.Do(func() { close(r.stopped) })
	// no more frames: end the preview streams
	defer r.deps.Hub.Close()

	c, err := camera.Open(r.opts.Device, r.opts.Width, r.opts.Height, r.opts.CameraOptions...)
	if err != nil {
		r.captureFailed(err)
		return err
	}
	defer func() {
		err = multierr.Append(err, c.Close())
		r.deps.Metrics.SetFormat(0, 0, 0)
		r.setRunning(false)
	}()

	f := c.Format()
	width, height := int(f.Width), int(f.Height)
	r.deps.Metrics.SetFormat(width, height, c.Buffers())
	r.lock.Lock()
	r.status.Width, r.status.Height = width, height
	r.status.PixelFormat = camera.FourCC(f.PixelFormat)
	r.status.Buffers = c.Buffers()
	r.status.FrameSize = humanize.Bytes(uint64(c.FrameSize()))
	r.status.Running = true
	r.status.StartedAt = time.Now()
	r.lock.Unlock()

	c.ApplyControls(r.opts.Settings)

	var rec *video.Builder
	if r.opts.Record.Enable {
		if rec, err = r.newRecorder(2*width, height); err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, rec.Close())
		}()
	}

	fr := newFramer(c, render.NewCompositor(width, height, r.opts.CPU), r.opts.Quality)
	for n := 0; r.opts.Frames == 0 || n < r.opts.Frames; n++ {
		if done := r.serve(ctx, c); done {
			r.logger.Info("capture loop stopped")
			return nil
		}

		start := time.Now()
		if err = c.CaptureFrame(); err != nil {
			r.captureFailed(err)
			return err
		}
		r.deps.Metrics.FrameCaptured(time.Since(start))

		start = time.Now()
		var jpeg []byte
		if jpeg, err = fr.next(); err != nil {
			return err
		}
		r.deps.Metrics.FrameRendered(time.Since(start))

		r.deps.Hub.Publish(jpeg)
		if rec != nil {
			if err = rec.Add(jpeg); err != nil {
				return fmt.Errorf("record frame: %w", err)
			}
			r.deps.Metrics.FrameRecorded()
		}

		r.lock.Lock()
		r.status.Frames++
		r.lock.Unlock()
		slot := c.LastSlot()
		events.Publish(r.deps.Bus, events.FrameEvent{
			Sequence:  slot.Sequence,
			Index:     int(slot.Index),
			Bytes:     len(jpeg),
			Timestamp: time.Now(),
		})
	}
	r.logger.Infof("captured %d frames", r.opts.Frames)

	return nil
}

// serve runs pending requests and reports whether ctx is done.
func (r *Runner) serve(ctx context.Context, c *camera.Capture) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case req := <-r.requests:
			req.done <- req.fn(c)
		default:
			return false
		}
	}
}

func (r *Runner) newRecorder(width, height int) (*video.Builder, error) {
	path := r.opts.Record.Path
	if path == "" {
		if r.deps.Store == nil {
			return nil, fmt.Errorf("record: no path and no storage dir")
		}
		path = r.deps.Store.NewVideoPath()
	}
	rec, err := video.NewBuilder(path, width, height, r.opts.Record.FPS)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	r.lock.Lock()
	r.status.Recording = path
	r.lock.Unlock()
	r.logger.Infof("recording to %s", path)

	return rec, nil
}

func (r *Runner) captureFailed(err error) {
	kind := "other"
	var e *camera.Error
	if errors.As(err, &e) {
		kind = e.Kind.String()
	}
	r.deps.Metrics.CaptureError(kind)
	events.Publish(r.deps.Bus, events.CaptureErrorEvent{
		Device:    r.opts.Device,
		Kind:      kind,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

func (r *Runner) setRunning(running bool) {
	r.lock.Lock()
	r.status.Running = running
	r.lock.Unlock()
}

func (r *Runner) Status() Status {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.status
}

// do hands fn to the capture loop and waits for its result.
func (r *Runner) do(ctx context.Context, fn func(c *camera.Capture) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case r.requests <- req:
	case <-r.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-req.done
}

func (r *Runner) Controls(ctx context.Context) ([]camera.ControlInfo, error) {
	var res []camera.ControlInfo
	err := r.do(ctx, func(c *camera.Capture) (err error) {
		res, err = c.Controls()
		return
	})

	return res, err
}

func (r *Runner) SetControl(ctx context.Context, id v4l2.CtrlID, value v4l2.CtrlValue) error {
	err := r.do(ctx, func(c *camera.Capture) error {
		return c.SetControl(id, value)
	})
	ev := events.ControlEvent{ID: uint32(id), Value: int32(value), Timestamp: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	events.Publish(r.deps.Bus, ev)

	return err
}

// ApplySettings sets every control, logging the ones that fail.
func (r *Runner) ApplySettings(ctx context.Context, settings types.CameraSettings) error {
	return r.do(ctx, func(c *camera.Capture) error {
		c.ApplyControls(settings)
		return nil
	})
}

// Snapshot saves the latest rendered frame to the store.
func (r *Runner) Snapshot() (string, error) {
	if r.deps.Store == nil {
		return "", ErrNoStorage
	}
	frame, ok := r.deps.Hub.Latest()
	if !ok {
		return "", ErrNoPreview
	}
	name, err := r.deps.Store.SaveImage(frame)
	if err != nil {
		return "", err
	}
	r.deps.Metrics.SnapshotSaved()
	events.Publish(r.deps.Bus, events.SnapshotEvent{
		Name:      name,
		Size:      humanize.Bytes(uint64(len(frame))),
		Timestamp: time.Now(),
	})
	r.logger.Infof("snapshot %s", name)

	return name, nil
}

// framer turns the current capture buffer into an encoded composite.
type framer struct {
	c       *camera.Capture
	comp    *render.Compositor
	quality int

	format  v4l2.PixFormat
	scratch []byte
	buf     bytes.Buffer
}

func newFramer(c *camera.Capture, comp *render.Compositor, quality int) *framer {
	fr := &framer{c: c, comp: comp, quality: quality, format: c.Format()}
	if fr.format.PixelFormat == v4l2.PixelFmtYUYV {
		fr.scratch = make([]byte, int(fr.format.Width)*int(fr.format.Height)*3)
	}
	return fr
}

func (fr *framer) next() ([]byte, error) {
	frame, err := fr.c.CurrentFrame()
	if err != nil {
		return nil, err
	}
	w, h := int(fr.format.Width), int(fr.format.Height)

	var tex *rgb.RGB
	if fr.scratch != nil {
		if len(frame) < (h-1)*fr.c.Stride()+w*2 {
			return nil, fmt.Errorf("short YUYV frame of %d bytes", len(frame))
		}
		image.YUYVToRGB(frame, w, h, fr.c.Stride(), fr.scratch)
		tex = rgb.NewRGB(fr.scratch, w, h, 0)
	} else {
		tex = rgb.NewRGB(frame, w, h, fr.c.Stride())
	}

	img, err := fr.comp.Render(tex)
	if err != nil {
		return nil, err
	}

	return image.JPEGBytes(img, &fr.buf, fr.quality)
}
