package app

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"

	"shader-cam/pkg/camera"
	"shader-cam/pkg/camera/cameratest"
	"shader-cam/pkg/events"
	"shader-cam/pkg/storage"
	"shader-cam/pkg/types"
)

func newRunner(drv *cameratest.Driver, opts Options, deps Deps) *Runner {
	opts.Device = "/dev/video-test"
	if opts.Width == 0 {
		opts.Width, opts.Height = 32, 24
	}
	opts.CameraOptions = []camera.Option{camera.WithDriver(drv), camera.WithTimeout(10 * time.Millisecond)}
	return New(opts, deps)
}

func TestRunFrames(t *testing.T) {
	drv := cameratest.New()
	drv.GrantWidth, drv.GrantHeight = 16, 12
	r := newRunner(drv, Options{Frames: 3}, Deps{})

	frames := make(chan events.FrameEvent, 8)
	defer events.Subscribe(r.Bus(), func(e events.FrameEvent) { frames <- e })()

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := r.Status()
	if st.Frames != 3 || st.Running || st.Width != 16 || st.Height != 12 || st.Buffers != 2 {
		t.Errorf("status = %+v", st)
	}
	if len(drv.Dequeued) != 3 {
		t.Errorf("dequeued %v, want 3 frames", drv.Dequeued)
	}
	if drv.Closes != 1 || drv.Mapped() != 0 {
		t.Errorf("closes = %d, mapped = %d after Run", drv.Closes, drv.Mapped())
	}

	latest, ok := r.Hub().Latest()
	if !ok {
		t.Fatal("no frame published")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(latest))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 32 || cfg.Height != 12 {
		t.Errorf("composite is %dx%d, want 32x12", cfg.Width, cfg.Height)
	}

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Error("no frame event")
	}
}

func TestRunEndsPreviewStreams(t *testing.T) {
	drv := cameratest.New()
	r := newRunner(drv, Options{Frames: 2}, Deps{})
	sub := r.Hub().Subscribe()

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				if n := r.Hub().Len(); n != 0 {
					t.Errorf("%d subscribers left", n)
				}
				return
			}
		case <-deadline:
			t.Fatal("preview stream still open after Run")
		}
	}
}

func TestRunTimeout(t *testing.T) {
	drv := cameratest.New()
	drv.NeverReady = true
	r := newRunner(drv, Options{}, Deps{})

	errs := make(chan events.CaptureErrorEvent, 1)
	defer events.Subscribe(r.Bus(), func(e events.CaptureErrorEvent) { errs <- e })()

	err := r.Run(context.Background())
	if !errors.Is(err, camera.ErrTimeout) {
		t.Fatalf("Run() = %v, want ErrTimeout", err)
	}
	if drv.Closes != 1 || drv.Unmaps != 2 {
		t.Errorf("closes = %d, unmaps = %d", drv.Closes, drv.Unmaps)
	}
	select {
	case e := <-errs:
		if e.Kind != "wait" {
			t.Errorf("error event kind %q, want wait", e.Kind)
		}
	case <-time.After(time.Second):
		t.Error("no error event")
	}
}

func TestRunOpenError(t *testing.T) {
	drv := cameratest.New()
	drv.Fail["open"] = os.ErrNotExist
	r := newRunner(drv, Options{}, Deps{})

	err := r.Run(context.Background())
	if !camera.IsKind(err, camera.KindOpen) {
		t.Fatalf("Run() = %v, want open error", err)
	}
	if _, err = r.Controls(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Controls() after Run = %v, want ErrNotRunning", err)
	}
}

func TestRunCancel(t *testing.T) {
	drv := cameratest.New()
	drv.Ctrls = []v4l2.Control{{ID: 1, Name: "Gain", Minimum: 0, Maximum: 10}}
	r := newRunner(drv, Options{Settings: types.CameraSettings{1: 4}}, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	ctrls, err := r.Controls(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctrls) != 1 || ctrls[0].Value != 4 {
		t.Errorf("Controls() = %+v, want the startup setting applied", ctrls)
	}
	if err = r.SetControl(ctx, 1, 7); err != nil {
		t.Fatal(err)
	}
	if err = r.SetControl(ctx, 1, 70); !errors.Is(err, camera.ErrNoControls) && !camera.IsKind(err, camera.KindIoctl) {
		t.Errorf("out of range SetControl() = %v", err)
	}
	if err = r.ApplySettings(ctx, types.CameraSettings{1: 2}); err != nil {
		t.Fatal(err)
	}
	ctrls, err = r.Controls(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ctrls[0].Value != 2 {
		t.Errorf("value %d, want 2", ctrls[0].Value)
	}

	cancel()
	select {
	case err = <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if drv.Closes != 1 {
		t.Errorf("closes = %d, want 1", drv.Closes)
	}
}

func TestRecordAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	drv := cameratest.New()
	r := newRunner(drv, Options{
		Frames: 4,
		CPU:    true,
		Record: types.RecordSetting{Enable: true, FPS: 10},
	}, Deps{Store: store})

	if _, err = r.Snapshot(); !errors.Is(err, ErrNoPreview) {
		t.Errorf("Snapshot() before any frame = %v, want ErrNoPreview", err)
	}
	if err = r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	videos, err := filepath.Glob(filepath.Join(dir, storage.DefaultVideosDir, "*.avi"))
	if err != nil || len(videos) != 1 {
		t.Fatalf("recordings %v, %v", videos, err)
	}
	if r.Status().Recording != videos[0] {
		t.Errorf("status recording %q, want %q", r.Status().Recording, videos[0])
	}

	name, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	data, err := store.GetImage(name)
	if err != nil {
		t.Fatal(err)
	}
	latest, _ := r.Hub().Latest()
	if !bytes.Equal(data, latest) {
		t.Error("snapshot differs from the latest preview frame")
	}
}

func TestSnapshotWithoutStore(t *testing.T) {
	r := newRunner(cameratest.New(), Options{}, Deps{})
	if _, err := r.Snapshot(); !errors.Is(err, ErrNoStorage) {
		t.Errorf("Snapshot() = %v, want ErrNoStorage", err)
	}
}

func TestRunYUYV(t *testing.T) {
	drv := cameratest.New()
	drv.GrantFormat = v4l2.PixelFmtYUYV
	r := newRunner(drv, Options{Frames: 1}, Deps{})

	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := r.Status(); st.PixelFormat != "YUYV" {
		t.Errorf("pixel format %q, want YUYV", st.PixelFormat)
	}
	if _, ok := r.Hub().Latest(); !ok {
		t.Error("no frame published")
	}
}
