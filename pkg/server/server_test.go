package server

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/vladimirvivien/go4vl/v4l2"
	"golang.org/x/sys/unix"

	"shader-cam/pkg/app"
	"shader-cam/pkg/camera"
	"shader-cam/pkg/events"
	"shader-cam/pkg/metrics"
	"shader-cam/pkg/preview"
	"shader-cam/pkg/storage"
	"shader-cam/pkg/utils"
)

type stubDevice struct {
	ctrls    []camera.ControlInfo
	setErr   error
	set      map[v4l2.CtrlID]v4l2.CtrlValue
	snapshot func() (string, error)
}

func (d *stubDevice) Status() app.Status {
	return app.Status{Device: "/dev/video-test", Width: 160, Height: 120, Frames: 5, Running: true}
}

func (d *stubDevice) Controls(context.Context) ([]camera.ControlInfo, error) {
	return d.ctrls, nil
}

func (d *stubDevice) SetControl(_ context.Context, id v4l2.CtrlID, value v4l2.CtrlValue) error {
	if d.setErr != nil {
		return d.setErr
	}
	d.set[id] = value
	return nil
}

func (d *stubDevice) Snapshot() (string, error) {
	return d.snapshot()
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, dev *stubDevice, hub *preview.Hub) (*Server, *storage.Storage) {
	t.Helper()
	store, err := storage.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if dev.set == nil {
		dev.set = map[v4l2.CtrlID]v4l2.CtrlValue{}
	}
	if dev.snapshot == nil {
		dev.snapshot = func() (string, error) {
			frame, ok := hub.Latest()
			if !ok {
				return "", app.ErrNoPreview
			}
			return store.SaveImage(frame)
		}
	}
	return New(dev, hub, nil, store, metrics.New().Handler()), store
}

func do(h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %s", rec.Body, err)
	}
	if env.Status != "success" {
		t.Fatalf("status %q in %s", env.Status, rec.Body)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSnapshot(t *testing.T) {
	hub := preview.NewHub(nil)
	s, store := newTestServer(t, &stubDevice{}, hub)
	r := s.Router()

	if rec := do(r, "GET", "/api/device/snapshot", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET snapshot without frame: %d", rec.Code)
	}
	if rec := do(r, "POST", "/api/device/snapshot", ""); rec.Code != http.StatusConflict {
		t.Errorf("POST snapshot without frame: %d", rec.Code)
	}

	hub.Publish([]byte("\xff\xd8jpeg"))
	rec := do(r, "GET", "/api/device/snapshot", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("GET snapshot: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "\xff\xd8jpeg" {
		t.Errorf("body %q", rec.Body)
	}

	rec = do(r, "POST", "/api/device/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST snapshot: %d %s", rec.Code, rec.Body)
	}
	var snap struct {
		Name string `json:"name"`
	}
	decode(t, rec, &snap)

	rec = do(r, "GET", "/api/images/"+snap.Name, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "\xff\xd8jpeg" {
		t.Errorf("GET image: %d %q", rec.Code, rec.Body)
	}
	files, err := store.ListImages()
	if err != nil || len(files) != 1 {
		t.Errorf("stored %v, %v", files, err)
	}
	rec = do(r, "GET", "/api/images/latest", "")
	var latest string
	decode(t, rec, &latest)
	if latest != snap.Name {
		t.Errorf("latest %q, want %q", latest, snap.Name)
	}
}

func TestStatus(t *testing.T) {
	hub := preview.NewHub(nil)
	s, _ := newTestServer(t, &stubDevice{}, hub)
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	rec := do(s.Router(), "GET", "/api/device/status?usage=false", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var st statusResponse
	decode(t, rec, &st)
	if st.Device.Width != 160 || st.Device.Frames != 5 || st.Subscribers != 1 || st.Usage != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestControls(t *testing.T) {
	dev := &stubDevice{ctrls: []camera.ControlInfo{{ID: 1, Name: "Gain", Maximum: 10}}}
	s, _ := newTestServer(t, dev, preview.NewHub(nil))
	r := s.Router()

	rec := do(r, "GET", "/api/device/controls", "")
	var ctrls []camera.ControlInfo
	decode(t, rec, &ctrls)
	if len(ctrls) != 1 || ctrls[0].Name != "Gain" {
		t.Errorf("controls = %+v", ctrls)
	}

	rec = do(r, "PUT", "/api/device/controls", `{"id": 1, "value": 3}`)
	if rec.Code != http.StatusOK || dev.set[1] != 3 {
		t.Errorf("PUT controls: %d %s, set %v", rec.Code, rec.Body, dev.set)
	}
	if rec = do(r, "PUT", "/api/device/controls", `{"value": 3}`); rec.Code != http.StatusBadRequest {
		t.Errorf("PUT without id: %d", rec.Code)
	}

	dev.setErr = &camera.Error{Kind: camera.KindIoctl, Op: "VIDIOC_S_CTRL(1)", Err: unix.ERANGE}
	if rec = do(r, "PUT", "/api/device/controls", `{"id": 1, "value": 99}`); rec.Code != http.StatusBadRequest {
		t.Errorf("PUT out of range: %d", rec.Code)
	}
	dev.setErr = app.ErrNotRunning
	if rec = do(r, "PUT", "/api/device/controls", `{"id": 1, "value": 1}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("PUT while stopped: %d", rec.Code)
	}
	dev.setErr = camera.ErrNoControls
	if rec = do(r, "PUT", "/api/device/controls", `{"id": 1, "value": 1}`); rec.Code != http.StatusNotImplemented {
		t.Errorf("PUT without controls: %d", rec.Code)
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	s, _ := newTestServer(t, &stubDevice{}, preview.NewHub(nil))
	r := s.Router()

	if rec := do(r, "GET", "/metrics", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "shader_cam_") {
		t.Errorf("metrics: %d", rec.Code)
	}
	if rec := do(r, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route: %d", rec.Code)
	}
}

func TestRealtimeVideo(t *testing.T) {
	hub := preview.NewHub(nil)
	s, _ := newTestServer(t, &stubDevice{}, hub)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	hub.Publish([]byte("frame-1"))
	resp, err := http.Get(srv.URL + "/api/device/realtime/video")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("content type %q: %v", resp.Header.Get("Content-Type"), err)
	}
	mr := multipart.NewReader(resp.Body, params["boundary"])

	// parts end at the next boundary, so read exactly the frame length
	readPart := func(want string) {
		t.Helper()
		part, err := mr.NextPart()
		if err != nil {
			t.Fatal(err)
		}
		if part.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("part type %q", part.Header.Get("Content-Type"))
		}
		buf := make([]byte, len(want))
		if _, err = io.ReadFull(part, buf); err != nil {
			t.Fatal(err)
		}
		if string(buf) != want {
			t.Errorf("part %q, want %q", buf, want)
		}
	}

	readPart("frame-1")
	hub.Publish([]byte("frame-2"))
	readPart("frame-2")
}

func TestShutdownEndsStreams(t *testing.T) {
	hub := preview.NewHub(nil)
	s, _ := newTestServer(t, &stubDevice{}, hub)
	s.bus = events.New()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- utils.ServeListener(ctx, s.Router(), ln)
	}()
	base := "http://" + ln.Addr().String()

	hub.Publish([]byte("frame-1"))
	video, err := http.Get(base + "/api/device/realtime/video")
	if err != nil {
		t.Fatal(err)
	}
	defer video.Body.Close()
	_, params, _ := mime.ParseMediaType(video.Header.Get("Content-Type"))
	mr := multipart.NewReader(video.Body, params["boundary"])
	if _, err = mr.NextPart(); err != nil {
		t.Fatal(err)
	}

	// the event stream sends its headers with the first event
	sse := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(base + "/api/events")
		if err != nil {
			close(sse)
			return
		}
		sse <- resp
	}()
	var resp *http.Response
	for resp == nil {
		select {
		case r, ok := <-sse:
			if !ok {
				t.Fatal("event stream request failed")
			}
			resp = r
		case <-time.After(10 * time.Millisecond):
			events.Publish(s.bus, events.FrameEvent{Sequence: 1})
		}
	}
	defer resp.Body.Close()

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop with open streams")
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("shutdown took %s", d)
	}
	if _, err = mr.NextPart(); err == nil {
		t.Error("video stream still open after shutdown")
	}
}
