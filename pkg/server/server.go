// Package server is the HTTP surface of the preview: MJPEG stream,
// snapshots, status, device controls and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"shader-cam/pkg/app"
	"shader-cam/pkg/camera"
	"shader-cam/pkg/events"
	"shader-cam/pkg/ov"
	"shader-cam/pkg/preview"
	"shader-cam/pkg/storage"
	"shader-cam/pkg/utils"
	"shader-cam/pkg/utils/ps"
)

// Device is the capture loop as seen by the API.
type Device interface {
	Status() app.Status
	Controls(ctx context.Context) ([]camera.ControlInfo, error)
	SetControl(ctx context.Context, id v4l2.CtrlID, value v4l2.CtrlValue) error
	Snapshot() (string, error)
}

type Server struct {
	dev     Device
	hub     *preview.Hub
	bus     *events.Bus
	store   *storage.Storage
	metrics http.Handler

	logger *zap.SugaredLogger
}

// New builds the server. store, bus and metrics may be nil, their routes
// then answer 404.
func New(dev Device, hub *preview.Hub, bus *events.Bus, store *storage.Storage, metrics http.Handler) *Server {
	return &Server{
		dev:     dev,
		hub:     hub,
		bus:     bus,
		store:   store,
		metrics: metrics,
		logger:  utils.GetLogger().Named("server"),
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("/realtime/video", s.realtimeVideo)
	deviceRouter.GET("/snapshot", s.latestFrame)
	deviceRouter.POST("/snapshot", s.saveSnapshot)
	deviceRouter.GET("/status", s.status)
	deviceRouter.GET("/controls", s.listControls)
	deviceRouter.PUT("/controls", s.updateControl)

	if s.store != nil {
		imageRouter := apiRouter.Group("/images")
		imageRouter.GET("", s.listImages)
		imageRouter.GET("/latest", s.latestImage)
		imageRouter.GET("/:name", s.getImage)
	}
	if s.bus != nil {
		apiRouter.GET("/events", s.streamEvents)
	}
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	return r
}

func (s *Server) realtimeVideo(c *gin.Context) {
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	c.Status(http.StatusOK)
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				_ = mimeWriter.Close()
				return
			}
			partWriter, err := mimeWriter.CreatePart(partHeader)
			if err != nil {
				s.logger.Warnf("failed to create multi-part writer: %s", err)
				return
			}
			if _, err = partWriter.Write(frame); err != nil {
				s.logger.Debugf("failed to write image: %s", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

func (s *Server) latestFrame(c *gin.Context) {
	frame, ok := s.hub.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(app.ErrNoPreview.Error()))
		return
	}

	c.Data(http.StatusOK, "image/jpeg", frame)
}

func (s *Server) saveSnapshot(c *gin.Context) {
	name, err := s.dev.Snapshot()
	switch {
	case errors.Is(err, app.ErrNoPreview), errors.Is(err, app.ErrNoStorage):
		c.JSON(http.StatusConflict, jsend.SimpleErr(err.Error()))
		return
	case err != nil:
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ov.Snapshot{Name: name}))
}

func (s *Server) status(c *gin.Context) {
	res := statusResponse{
		Device:      s.dev.Status(),
		Subscribers: s.hub.Len(),
	}
	if c.Query("usage") != "false" {
		res.Usage = s.usage()
	}

	c.JSON(http.StatusOK, jsend.Success(res))
}

type statusResponse struct {
	Device      app.Status `json:"device"`
	Subscribers int        `json:"subscribers"`
	Usage       *ov.Usage  `json:"usage,omitempty"`
}

func (s *Server) usage() *ov.Usage {
	u := &ov.Usage{}
	if cpu, err := ps.CPUStatus(); err == nil {
		u.CPUPercent = cpu.Percent
	}
	if m, err := ps.MemoryStatus(); err == nil {
		u.MemoryUsed = humanize.Bytes(m.Used)
		u.MemoryTotal = humanize.Bytes(m.Total)
	}
	if s.store != nil {
		if d, err := ps.DiskUsage(s.store.Dir()); err == nil {
			u.DiskFree = humanize.Bytes(d.Free)
			u.DiskTotal = humanize.Bytes(d.Total)
		}
	}

	return u
}

func (s *Server) listControls(c *gin.Context) {
	ctrls, err := s.dev.Controls(c.Request.Context())
	if err != nil {
		deviceErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(ctrls))
}

func (s *Server) updateControl(c *gin.Context) {
	var req ov.UpdateControl
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err := s.dev.SetControl(c.Request.Context(), req.ID, req.Value); err != nil {
		deviceErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(req))
}

func (s *Server) listImages(c *gin.Context) {
	files, err := s.store.ListImages()
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

func (s *Server) latestImage(c *gin.Context) {
	name, err := s.store.LatestImageName()
	if errors.Is(err, storage.ErrNoImage) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}

	c.JSON(http.StatusOK, jsend.Success(name))
}

func (s *Server) getImage(c *gin.Context) {
	data, err := s.store.GetImage(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// streamEvents relays bus events as server-sent events.
func (s *Server) streamEvents(c *gin.Context) {
	ch := make(chan events.Event, 16)
	send := func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	}
	defer events.Subscribe(s.bus, func(e events.FrameEvent) { send(e) })()
	defer events.Subscribe(s.bus, func(e events.CaptureErrorEvent) { send(e) })()
	defer events.Subscribe(s.bus, func(e events.SnapshotEvent) { send(e) })()
	defer events.Subscribe(s.bus, func(e events.ControlEvent) { send(e) })()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case e := <-ch:
			c.SSEvent(eventName(e), e)
			return true
		}
	})
}

func eventName(e events.Event) string {
	switch e.(type) {
	case events.FrameEvent:
		return "frame"
	case events.CaptureErrorEvent:
		return "capture-error"
	case events.SnapshotEvent:
		return "snapshot"
	case events.ControlEvent:
		return "control"
	default:
		return "message"
	}
}

func deviceErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, camera.ErrNoControls):
		c.JSON(http.StatusNotImplemented, jsend.SimpleErr(err.Error()))
	case errors.Is(err, app.ErrNotRunning), errors.Is(err, context.Canceled):
		c.JSON(http.StatusServiceUnavailable, jsend.SimpleErr(err.Error()))
	case camera.IsKind(err, camera.KindIoctl):
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
	default:
		internalErr(c, err)
	}
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
