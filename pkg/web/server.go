// Package web serves the tracker dashboard: a JSON control API, the
// processed camera stream over websocket, and status and alert feeds.
package web

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-webtrack/pkg/camera"
	"github.com/teslashibe/go-webtrack/pkg/hub"
	"github.com/teslashibe/go-webtrack/pkg/render"
	"github.com/teslashibe/go-webtrack/pkg/tracker"
)

// Alert messages shown to the user.
const (
	AlertCameraUnavailable = "That camera could not be started!"
	AlertNoDevices         = "No webcam devices found!"
)

// maxLogs bounds the alert and log history.
const maxLogs = 500

// TrackerControl is the tracker surface the dashboard drives.
type TrackerControl interface {
	Settings() tracker.Settings
	ApplySettings(s tracker.Settings)
	Status() tracker.Status
	CaptureBoardPose() bool
	Calibrate() error
	ClearBoardPoses()
	ResetCalibration()
	PoseCount() int
}

// CameraControl selects and lists devices.
type CameraControl interface {
	ListDevices() ([]camera.Device, error)
	SelectDevice(ctx context.Context, id string) error
	DeviceID() string
	Size() image.Point
}

// LoopControl starts and stops frame processing.
type LoopControl interface {
	Start()
	Stop()
	Running() bool
	SetFrameRate(fps float64) error
	FrameRate() float64
	Stats() render.Stats
}

// LogEntry is one line in the dashboard log feed.
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, alert, error
	Message string `json:"message"`
}

// Status is broadcast on /ws/status and returned by GET /api/status.
type Status struct {
	tracker.Status
	Running bool         `json:"running"`
	FPS     float64      `json:"fps"`
	Camera  string       `json:"camera"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Render  render.Stats `json:"render"`
	Viewers int          `json:"viewers"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStaticDir serves dashboard assets from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// Server is the dashboard server. It also implements render.Surface.
type Server struct {
	app       *fiber.App
	port      string
	staticDir string
	logger    *slog.Logger

	tracker TrackerControl
	cameras CameraControl
	loop    LoopControl
	config  *camera.Manager

	logs   []LogEntry
	logsMu sync.RWMutex

	frameMu   sync.RWMutex
	lastFrame []byte
	encodeBuf bytes.Buffer

	statusHub *hub.Hub
	logHub    *hub.Hub
	cameraHub *hub.Hub
}

// NewServer creates the dashboard server.
func NewServer(port string, t TrackerControl, cams CameraControl, loop LoopControl, cfg *camera.Manager, opts ...Option) *Server {
	s := &Server{
		port:      port,
		staticDir: "./web",
		logger:    slog.Default(),
		tracker:   t,
		cameras:   cams,
		loop:      loop,
		config:    cfg,
		logs:      make([]LogEntry, 0, maxLogs),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")

	hubLog := hub.WithLogger(s.logger)
	s.statusHub = hub.New("status", hubLog)
	s.logHub = hub.New("logs", hubLog)
	s.cameraHub = hub.New("camera", hubLog, hub.WithQueueSize(4))

	app := fiber.New(fiber.Config{
		AppName:               "webtrack",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())
	app.Static("/", s.staticDir)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handlePutSettings)
	api.Get("/cameras", s.handleListCameras)
	api.Post("/cameras/:id", s.handleSelectCamera)
	api.Get("/camera/config", s.handleGetCameraConfig)
	api.Put("/camera/config", s.handlePutCameraConfig)
	api.Post("/calibration/capture", s.handleCapture)
	api.Post("/calibration/calibrate", s.handleCalibrate)
	api.Delete("/calibration", s.handleClearCalibration)
	api.Post("/render/start", s.handleRenderStart)
	api.Post("/render/stop", s.handleRenderStop)
	api.Put("/render/fps", s.handleSetFrameRate)
	api.Get("/frame", s.handleFrame)
	api.Get("/logs", s.handleGetLogs)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and blocks serving HTTP.
func (s *Server) Start() error {
	s.startHubs()
	s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync runs Start in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

func (s *Server) startHubs() {
	go s.statusHub.Run()
	go s.logHub.Run()
	go s.cameraHub.Run()
}

// Shutdown stops the hubs and the HTTP server.
func (s *Server) Shutdown() error {
	s.statusHub.Stop()
	s.logHub.Stop()
	s.cameraHub.Stop()
	return s.app.Shutdown()
}

// Present encodes the processed frame at the configured output scale and
// quality and sends it to camera viewers.
func (s *Server) Present(img *image.RGBA) error {
	cfg := s.config.GetConfig()

	s.frameMu.Lock()
	data, err := s.encode(img, cfg)
	if err == nil {
		s.lastFrame = data
	}
	s.frameMu.Unlock()
	if err != nil {
		return err
	}

	if s.cameraHub.ClientCount() > 0 {
		s.cameraHub.BroadcastBinary(data)
	}
	return nil
}

// encode scales img by cfg.Scale and JPEG-encodes it into a fresh slice.
// Callers hold frameMu.
func (s *Server) encode(img *image.RGBA, cfg camera.Config) ([]byte, error) {
	var out image.Image = img
	if cfg.Scale > 0 && cfg.Scale < 100 {
		w := img.Bounds().Dx() * cfg.Scale / 100
		if w < 1 {
			w = 1
		}
		out = imaging.Resize(img, w, 0, imaging.Linear)
	}

	s.encodeBuf.Reset()
	if err := jpeg.Encode(&s.encodeBuf, out, &jpeg.Options{Quality: cfg.Quality}); err != nil {
		return nil, err
	}
	return bytes.Clone(s.encodeBuf.Bytes()), nil
}

// Status assembles the dashboard status.
func (s *Server) Status() Status {
	size := s.cameras.Size()
	return Status{
		Status:  s.tracker.Status(),
		Running: s.loop.Running(),
		FPS:     s.loop.FrameRate(),
		Camera:  s.cameras.DeviceID(),
		Width:   size.X,
		Height:  size.Y,
		Render:  s.loop.Stats(),
		Viewers: s.cameraHub.ClientCount(),
	}
}

// BroadcastStatus pushes the current status to status clients.
func (s *Server) BroadcastStatus() {
	if err := s.statusHub.BroadcastJSON(s.Status()); err != nil {
		s.logger.Warn("status broadcast failed", "error", err)
	}
}

// AddLog records a log entry and broadcasts it.
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	_ = s.logHub.BroadcastJSON(entry)
}

// Alert shows a user-visible message on the dashboard.
func (s *Server) Alert(message string) {
	s.logger.Warn("alert", "message", message)
	s.AddLog("alert", message)
}

// SetCapturing updates the capturing switch and starts or stops the loop.
func (s *Server) SetCapturing(on bool) {
	settings := s.tracker.Settings()
	settings.Capturing = on
	s.applySettings(settings)
}

// applySettings replaces the tracker settings and syncs the loop with the
// capturing switch.
func (s *Server) applySettings(settings tracker.Settings) {
	s.tracker.ApplySettings(settings)
	if settings.Capturing {
		s.loop.Start()
	} else {
		s.loop.Stop()
	}
	s.BroadcastStatus()
}
