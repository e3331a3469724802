package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-webtrack/pkg/calibration"
	"github.com/teslashibe/go-webtrack/pkg/camera"
	"github.com/teslashibe/go-webtrack/pkg/hub"
	"github.com/teslashibe/go-webtrack/pkg/render"
	"github.com/teslashibe/go-webtrack/pkg/tracker"
)

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// handleStatus returns the dashboard status.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(s.tracker.Settings())
}

// handlePutSettings replaces the settings snapshot wholesale.
func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	var settings tracker.Settings
	if err := c.BodyParser(&settings); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid settings: "+err.Error())
	}
	s.applySettings(settings)
	return c.JSON(s.tracker.Settings())
}

// CamerasResponse lists the devices and the active one.
type CamerasResponse struct {
	Devices  []camera.Device `json:"devices"`
	Selected string          `json:"selected"`
}

func (s *Server) handleListCameras(c *fiber.Ctx) error {
	devices, err := s.cameras.ListDevices()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	if devices == nil {
		devices = []camera.Device{}
	}
	return c.JSON(CamerasResponse{Devices: devices, Selected: s.cameras.DeviceID()})
}

// handleSelectCamera switches devices and turns capturing on.
func (s *Server) handleSelectCamera(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "default" {
		id = ""
	}

	if err := s.cameras.SelectDevice(c.UserContext(), id); err != nil {
		if errors.Is(err, camera.ErrCameraUnavailable) {
			s.Alert(AlertCameraUnavailable)
			return errorJSON(c, fiber.StatusServiceUnavailable, AlertCameraUnavailable)
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}

	s.AddLog("info", "camera selected: "+c.Params("id"))
	s.SetCapturing(true)
	return c.JSON(s.Status())
}

func (s *Server) handleGetCameraConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"config":       s.config.GetConfigJSON(),
		"capabilities": camera.Capabilities(),
	})
}

// handlePutCameraConfig applies a partial config or a preset.
func (s *Server) handlePutCameraConfig(c *fiber.Ctx) error {
	params := make(map[string]any)
	if err := c.BodyParser(&params); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid config: "+err.Error())
	}
	if err := s.config.UpdateConfig(params); err != nil {
		if errors.Is(err, camera.ErrInvalidConfig) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		if errors.Is(err, camera.ErrCameraUnavailable) {
			s.Alert(AlertCameraUnavailable)
			return errorJSON(c, fiber.StatusServiceUnavailable, AlertCameraUnavailable)
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(s.config.GetConfigJSON())
}

// handleCapture stores the board pose of the latest frame.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	if s.tracker.Settings().Calibrated() {
		return errorJSON(c, fiber.StatusConflict, "camera is already calibrated")
	}
	captured := s.tracker.CaptureBoardPose()
	s.BroadcastStatus()

	status := fiber.StatusOK
	if !captured {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{
		"captured":   captured,
		"pose_count": s.tracker.PoseCount(),
	})
}

// handleCalibrate runs the solve once enough board poses are captured.
func (s *Server) handleCalibrate(c *fiber.Ctx) error {
	if s.tracker.Settings().Calibrated() {
		return errorJSON(c, fiber.StatusConflict, "camera is already calibrated")
	}
	if n := s.tracker.PoseCount(); n < calibration.MinSamples {
		return errorJSON(c, fiber.StatusConflict, "capture more board poses: "+calibration.Progress(n, false))
	}

	err := s.tracker.Calibrate()
	s.BroadcastStatus()
	if err != nil {
		var se *calibration.SolveError
		if errors.As(err, &se) {
			s.Alert(se.Message())
			return errorJSON(c, fiber.StatusUnprocessableEntity, se.Message())
		}
		if errors.Is(err, calibration.ErrNoSamples) {
			return errorJSON(c, fiber.StatusConflict, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}

	s.AddLog("info", "camera calibrated")
	return c.JSON(s.tracker.Settings())
}

// handleClearCalibration drops captured poses; ?intrinsics=true also drops
// the calibration result.
func (s *Server) handleClearCalibration(c *fiber.Ctx) error {
	if c.QueryBool("intrinsics") {
		s.tracker.ResetCalibration()
	} else {
		s.tracker.ClearBoardPoses()
	}
	s.BroadcastStatus()
	return c.JSON(s.Status())
}

func (s *Server) handleRenderStart(c *fiber.Ctx) error {
	s.SetCapturing(true)
	return c.JSON(s.Status())
}

func (s *Server) handleRenderStop(c *fiber.Ctx) error {
	s.SetCapturing(false)
	return c.JSON(s.Status())
}

// FrameRateRequest is the body of PUT /api/render/fps.
type FrameRateRequest struct {
	FPS float64 `json:"fps"`
}

func (s *Server) handleSetFrameRate(c *fiber.Ctx) error {
	var req FrameRateRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if err := s.loop.SetFrameRate(req.FPS); err != nil {
		if errors.Is(err, render.ErrInvalidFrameRate) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	s.BroadcastStatus()
	return c.JSON(s.Status())
}

// handleFrame returns the last presented frame as JPEG.
func (s *Server) handleFrame(c *fiber.Ctx) error {
	s.frameMu.RLock()
	frame := s.lastFrame
	s.frameMu.RUnlock()
	if frame == nil {
		return errorJSON(c, fiber.StatusNotFound, "no frame presented yet")
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(frame)
}

func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleCameraWS streams presented frames.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.NewClient(s.cameraHub, c).Run()
}

// handleStatusWS sends the current status, then streams updates.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client := hub.NewClient(s.statusHub, c)
	if err := c.WriteJSON(s.Status()); err != nil {
		s.logger.Debug("initial status write failed", "error", err)
	}
	client.Run()
}

// handleLogsWS replays the log history, then streams new entries.
func (s *Server) handleLogsWS(c *websocket.Conn) {
	client := hub.NewClient(s.logHub, c)
	s.logsMu.RLock()
	history := append([]LogEntry(nil), s.logs...)
	s.logsMu.RUnlock()
	for _, entry := range history {
		if err := c.WriteJSON(entry); err != nil {
			break
		}
	}
	client.Run()
}
