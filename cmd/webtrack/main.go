// Webtrack - ArUco marker and Charuco calibration tracker for a webcam
//
// Captures the selected camera, detects markers at a capped frame rate and
// serves the annotated stream and controls on a web dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"github.com/teslashibe/go-webtrack/internal/config"
	"github.com/teslashibe/go-webtrack/internal/log"
	"github.com/teslashibe/go-webtrack/pkg/calibration"
	"github.com/teslashibe/go-webtrack/pkg/camera"
	"github.com/teslashibe/go-webtrack/pkg/render"
	"github.com/teslashibe/go-webtrack/pkg/tracker"
	"github.com/teslashibe/go-webtrack/pkg/vision"
	"github.com/teslashibe/go-webtrack/pkg/vision/opencv"
	"github.com/teslashibe/go-webtrack/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.L().Error("webtrack stopped", "error", err)
		os.Exit(1)
	}
}

// parseFlags reads the environment, then lets flags override it.
func parseFlags() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}

	port := flag.String("port", cfg.Port, "Dashboard port (WEBTRACK_PORT)")
	fps := flag.Float64("fps", cfg.FPS, "Processing frame rate (WEBTRACK_FPS)")
	cam := flag.String("camera", cfg.CameraID, "Camera device id, empty for the first device (WEBTRACK_CAMERA)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	static := flag.String("static", cfg.StaticDir, "Dashboard asset directory")
	flag.Parse()

	if *fps <= 0 {
		return cfg, fmt.Errorf("fps must be positive, got %v", *fps)
	}
	cfg.Port, cfg.FPS, cfg.CameraID, cfg.StaticDir = *port, *fps, *cam, *static
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) (err error) {
	logger := log.L()

	lib := opencv.New(opencv.WithLogger(logger))
	defer func() { err = multierr.Append(err, lib.Close()) }()

	camCfg := camera.DefaultConfig()
	camCfg.Width, camCfg.Height = cfg.Width, cfg.Height
	camCfg.Framerate = camera.FramerateFor(cfg.FPS)
	manager := camera.NewManager(camCfg)

	cams := camera.NewAdapter(camera.NewMediaDevices(), manager, camera.WithLogger(logger))
	defer func() { err = multierr.Append(err, cams.Close()) }()

	session := calibration.NewSession(
		calibration.NewLibrarySolver(lib, vision.DefaultCharucoBoard()),
		calibration.WithLogger(logger),
		calibration.WithImageSize(image.Pt(cfg.Width, cfg.Height)),
	)
	trk, err := tracker.New(session, tracker.DefaultSettings(), tracker.WithLogger(logger))
	if err != nil {
		return err
	}

	// The server is the loop's surface and the loop is the server's
	// control, so the surface is bound after both exist.
	surface := &lateSurface{}
	loop := render.New(lib, cams, surface,
		render.WithSize(cfg.Width, cfg.Height),
		render.WithFrameRate(cfg.FPS),
		render.WithLogger(logger),
	)
	// Deferred before the server shutdown so it runs after it: the
	// dashboard can no longer restart the loop, and no tick is using lib
	// or cams once they close.
	defer loop.StopAndWait()

	server := web.NewServer(cfg.Port, trk, cams, loop, manager,
		web.WithLogger(logger),
		web.WithStaticDir(cfg.StaticDir),
	)
	surface.Surface = server

	fatal := make(chan error, 1)
	loop.OnFrame(func(lib vision.Library, src, dst *image.RGBA) error {
		if err := trk.ProcessFrame(lib, src, dst); err != nil {
			select {
			case fatal <- err:
			default:
			}
			return err
		}
		return nil
	})

	cams.OnResize(func(w, h int) {
		loop.Resize(w, h)
		session.SetImageSize(image.Pt(w, h))
	})
	manager.OnConfigChange = func(c camera.Config) error {
		if err := loop.SetFrameRate(float64(c.Framerate)); err != nil {
			return err
		}
		if !cams.Active() {
			return nil
		}
		return cams.Reopen(ctx)
	}

	trk.OnPoseCountChanged(func(n int) {
		logger.Debug("board poses", "count", n, "progress", calibration.Progress(n, trk.Settings().Calibrated()))
		server.BroadcastStatus()
	})
	trk.OnSettingsChanged(func(tracker.Settings) {
		server.BroadcastStatus()
	})

	server.StartAsync()
	defer func() { err = multierr.Append(err, server.Shutdown()) }()

	selectInitialCamera(ctx, cams, server, cfg.CameraID)
	if trk.Settings().Capturing {
		loop.Start()
	}
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-fatal:
		return fmt.Errorf("frame processing: %w", err)
	}
}

// selectInitialCamera opens the configured camera, or the first one found.
// Failures become dashboard alerts; the server keeps running so another
// device can be picked.
func selectInitialCamera(ctx context.Context, cams *camera.Adapter, server *web.Server, id string) {
	logger := log.With("component", "main")

	devices, err := cams.ListDevices()
	if err != nil {
		logger.Warn("device enumeration failed", "error", err)
	}
	if len(devices) == 0 {
		server.Alert(web.AlertNoDevices)
		return
	}
	if id == "" {
		id = devices[0].ID
	}

	if err := cams.SelectDevice(ctx, id); err != nil {
		if errors.Is(err, camera.ErrCameraUnavailable) {
			server.Alert(web.AlertCameraUnavailable)
			return
		}
		logger.Error("camera selection failed", "device", id, "error", err)
		return
	}
	server.AddLog("info", "camera selected: "+id)
}

// lateSurface forwards to a surface assigned after the loop is built.
type lateSurface struct {
	render.Surface
}

func (s *lateSurface) Present(img *image.RGBA) error {
	if s.Surface == nil {
		return errors.New("webtrack: no surface")
	}
	return s.Surface.Present(img)
}
