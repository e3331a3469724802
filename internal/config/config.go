// Package config reads webtrack settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults used when the environment leaves a value unset.
const (
	DefaultPort   = "8080"
	DefaultFPS    = 30.0
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Config is the process configuration.
type Config struct {
	Port      string
	FPS       float64
	CameraID  string // empty selects the first device found
	Width     int
	Height    int
	LogLevel  string
	StaticDir string
}

// FromEnv reads WEBTRACK_* variables. Malformed numbers are an error rather
// than a silent fallback.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:      Getenv("WEBTRACK_PORT", DefaultPort),
		CameraID:  os.Getenv("WEBTRACK_CAMERA"),
		LogLevel:  Getenv("LOG_LEVEL", "info"),
		StaticDir: Getenv("WEBTRACK_STATIC", "./web"),
	}

	var err error
	if cfg.FPS, err = floatEnv("WEBTRACK_FPS", DefaultFPS); err != nil {
		return cfg, err
	}
	if cfg.Width, err = intEnv("WEBTRACK_WIDTH", DefaultWidth); err != nil {
		return cfg, err
	}
	if cfg.Height, err = intEnv("WEBTRACK_HEIGHT", DefaultHeight); err != nil {
		return cfg, err
	}

	if cfg.FPS <= 0 {
		return cfg, fmt.Errorf("config: WEBTRACK_FPS must be positive, got %v", cfg.FPS)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return cfg, fmt.Errorf("config: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	return cfg, nil
}

// Getenv returns the variable or def when unset.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
