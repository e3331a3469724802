package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidConfig is returned when a config fails validation.
var ErrInvalidConfig = errors.New("camera: invalid config")

// Manager holds the current camera configuration and handles updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// OnConfigChange applies a new config, e.g. by reopening the stream.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager holding cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current camera configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates cfg, stores it and notifies OnConfigChange.
func (m *Manager) SetConfig(cfg Config) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("camera: apply config: %w", err)
		}
	}
	return nil
}

// UpdateConfig applies a partial update. A "preset" key replaces the whole
// config first; the remaining keys override single fields.
func (m *Manager) UpdateConfig(params map[string]any) error {
	cfg := m.GetConfig()

	if name, ok := params["preset"].(string); ok {
		preset := GetPreset(name)
		if preset == nil {
			return fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, name)
		}
		cfg = *preset
	}

	for key, value := range params {
		v, ok := toInt(value)
		if !ok {
			continue
		}
		switch key {
		case "width":
			cfg.Width = v
		case "height":
			cfg.Height = v
		case "framerate":
			cfg.Framerate = v
		case "quality":
			cfg.Quality = v
		case "scale":
			cfg.Scale = v
		}
	}

	return m.SetConfig(cfg)
}

// GetConfigJSON returns the current config as a generic map.
func (m *Manager) GetConfigJSON() map[string]any {
	data, _ := json.Marshal(m.GetConfig())
	var result map[string]any
	_ = json.Unmarshal(data, &result)
	return result
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
