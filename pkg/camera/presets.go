package camera

// Preset names for common webcam configurations.
const (
	PresetDefault = "default"
	PresetVGA     = "vga"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetPreview = "preview"
	PresetSmooth  = "smooth"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetVGA:     VGAConfig(),
		Preset720p:    HD720Config(),
		Preset1080p:   HD1080Config(),
		PresetPreview: PreviewConfig(),
		PresetSmooth:  SmoothConfig(),
	}
}

// PresetNames returns the preset names in display order.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetVGA,
		Preset720p,
		Preset1080p,
		PresetPreview,
		PresetSmooth,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// VGAConfig is 640x480, the resolution most webcams support.
func VGAConfig() Config {
	return DefaultConfig()
}

// HD720Config returns 720p. Calibration at this size gives noticeably
// better corner accuracy than VGA.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// HD1080Config returns 1080p at half output scale so the browser stream
// stays small.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	cfg.Scale = 50
	return cfg
}

// PreviewConfig keeps bandwidth low for remote viewing.
func PreviewConfig() Config {
	cfg := DefaultConfig()
	cfg.Quality = 60
	cfg.Scale = 50
	return cfg
}

// SmoothConfig asks for 60 FPS where the device allows it.
func SmoothConfig() Config {
	cfg := DefaultConfig()
	cfg.Framerate = 60
	return cfg
}
