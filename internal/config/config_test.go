package config

import "testing"

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"WEBTRACK_PORT", "WEBTRACK_FPS", "WEBTRACK_CAMERA", "WEBTRACK_WIDTH", "WEBTRACK_HEIGHT", "LOG_LEVEL", "WEBTRACK_STATIC"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.FPS != DefaultFPS || cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("defaults: %+v", cfg)
	}
	if cfg.CameraID != "" || cfg.LogLevel != "info" || cfg.StaticDir != "./web" {
		t.Errorf("defaults: %+v", cfg)
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(Config) bool
	}{
		{
			name:  "overrides",
			env:   map[string]string{"WEBTRACK_PORT": "9000", "WEBTRACK_FPS": "15", "WEBTRACK_CAMERA": "video1"},
			check: func(c Config) bool { return c.Port == "9000" && c.FPS == 15 && c.CameraID == "video1" },
		},
		{
			name:  "size",
			env:   map[string]string{"WEBTRACK_WIDTH": "1280", "WEBTRACK_HEIGHT": "720"},
			check: func(c Config) bool { return c.Width == 1280 && c.Height == 720 },
		},
		{name: "bad fps", env: map[string]string{"WEBTRACK_FPS": "fast"}, wantErr: true},
		{name: "zero fps", env: map[string]string{"WEBTRACK_FPS": "0"}, wantErr: true},
		{name: "bad width", env: map[string]string{"WEBTRACK_WIDTH": "wide"}, wantErr: true},
		{name: "negative height", env: map[string]string{"WEBTRACK_HEIGHT": "-1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"WEBTRACK_PORT", "WEBTRACK_FPS", "WEBTRACK_CAMERA", "WEBTRACK_WIDTH", "WEBTRACK_HEIGHT"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := FromEnv()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromEnv: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("unexpected config %+v", cfg)
			}
		})
	}
}
