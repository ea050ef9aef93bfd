package server

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"edgecam/internal/effect"
	"edgecam/internal/export"
	"edgecam/internal/logging"
)

// Config is the on-disk configuration. Every field is optional; missing
// fields keep DefaultConfig values.
type Config struct {
	Bind   string         `json:"bind"`
	Camera CameraConfig   `json:"camera"`
	Effect string         `json:"effect"`
	Export ExportConfig   `json:"export"`
	Log    logging.Config `json:"log"`
}

// CameraConfig selects the frame source. An empty URL selects the
// synthetic test pattern.
type CameraConfig struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

// ExportConfig controls the periodic JPEG export.
type ExportConfig struct {
	Path     string `json:"path"`
	Schedule string `json:"schedule"`
	export.EncodeConfig
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	return Config{
		Bind: ":3001",
		Camera: CameraConfig{
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Effect: effect.Normal.String(),
		Export: ExportConfig{
			Path:         "processed_frame.jpg",
			Schedule:     "@every 2s",
			EncodeConfig: export.EncodeConfig{Quality: 85},
		},
		Log: logging.Config{Level: "info"},
	}
}

// LoadConfig reads path over DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return errors.New("config: bind address is empty")
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return errors.Errorf("config: camera size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if (c.Camera.Width == 0) != (c.Camera.Height == 0) {
		return errors.New("config: camera width and height must both be set or both be zero")
	}
	if c.Camera.FPS < 0 {
		return errors.Errorf("config: camera fps %d", c.Camera.FPS)
	}
	if _, err := effect.Parse(c.Effect); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.Export.Path != "" {
		if _, err := cron.ParseStandard(c.Export.Schedule); err != nil {
			return errors.Wrapf(err, "config: export schedule %q", c.Export.Schedule)
		}
	}
	if c.Export.Quality < 0 || c.Export.Quality > 100 {
		return errors.Errorf("config: export quality %d", c.Export.Quality)
	}
	return nil
}
