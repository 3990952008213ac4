package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateDistress(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		return errors.New("paths.socket_path must be set")
	}
	return nil
}

func (c *Config) validateCapture() error {
	intervals := []struct {
		name  string
		value int
	}{
		{"capture.location_interval", c.Capture.LocationInterval},
		{"capture.photo_interval", c.Capture.PhotoInterval},
		{"capture.transcription_interval", c.Capture.TranscriptionInterval},
		{"capture.transcription_window", c.Capture.TranscriptionWindow},
		{"capture.device_timeout", c.Capture.DeviceTimeout},
	}
	for _, iv := range intervals {
		if iv.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", iv.name, iv.value)
		}
	}
	return nil
}

func (c *Config) validateDistress() error {
	if len(c.Distress.Keywords) == 0 {
		return errors.New("distress.keywords must contain at least one term")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if !c.Upload.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Upload.Bucket) == "" {
		return errors.New("upload.bucket must be set when upload.enabled is true")
	}
	if strings.TrimSpace(c.Upload.AccessKey) == "" || strings.TrimSpace(c.Upload.SecretKey) == "" {
		return errors.New("upload.access_key and upload.secret_key must be set when upload.enabled is true")
	}
	if c.Upload.RequestTimeout <= 0 {
		return errors.New("upload.request_timeout must be positive")
	}
	if c.Upload.PollInterval <= 0 {
		return errors.New("upload.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.StopDrainTimeout <= 0 {
		return errors.New("workflow.stop_drain_timeout must be positive")
	}
	if c.Workflow.SweepInterval <= 0 {
		return errors.New("workflow.sweep_interval must be positive")
	}
	if c.Workflow.CompressOlderThan < 0 {
		return errors.New("workflow.compress_older_than must not be negative")
	}
	return nil
}
