package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Capture contains cadences and device commands for the evidence loops.
type Capture struct {
	LocationInterval      int `toml:"location_interval"`
	PhotoInterval         int `toml:"photo_interval"`
	TranscriptionInterval int `toml:"transcription_interval"`
	TranscriptionWindow   int `toml:"transcription_window"`
	DeviceTimeout         int `toml:"device_timeout"`

	LocationCommand   string `toml:"location_command"`
	CameraCommand     string `toml:"camera_command"`
	TranscribeCommand string `toml:"transcribe_command"`
	AudioCommand      string `toml:"audio_command"`
}

// Distress contains keyword matching configuration.
type Distress struct {
	Keywords []string `toml:"keywords"`
}

// Upload contains remote evidence storage configuration.
type Upload struct {
	Enabled          bool   `toml:"enabled"`
	Bucket           string `toml:"bucket"`
	Region           string `toml:"region"`
	Endpoint         string `toml:"endpoint"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	RequestTimeout   int    `toml:"request_timeout"`
	PollInterval     int    `toml:"poll_interval"`
	ConnectivityHost string `toml:"connectivity_host"`
}

// Auth contains identity validation configuration.
type Auth struct {
	TokenPath      string `toml:"token_path"`
	Secret         string `toml:"secret"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workflow contains daemon timing and storage-pressure settings.
type Workflow struct {
	StopDrainTimeout   int `toml:"stop_drain_timeout"`
	SweepInterval      int `toml:"sweep_interval"`
	CompressOlderThan  int `toml:"compress_older_than"`
	StorageLowMegabyte int `toml:"storage_low_mb"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for sentinel.
//
// Sections by subsystem:
//   - Paths: evidence/data directories and the control socket
//   - Capture: loop cadences and capture device commands
//   - Distress: transcript keyword set
//   - Upload: S3-compatible evidence upload target
//   - Auth: credential token location and verification secret
//   - Notifications: ntfy push notification settings
//   - Workflow: daemon timing, storage sweeps
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Capture       Capture       `toml:"capture"`
	Distress      Distress      `toml:"distress"`
	Upload        Upload        `toml:"upload"`
	Auth          Auth          `toml:"auth"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sentinel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sentinel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.EvidenceDir(), c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EvidenceDir returns the directory holding per-session evidence payloads.
func (c *Config) EvidenceDir() string {
	return filepath.Join(c.Paths.DataDir, "evidence")
}

// ArchiveDir returns the directory holding compressed session archives.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Paths.DataDir, "archive")
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return err
	}
	if c.Auth.TokenPath, err = expandPath(c.Auth.TokenPath); err != nil {
		return err
	}

	keywords := make([]string, 0, len(c.Distress.Keywords))
	for _, kw := range c.Distress.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	c.Distress.Keywords = keywords
	return nil
}
