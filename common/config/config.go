package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

const (
	ConfigFile            = "configs/config.json"
	TemplatesDir          = "templates"
	DefaultWebPort   uint = 8501
	DefaultBackendURL     = "https://1601ccc832df.ngrok-free.app/"

	// Webcam frames are forwarded at most once per FrameInterval.
	DefaultFrameInterval = 300 * time.Millisecond
	DefaultFrameTimeout  = 5 * time.Second

	DefaultMaxUploadMB  = 200
	DefaultSessionTTL   = 30 * time.Minute
	DefaultSessionSweep = time.Minute

	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Duration is a time.Duration that reads "300ms" style strings or plain
// nanosecond numbers from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := cast.ToDurationE(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %s", string(b))
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config application configuration structure
type Config struct {
	BackendURL     string   `json:"backend_url"`
	WebPort        uint     `json:"web_port"`
	FrameInterval  Duration `json:"frame_interval"`  // minimum gap between forwarded webcam frames
	FrameTimeout   Duration `json:"frame_timeout"`   // timeout of a single /detect/frame call
	BackendTimeout Duration `json:"backend_timeout"` // 0 means image/video/youtube calls never time out
	MaxUploadMB    int64    `json:"max_upload_mb"`
	SessionTTL     Duration `json:"session_ttl"`
	SessionSweep   Duration `json:"session_sweep"`
	TempDir        string   `json:"temp_dir,omitempty"`
	LogFile        string   `json:"log_file,omitempty"`
	LogFormat      string   `json:"log_format"`
	DebugMode      bool     `json:"debug_mode"`

	// EnvRejected lists environment overrides that failed to parse.
	EnvRejected []string `json:"-"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		BackendURL:    DefaultBackendURL,
		WebPort:       DefaultWebPort,
		FrameInterval: Duration(DefaultFrameInterval),
		FrameTimeout:  Duration(DefaultFrameTimeout),
		MaxUploadMB:   DefaultMaxUploadMB,
		SessionTTL:    Duration(DefaultSessionTTL),
		SessionSweep:  Duration(DefaultSessionSweep),
		LogFormat:     LogFormatConsole,
	}
}

// LoadConfig loads configuration from file, creating it with defaults when it
// does not exist, and then applies environment overrides.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		if err := SaveConfig(config, filename); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	} else {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := json.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	config.EnvRejected = config.ApplyEnv(os.LookupEnv)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, filename string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create config directory")
		}
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// ApplyEnv overrides fields from environment variables. Values that do not
// parse are ignored and the previous value is kept; the rejected keys are
// returned so the caller can report them.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) []string {
	var rejected []string

	if v, ok := lookup("BACKEND_URL"); ok && v != "" {
		c.BackendURL = v
	}
	if v, ok := lookup("WEB_PORT"); ok && v != "" {
		if port, err := cast.ToUintE(v); err == nil && port > 0 && port < 65536 {
			c.WebPort = port
		} else {
			rejected = append(rejected, "WEB_PORT")
		}
	}
	if v, ok := lookup("DEBUG"); ok {
		c.DebugMode = v != "" && v != "0" && v != "false"
	}
	durations := []struct {
		key string
		dst *Duration
	}{
		{"FRAME_INTERVAL", &c.FrameInterval},
		{"FRAME_TIMEOUT", &c.FrameTimeout},
		{"BACKEND_TIMEOUT", &c.BackendTimeout},
		{"SESSION_TTL", &c.SessionTTL},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := cast.ToDurationE(v)
		if err != nil || parsed < 0 {
			rejected = append(rejected, d.key)
			continue
		}
		*d.dst = Duration(parsed)
	}
	if v, ok := lookup("LOG_FILE"); ok {
		c.LogFile = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}
	return rejected
}

// Validate checks values that would make the server misbehave.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("backend_url must not be empty")
	}
	if c.FrameInterval.Std() <= 0 {
		return errors.Errorf("frame_interval must be positive, got %v", c.FrameInterval.Std())
	}
	if c.FrameTimeout.Std() <= 0 {
		return errors.Errorf("frame_timeout must be positive, got %v", c.FrameTimeout.Std())
	}
	if c.MaxUploadMB <= 0 {
		return errors.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return errors.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// MaxUploadBytes is the request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
