package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "config.json")

	cfg, err := LoadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.BackendURL, test.ShouldEqual, DefaultBackendURL)
	test.That(t, cfg.FrameInterval.Std(), test.ShouldEqual, 300*time.Millisecond)
	test.That(t, cfg.FrameTimeout.Std(), test.ShouldEqual, 5*time.Second)
	test.That(t, cfg.BackendTimeout.Std(), test.ShouldEqual, time.Duration(0))

	_, err = os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(map[string]interface{}{
		"backend_url":    "http://detector:8000",
		"web_port":       9000,
		"frame_interval": "500ms",
		"log_format":     "json",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(path, data, 0644), test.ShouldBeNil)

	cfg, err := LoadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.BackendURL, test.ShouldEqual, "http://detector:8000")
	test.That(t, cfg.WebPort, test.ShouldEqual, uint(9000))
	test.That(t, cfg.FrameInterval.Std(), test.ShouldEqual, 500*time.Millisecond)
	test.That(t, cfg.LogFormat, test.ShouldEqual, LogFormatJSON)
	// untouched keys keep their defaults
	test.That(t, cfg.MaxUploadMB, test.ShouldEqual, int64(DefaultMaxUploadMB))
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	test.That(t, os.WriteFile(path, []byte(`{"frame_interval": "soon"}`), 0644), test.ShouldBeNil)

	_, err := LoadConfig(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	rejected := cfg.ApplyEnv(envMap(map[string]string{
		"BACKEND_URL":    "http://localhost:8000",
		"WEB_PORT":       "8080",
		"DEBUG":          "1",
		"FRAME_INTERVAL": "1s",
		"FRAME_TIMEOUT":  "soon",
		"LOG_FORMAT":     "json",
	}))

	test.That(t, rejected, test.ShouldResemble, []string{"FRAME_TIMEOUT"})
	test.That(t, cfg.BackendURL, test.ShouldEqual, "http://localhost:8000")
	test.That(t, cfg.WebPort, test.ShouldEqual, uint(8080))
	test.That(t, cfg.DebugMode, test.ShouldBeTrue)
	test.That(t, cfg.FrameInterval.Std(), test.ShouldEqual, time.Second)
	test.That(t, cfg.FrameTimeout.Std(), test.ShouldEqual, DefaultFrameTimeout)
	test.That(t, cfg.LogFormat, test.ShouldEqual, LogFormatJSON)
}

func TestApplyEnvBadPort(t *testing.T) {
	cfg := DefaultConfig()
	rejected := cfg.ApplyEnv(envMap(map[string]string{"WEB_PORT": "99999", "DEBUG": "false"}))
	test.That(t, rejected, test.ShouldResemble, []string{"WEB_PORT"})
	test.That(t, cfg.WebPort, test.ShouldEqual, DefaultWebPort)
	test.That(t, cfg.DebugMode, test.ShouldBeFalse)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	cfg.LogFormat = "xml"
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.FrameInterval = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.BackendURL = ""
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams("40", "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Confidence, test.ShouldAlmostEqual, 0.4)
	test.That(t, p.ConfString(), test.ShouldEqual, "0.4")
	test.That(t, p.Tracker, test.ShouldEqual, TrackerNone)

	p, err = ParseParams("100", "botsort")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.ConfString(), test.ShouldEqual, "1")
	test.That(t, p.Tracker, test.ShouldEqual, TrackerBoTSORT)

	p, err = ParseParams("", "bytetrack")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.ConfString(), test.ShouldEqual, "0.4")
	test.That(t, p.Tracker, test.ShouldEqual, TrackerByteTrack)

	_, err = ParseParams("24", "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseParams("101", "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseParams("abc", "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseParams("50", "deepsort")
	test.That(t, err, test.ShouldNotBeNil)
}
