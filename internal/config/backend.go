package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ConfigBackend abstracts where non-secret config is stored.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetDuration(key string) (val time.Duration, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetDuration(key string, val time.Duration) error
}

// configPathEnv points the service at a config file outside the XDG layout,
// e.g. one mounted into a container.
const configPathEnv = "NEXTMOVE_CONFIG"

// xdgDir resolves an XDG base directory for nextmove, falling back to
// ~/<home> and then to fallback when no home directory exists.
func xdgDir(env, home, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "nextmove")
	}
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, home, "nextmove")
	}
	return fallback
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"), "nextmove-data")
}

func configFilePath() string {
	if p := os.Getenv(configPathEnv); p != "" {
		return p
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config", "."), "config.json")
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

// fileBackend keeps config as one flat JSON object keyed by dotted names
// such as "calendar.work_start".
type fileBackend struct {
	path string
	data map[string]any
}

// newFileBackend loads path. A missing file is an empty config; an
// unreadable one is logged and treated the same way.
func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]any)}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	default:
		if err := json.Unmarshal(raw, &b.data); err != nil {
			slog.Warn("config file is not valid JSON, using defaults", "path", path, "error", err)
			b.data = make(map[string]any)
		}
	}
	return b
}

func (b *fileBackend) write(key string, val any) error {
	b.data[key] = val
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, out, 0o600)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

// GetInt accepts JSON numbers and numeric strings, so hand-edited files with
// "pending_action_cap": "12" still load.
func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %v is not an integer", key, val)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unsupported value type %T", key, v)
	}
}

// GetDuration accepts Go duration strings ("10s", "1m30s") or a bare number
// of seconds.
func (b *fileBackend) GetDuration(key string) (time.Duration, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		return time.Duration(val * float64(time.Second)), true, nil
	case string:
		if val == "" {
			return 0, false, nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return d, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unsupported value type %T", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error { return b.write(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.write(key, val) }

func (b *fileBackend) SetDuration(key string, val time.Duration) error {
	return b.write(key, val.String())
}
