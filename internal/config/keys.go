package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NEXTMOVE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "NEXTMOVE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NEXTMOVE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "NEXTMOVE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "NEXTMOVE_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "calendar.timezone", typ: kString, env: "NEXTMOVE_CALENDAR_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Calendar.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.Timezone },
	},
	{
		key: "calendar.work_start", typ: kString, env: "NEXTMOVE_CALENDAR_WORK_START",
		apply:   func(cfg *Config, v any) { cfg.Calendar.WorkStart = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.WorkStart },
	},
	{
		key: "calendar.work_end", typ: kString, env: "NEXTMOVE_CALENDAR_WORK_END",
		apply:   func(cfg *Config, v any) { cfg.Calendar.WorkEnd = v.(string) },
		extract: func(cfg Config) any { return cfg.Calendar.WorkEnd },
	},
	{
		key: "calendar.fetch_timeout", typ: kDuration, env: "NEXTMOVE_CALENDAR_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Calendar.FetchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Calendar.FetchTimeout },
	},
	{
		key: "plan.pending_action_cap", typ: kInt, env: "NEXTMOVE_PLAN_PENDING_ACTION_CAP",
		apply:   func(cfg *Config, v any) { cfg.Plan.PendingActionCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Plan.PendingActionCap },
	},
	{
		key: "refresh.poll_interval", typ: kDuration, env: "NEXTMOVE_REFRESH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Refresh.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Refresh.PollInterval },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetDuration(s.key)
			if err != nil {
				slog.Warn("ignoring config value", "key", s.key, "error", err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("ignoring env override", "env", s.env, "value", raw, "error", err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				slog.Warn("ignoring env override", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
