package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit is one fixed-window policy as written in YAML.
type RateLimit struct {
	Window   string `yaml:"window"`
	Max      int    `yaml:"max"`
	BlockFor string `yaml:"block_for"`
}

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	RateLimit struct {
		User RateLimit `yaml:"user"`
		IP   RateLimit `yaml:"ip"`
	} `yaml:"rate_limit"`
	Timing struct {
		MinElapsed string `yaml:"min_elapsed"`
	} `yaml:"timing"`
	Anomaly struct {
		SuspiciousScore int `yaml:"suspicious_score"`
		ConclusiveScore int `yaml:"conclusive_score"`
		LatencySamples  int `yaml:"latency_samples"`
	} `yaml:"anomaly"`
	Suspension struct {
		FlagAfter    int    `yaml:"flag_after"`
		SuspendAfter int    `yaml:"suspend_after"`
		Window       string `yaml:"window"`
		Cooldown     string `yaml:"cooldown"`
	} `yaml:"suspension"`
	Leaderboard struct {
		Timezone          string `yaml:"timezone"`
		ReconcileInterval string `yaml:"reconcile_interval"`
		ReconcileLookback string `yaml:"reconcile_lookback"`
	} `yaml:"leaderboard"`
	Challenge struct {
		Secret string `yaml:"secret"`
		TTL    string `yaml:"ttl"`
	} `yaml:"challenge"`
	DedupeWindow    string `yaml:"dedupe_window"`
	AccountCacheTTL string `yaml:"account_cache_ttl"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr returns v, or fallback when v is not positive.
func IntOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Location resolves the leaderboard day boundary zone, UTC when unset or unknown.
func (c Config) Location() *time.Location {
	if c.Leaderboard.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Leaderboard.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
