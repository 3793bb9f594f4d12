package app

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBPath                         string `yaml:"db_path"`
	PollIntervalSeconds            int    `yaml:"poll_interval_seconds"`
	HeartbeatIntervalSeconds       int    `yaml:"heartbeat_interval_seconds"`
	CompactorCheckIntervalSeconds  int    `yaml:"compactor_check_interval_seconds"`
	WindowPairs                    int    `yaml:"window_pairs"`
	RetrievalTTLSeconds            int    `yaml:"retrieval_ttl_seconds"`
}

// SupervisorSettings are effective runtime values used by the supervisor's
// cron schedule and the components it governs.
type SupervisorSettings struct {
	PollIntervalSeconds           int `json:"poll_interval_seconds"`
	HeartbeatIntervalSeconds      int `json:"heartbeat_interval_seconds"`
	CompactorCheckIntervalSeconds int `json:"compactor_check_interval_seconds"`
	WindowPairs                   int `json:"window_pairs"`
	RetrievalTTLSeconds           int `json:"retrieval_ttl_seconds"`
}

const (
	defaultPollIntervalSeconds           = 2
	defaultHeartbeatIntervalSeconds      = 30
	defaultCompactorCheckIntervalSeconds = 30
	defaultWindowPairs                   = 5
	defaultRetrievalTTLSeconds            = 60
)

// EffectiveSupervisorSettings returns validated supervisor settings with
// defaults. Invalid or missing config values fall back to safe defaults.
func EffectiveSupervisorSettings() SupervisorSettings {
	cfg := SupervisorSettings{
		PollIntervalSeconds:           defaultPollIntervalSeconds,
		HeartbeatIntervalSeconds:      defaultHeartbeatIntervalSeconds,
		CompactorCheckIntervalSeconds: defaultCompactorCheckIntervalSeconds,
		WindowPairs:                   defaultWindowPairs,
		RetrievalTTLSeconds:           defaultRetrievalTTLSeconds,
	}

	s, err := LoadSettings()
	if err != nil {
		return cfg
	}

	if s.PollIntervalSeconds > 0 {
		cfg.PollIntervalSeconds = s.PollIntervalSeconds
	}
	if s.HeartbeatIntervalSeconds > 0 {
		cfg.HeartbeatIntervalSeconds = s.HeartbeatIntervalSeconds
	}
	if s.CompactorCheckIntervalSeconds > 0 {
		cfg.CompactorCheckIntervalSeconds = s.CompactorCheckIntervalSeconds
	}
	if s.WindowPairs > 0 {
		cfg.WindowPairs = s.WindowPairs
	}
	if s.RetrievalTTLSeconds > 0 {
		cfg.RetrievalTTLSeconds = s.RetrievalTTLSeconds
	}

	if cfg.PollIntervalSeconds > 300 {
		cfg.PollIntervalSeconds = 300
	}
	if cfg.WindowPairs > 50 {
		cfg.WindowPairs = 50
	}
	return cfg
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
// These globals are required by the sync.Once pattern and the RWMutex pattern; they cannot be avoided.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/cogsidecar/config.yaml
// 2) /etc/cogsidecar/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		// 1) User config (~/.config/cogsidecar/config.yaml)
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 2) /etc
		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "cogsidecar", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 3) Local ./config.yaml (lowest priority)
		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
