package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/cogsidecar/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cogsidecar"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# cogsidecar configuration
# Run: cogsidecard --help

# Optional: override the SQLite database location.
# Can also be set via COGSIDECAR_DB_PATH or --db-path.
# db_path: ~/.config/cogsidecar/cogsidecar.db

# Poll/heartbeat/compactor-check intervals, in seconds.
# poll_interval_seconds: 2
# heartbeat_interval_seconds: 30
# compactor_check_interval_seconds: 30

# Sliding window size, in user/assistant-summary pairs.
# window_pairs: 5

# Retrieval result freshness window, in seconds.
# retrieval_ttl_seconds: 60
`
