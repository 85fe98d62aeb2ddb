// Package settings persists user preferences between runs.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// UserSettings holds persistable user preferences
type UserSettings struct {
	Nickname     string `json:"nickname"`
	RelayURL     string `json:"relayUrl"`
	TURNServer   string `json:"turnServer"`
	TURNUsername string `json:"turnUsername"`
	TURNPassword string `json:"turnPassword"`
	ForceRelay   bool   `json:"forceRelay"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		Nickname: "Anonymous",
	}
}

// getConfigPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the platform config dir.
func getConfigPath() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "turtlesoup")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "turtlesoup")
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads settings from the config file.
// Returns default settings if file doesn't exist or is invalid.
func Load() (UserSettings, error) {
	settings := DefaultSettings()

	path, err := getConfigPath()
	if err != nil {
		return settings, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	// Parse JSON, keeping defaults for missing fields
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), nil
	}

	return settings, nil
}

// Save writes settings to the config file
func Save(settings UserSettings) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
