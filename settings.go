package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"labelstudio/labeling"
)

const (
	configDir    = "config"
	settingsFile = "settings.json"
)

var (
	settings      Settings
	settingsMutex sync.RWMutex
)

func defaultSettings() Settings {
	return Settings{
		Palette:           labeling.DefaultPalette(),
		DocumentFields:    append([]string(nil), labeling.DefaultDocumentFields...),
		TransactionFields: append([]string(nil), labeling.DefaultTransactionFields...),
		DefaultMode:       labeling.ModeDocument,
	}
}

// validate fills in missing values and rejects unusable ones.
func (s *Settings) validate() error {
	defaults := defaultSettings()
	if len(s.Palette) == 0 {
		s.Palette = defaults.Palette
	}
	if len(s.DocumentFields) == 0 {
		s.DocumentFields = defaults.DocumentFields
	}
	if len(s.TransactionFields) == 0 {
		s.TransactionFields = defaults.TransactionFields
	}
	if s.DefaultMode == "" {
		s.DefaultMode = defaults.DefaultMode
	}
	if _, err := labeling.ParseMode(string(s.DefaultMode)); err != nil {
		return fmt.Errorf("invalid default_mode: %w", err)
	}
	return nil
}

// adapter builds the extraction adapter that shares the configured palette.
func (s Settings) adapter() *labeling.Adapter {
	return labeling.NewAdapter(s.Palette, s.DocumentFields, s.TransactionFields)
}

// currentSettings returns a copy of the active settings.
func currentSettings() Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	out := settings
	out.Palette = make(labeling.Palette, len(settings.Palette))
	for k, v := range settings.Palette {
		out.Palette[k] = v
	}
	out.DocumentFields = append([]string(nil), settings.DocumentFields...)
	out.TransactionFields = append([]string(nil), settings.TransactionFields...)
	return out
}

// updateSettings validates and persists new settings.
func updateSettings(next Settings) error {
	if err := next.validate(); err != nil {
		return err
	}
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settings = next
	return saveSettingsLocked()
}

// saveSettingsLocked performs the actual saving without locking the mutex.
// This is to be called from functions that already hold the lock.
func saveSettingsLocked() error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, settingsFile), data, 0644)
}

// loadSettings loads the settings from settings.json, creating it with defaults if it doesn't exist or is corrupt.
func loadSettings() {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settingsPath := filepath.Join(configDir, settingsFile)
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("Settings file not found at %s, creating with default values.", settingsPath)
			settings = defaultSettings()
			if err := saveSettingsLocked(); err != nil {
				log.Fatalf("Failed to create default settings file: %v", err)
			}
		} else {
			log.Warnf("Failed to read settings file: %v. Loading default settings.", err)
			settings = defaultSettings()
		}
		return
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warnf("Failed to parse settings file, please check its format. Loading default settings. Error: %v", err)
		settings = defaultSettings()
		return
	}
	if err := loaded.validate(); err != nil {
		log.Warnf("Invalid settings file: %v. Loading default settings.", err)
		settings = defaultSettings()
		return
	}

	settings = loaded
	log.Info("Successfully loaded settings from settings.json")
}
