package settings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Opener resolves a settings file name to its content
type Opener interface {
	Open(name string) (io.ReadCloser, error)
}

// INIManager reads overlay files of [key]=value lines. Quoted values have
// their quotes removed; lines starting with ; or # are comments.
type INIManager struct {
	settings map[string]string
	fs       Opener
}

// NewINIManager creates a new INI overlay reading through fs
func NewINIManager(fs Opener) *INIManager {
	return &INIManager{
		settings: make(map[string]string),
		fs:       fs,
	}
}

// Load parses an INI file and merges it over the values read so far
func (m *INIManager) Load(filename string) error {
	log.Info("Loading INI file", "path", filename)

	reader, err := m.fs.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open INI file %s: %w", filename, err)
	}
	defer reader.Close()

	return m.parseINI(reader)
}

// GetString returns a string value, empty when missing
func (m *INIManager) GetString(key string) string {
	return m.settings[key]
}

// GetInt returns an integer value, -1 when missing or malformed
func (m *INIManager) GetInt(key string) int {
	if v, err := strconv.Atoi(m.GetString(key)); err == nil {
		return v
	}
	return -1
}

// GetFloat returns a float value, -1 when missing or malformed
func (m *INIManager) GetFloat(key string) float64 {
	if v, err := strconv.ParseFloat(m.GetString(key), 64); err == nil {
		return v
	}
	return -1.0
}

// GetBool treats any non-zero integer as true
func (m *INIManager) GetBool(key string) bool {
	if v, err := strconv.Atoi(m.GetString(key)); err == nil {
		return v != 0
	}
	return false
}

// SetInt sets an integer value
func (m *INIManager) SetInt(key string, value int) {
	m.settings[key] = strconv.Itoa(value)
	log.Debug("INI value set", "key", key, "value", value)
}

// GetAllSettings returns a copy of every value for debugging
func (m *INIManager) GetAllSettings() map[string]string {
	return maps.Clone(m.settings)
}

// ApplyTo overlays the known keys onto cfg. Unknown keys are ignored, a
// malformed value for a known key is an error and leaves that field alone.
func (m *INIManager) ApplyTo(cfg *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if raw, ok := m.settings[key]; ok {
			v, err := strconv.Atoi(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("[%s]: %w", key, err))
				return
			}
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) {
		if raw, ok := m.settings[key]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("[%s]: %w", key, err))
				return
			}
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if raw, ok := m.settings[key]; ok {
			v, err := parseDuration(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("[%s]: %w", key, err))
				return
			}
			*dst = v
		}
	}
	setString := func(key string, dst *string) {
		if raw, ok := m.settings[key]; ok {
			*dst = raw
		}
	}

	setInt("pool_capacity", &cfg.PoolCapacity)
	setInt("max_instances", &cfg.MaxInstances)
	setDuration("cooldown", &cfg.Cooldown)
	setDuration("cull_fade", &cfg.CullFade)
	setString("exhaustion_policy", &cfg.ExhaustionPolicy)
	setString("backend", &cfg.Backend)
	setInt("sample_rate", &cfg.SampleRate)
	setString("assets_path", &cfg.AssetsPath)
	setString("library_path", &cfg.LibraryPath)
	setFloat("player_volume", &cfg.PlayerVolume)
	setFloat("system_volume", &cfg.SystemVolume)
	setFloat("editor_volume", &cfg.EditorVolume)
	setString("log_level", &cfg.LogLevel)
	setInt("screen_width", &cfg.ScreenWidth)
	setInt("screen_height", &cfg.ScreenHeight)
	if _, ok := m.settings["muted"]; ok {
		cfg.Muted = m.GetBool("muted")
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations and bare integers as milliseconds
func parseDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func (m *INIManager) parseINI(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if err := m.parseLine(line); err != nil {
			log.Warn("Skipping INI line", "line", line, "err", err)
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading INI file: %w", err)
	}
	return nil
}

// parseLine parses [key]=value or [key]="value"
func (m *INIManager) parseLine(line string) error {
	if !strings.HasPrefix(line, "[") {
		return fmt.Errorf("line does not start with [")
	}

	closeBracketPos := strings.Index(line, "]")
	if closeBracketPos == -1 {
		return fmt.Errorf("missing closing bracket ]")
	}

	key := strings.TrimSpace(line[1:closeBracketPos])
	if key == "" {
		return fmt.Errorf("empty key")
	}

	remaining := line[closeBracketPos+1:]
	if !strings.HasPrefix(remaining, "=") {
		return fmt.Errorf("missing = after key")
	}

	value := remaining[1:]
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}

	m.settings[key] = value
	return nil
}
