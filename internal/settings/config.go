package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"zound-engine/internal/engine"
)

// EnvPrefix prefixes every environment override, e.g. ZOUND_POOL_CAPACITY
const EnvPrefix = "ZOUND"

// Config holds all engine configuration
type Config struct {
	PoolCapacity     int           `mapstructure:"pool_capacity"`
	MaxInstances     int           `mapstructure:"max_instances"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	CullFade         time.Duration `mapstructure:"cull_fade"`
	ExhaustionPolicy string        `mapstructure:"exhaustion_policy"`
	Seed             uint64        `mapstructure:"seed"`

	Backend     string   `mapstructure:"backend"`
	SampleRate  int      `mapstructure:"sample_rate"`
	AssetsPath  string   `mapstructure:"assets_path"`
	LibraryPath string   `mapstructure:"library_path"`
	Archives    []string `mapstructure:"archives"`

	PlayerVolume float64 `mapstructure:"player_volume"`
	SystemVolume float64 `mapstructure:"system_volume"`
	EditorVolume float64 `mapstructure:"editor_volume"`
	Muted        bool    `mapstructure:"muted"`

	LogLevel     string `mapstructure:"log_level"`
	ScreenWidth  int    `mapstructure:"screen_width"`
	ScreenHeight int    `mapstructure:"screen_height"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		PoolCapacity:     ec.PoolCapacity,
		MaxInstances:     ec.MaxInstances,
		Cooldown:         ec.Cooldown,
		CullFade:         ec.CullFade,
		ExhaustionPolicy: string(ec.Policy),
		Backend:          "ebiten",
		SampleRate:       44100,
		AssetsPath:       "./assets",
		LibraryPath:      "sounds.yaml",
		PlayerVolume:     ec.PlayerVolume,
		SystemVolume:     ec.SystemVolume,
		EditorVolume:     ec.EditorVolume,
		LogLevel:         "info",
		ScreenWidth:      800,
		ScreenHeight:     600,
	}
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.PoolCapacity < 1 {
		errs = append(errs, fmt.Errorf("pool_capacity must be at least 1, got %d", c.PoolCapacity))
	}
	if c.MaxInstances < 1 {
		errs = append(errs, fmt.Errorf("max_instances must be at least 1, got %d", c.MaxInstances))
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown))
	}
	if c.CullFade < 0 {
		errs = append(errs, fmt.Errorf("cull_fade must not be negative, got %s", c.CullFade))
	}
	switch engine.Policy(c.ExhaustionPolicy) {
	case engine.PolicyFail, engine.PolicyStealOldest:
	default:
		errs = append(errs, fmt.Errorf("unknown exhaustion_policy %q", c.ExhaustionPolicy))
	}
	switch c.Backend {
	case "ebiten", "oto", "null":
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// EngineConfig converts the settings into the engine's tunables
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		PoolCapacity: c.PoolCapacity,
		MaxInstances: c.MaxInstances,
		Cooldown:     c.Cooldown,
		CullFade:     c.CullFade,
		Policy:       engine.Policy(c.ExhaustionPolicy),
		Seed:         c.Seed,
		PlayerVolume: c.PlayerVolume,
		SystemVolume: c.SystemVolume,
		EditorVolume: c.EditorVolume,
		Muted:        c.Muted,
	}
}

// Manager handles configuration loading and saving
type Manager struct {
	config     *Config
	configPath string
	v          *viper.Viper
}

// NewManager creates a new configuration manager. An empty path loads
// defaults and environment overrides only.
func NewManager(configPath string) *Manager {
	return &Manager{
		config:     DefaultConfig(),
		configPath: configPath,
		v:          newViper(),
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

func setDefaults(v *viper.Viper, c *Config) {
	for key, value := range c.values() {
		v.SetDefault(key, value)
	}
}

// values lists every key with its value in file form
func (c *Config) values() map[string]any {
	return map[string]any{
		"pool_capacity":     c.PoolCapacity,
		"max_instances":     c.MaxInstances,
		"cooldown":          c.Cooldown.String(),
		"cull_fade":         c.CullFade.String(),
		"exhaustion_policy": c.ExhaustionPolicy,
		"seed":              c.Seed,
		"backend":           c.Backend,
		"sample_rate":       c.SampleRate,
		"assets_path":       c.AssetsPath,
		"library_path":      c.LibraryPath,
		"archives":          c.Archives,
		"player_volume":     c.PlayerVolume,
		"system_volume":     c.SystemVolume,
		"editor_volume":     c.EditorVolume,
		"muted":             c.Muted,
		"log_level":         c.LogLevel,
		"screen_width":      c.ScreenWidth,
		"screen_height":     c.ScreenHeight,
	}
}

// Load reads .env files, the config file and ZOUND_ environment overrides,
// in increasing priority
func (m *Manager) Load() error {
	loadDotEnv(".env")
	if m.configPath != "" {
		loadDotEnv(filepath.Join(filepath.Dir(m.configPath), ".env"))
	}

	if m.configPath != "" {
		if _, err := os.Stat(m.configPath); errors.Is(err, os.ErrNotExist) {
			log.Info("Config file not found, using defaults", "path", m.configPath)
		} else {
			m.v.SetConfigFile(m.configPath)
			if err := m.v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			log.Info("Loaded configuration", "path", m.configPath)
		}
	}

	cfg := DefaultConfig()
	if err := m.v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	m.config = cfg
	return nil
}

// loadDotEnv exports the variables of an env file without overriding ones
// already set
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn("Failed to load env file", "path", path, "err", err)
		return
	}
	log.Debug("Loaded env file", "path", path)
}

// Save writes the current configuration to the config path
func (m *Manager) Save() error {
	if m.configPath == "" {
		return errors.New("no config path to save to")
	}
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := viper.New()
	for key, value := range m.config.values() {
		out.Set(key, value)
	}
	if err := out.WriteConfigAs(m.configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info("Saved configuration", "path", m.configPath)
	return nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}
