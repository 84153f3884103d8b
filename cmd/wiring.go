package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"zound-engine/internal/audio"
	"zound-engine/internal/definition"
	"zound-engine/internal/engine"
	"zound-engine/internal/filesystem"
	"zound-engine/internal/sample"
	"zound-engine/internal/settings"
)

// loadSettings reads the settings file, the INI overlay and the flag
// overrides, in that order
func loadSettings() (*settings.Config, error) {
	m := settings.NewManager(configPath)
	if err := m.Load(); err != nil {
		return nil, err
	}
	cfg := m.GetConfig()

	if iniPath != "" {
		ini := settings.NewINIManager(filesystem.NewManager(filepath.Dir(iniPath)))
		if err := ini.Load(filepath.Base(iniPath)); err != nil {
			return nil, err
		}
		if err := ini.ApplyTo(cfg); err != nil {
			return nil, fmt.Errorf("invalid INI overlay: %w", err)
		}
	}

	if libraryPath != "" {
		cfg.LibraryPath = libraryPath
	}
	if logLevel == "" {
		if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
			log.SetLevel(level)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadLibrary loads the sound library. A partially invalid library is
// returned along with the load error.
func loadLibrary(path string) (*definition.Library, error) {
	if path == "" {
		return nil, errors.New("no sound library given, set library_path or --library")
	}
	dir := filesystem.NewManager(filepath.Dir(path))
	defer dir.Close()
	return definition.LoadFile(dir, filepath.Base(path))
}

// stack is every subsystem the engine runs on
type stack struct {
	cfg     *settings.Config
	assets  *filesystem.Manager
	samples *sample.Loader
	audio   *audio.Manager
	engine  *engine.Engine
}

// buildStack mounts the assets, opens the audio backend and creates the
// engine over lib
func buildStack(cfg *settings.Config, lib *definition.Library) (*stack, error) {
	s := &stack{cfg: cfg}

	s.assets = filesystem.NewManager(cfg.AssetsPath)
	if err := s.assets.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem: %w", err)
	}
	for _, archive := range cfg.Archives {
		if err := s.assets.MountArchive(archive); err != nil {
			s.assets.Close()
			return nil, err
		}
	}

	backend, err := audio.ParseBackend(cfg.Backend)
	if err != nil {
		s.assets.Close()
		return nil, err
	}
	s.audio = audio.NewManager(backend, cfg.SampleRate)
	if err := s.audio.Init(); err != nil {
		s.assets.Close()
		return nil, err
	}

	log.Info("Assets ready", "root", s.assets.GetRootDir(), "archives", len(s.assets.Mounted()))

	s.samples = sample.NewLoader(s.assets, s.audio.SampleRate())
	s.engine, err = engine.New(cfg.EngineConfig(), lib, s.samples, s.audio.Factory())
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return s, nil
}

// preload decodes every leaf sample up front so the first trigger does not
// stall a frame
func (s *stack) preload() {
	lib := s.engine.Library()
	var refs []string
	for _, name := range lib.Names() {
		if def, err := lib.Resolve(name); err == nil && def.Kind == definition.KindLeaf {
			refs = append(refs, def.Sample)
		}
	}
	if err := s.samples.Preload(refs...); err != nil {
		log.Warn("Some samples failed to load", "err", err)
	}
	log.Info("Samples preloaded", "count", len(refs), "bytes", s.samples.MemoryUsage())
}

func (s *stack) close() error {
	var errs []error
	if s.engine != nil {
		if err := s.engine.Shutdown(); err != nil && !errors.Is(err, engine.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.audio != nil {
		errs = append(errs, s.audio.Cleanup())
	}
	if s.assets != nil {
		errs = append(errs, s.assets.Close())
	}
	return errors.Join(errs...)
}
