package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// RefSeparator splits an archive path from the entry inside it
const RefSeparator = "::"

// Manager resolves asset references against a root directory and the
// archives mounted on top of it
type Manager struct {
	rootDir  string
	archives map[string]Archive
	order    []string // mount order, searched first to last
}

// Archive is a read-only bundle of assets
type Archive interface {
	Open(name string) (io.ReadCloser, error)
	Exists(name string) bool
	List() []string
	Close() error
}

// NewManager creates a new filesystem manager
func NewManager(rootDir string) *Manager {
	return &Manager{
		rootDir:  rootDir,
		archives: make(map[string]Archive),
	}
}

// Init checks that the root directory exists
func (m *Manager) Init() error {
	info, err := os.Stat(m.rootDir)
	if err != nil {
		return fmt.Errorf("root directory %s: %w", m.rootDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", m.rootDir)
	}

	log.Info("Filesystem initialized", "root", m.rootDir)
	return nil
}

// SplitRef parses "pack.zip::sfx/hit.ogg" into its archive and entry parts.
// A plain reference returns ok false and the reference as entry.
func SplitRef(ref string) (archive, entry string, ok bool) {
	archive, entry, ok = strings.Cut(ref, RefSeparator)
	if !ok {
		return "", ref, false
	}
	return archive, entry, true
}

// JoinRef builds an archive reference from its parts
func JoinRef(archive, entry string) string {
	return archive + RefSeparator + entry
}

// MountArchive opens the zip archive at path, relative to the root, and adds
// it to the search order. Mounting the same path twice is a no-op.
func (m *Manager) MountArchive(path string) error {
	key := normalize(path)
	if _, ok := m.archives[key]; ok {
		return nil
	}

	archive, err := OpenZip(m.getFullPath(path))
	if err != nil {
		return fmt.Errorf("failed to mount archive %s: %w", path, err)
	}
	m.archives[key] = archive
	m.order = append(m.order, key)

	log.Info("Archive mounted", "archive", path, "entries", len(archive.List()))
	return nil
}

// Mounted returns the mounted archive paths in search order
func (m *Manager) Mounted() []string {
	return append([]string(nil), m.order...)
}

// Open opens a reference. Archive references are served from that archive,
// mounting it on first use. Plain references check mounted archives first,
// then the root directory.
func (m *Manager) Open(ref string) (io.ReadCloser, error) {
	if archivePath, entry, ok := SplitRef(ref); ok {
		if archivePath == "" || entry == "" {
			return nil, fmt.Errorf("invalid archive reference %q", ref)
		}
		if err := m.MountArchive(archivePath); err != nil {
			return nil, err
		}
		return m.archives[normalize(archivePath)].Open(entry)
	}

	for _, key := range m.order {
		if archive := m.archives[key]; archive.Exists(ref) {
			return archive.Open(ref)
		}
	}

	file, err := os.Open(m.getFullPath(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, ref)
		}
		return nil, err
	}
	return file, nil
}

// Exists checks if a reference resolves to a file
func (m *Manager) Exists(ref string) bool {
	if archivePath, entry, ok := SplitRef(ref); ok {
		archive, mounted := m.archives[normalize(archivePath)]
		if !mounted {
			_, err := os.Stat(m.getFullPath(archivePath))
			return err == nil
		}
		return archive.Exists(entry)
	}

	for _, key := range m.order {
		if m.archives[key].Exists(ref) {
			return true
		}
	}
	info, err := os.Stat(m.getFullPath(ref))
	return err == nil && !info.IsDir()
}

// ReadFile reads an entire file into memory
func (m *Manager) ReadFile(ref string) ([]byte, error) {
	file, err := m.Open(ref)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// getFullPath constructs the full filesystem path for a file
func (m *Manager) getFullPath(name string) string {
	clean := strings.ReplaceAll(name, "\\", "/")
	return filepath.Join(m.rootDir, filepath.FromSlash(clean))
}

// GetRootDir returns the root directory
func (m *Manager) GetRootDir() string {
	return m.rootDir
}

// Close closes all mounted archives
func (m *Manager) Close() error {
	var errs []error
	for _, key := range m.order {
		if err := m.archives[key].Close(); err != nil {
			log.Warn("Failed to close archive", "archive", key, "err", err)
			errs = append(errs, err)
		}
	}

	clear(m.archives)
	m.order = nil
	log.Info("Filesystem manager closed")
	return errors.Join(errs...)
}

func normalize(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "./")
}
