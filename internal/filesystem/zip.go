package filesystem

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// ZipArchive serves assets out of a zip file. Entry lookup ignores case
// and accepts either slash direction.
type ZipArchive struct {
	path    string
	reader  *zip.ReadCloser
	entries map[string]*zip.File
}

// OpenZip opens and indexes the zip file at path
func OpenZip(path string) (*ZipArchive, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}

	z := &ZipArchive{
		path:    path,
		reader:  reader,
		entries: make(map[string]*zip.File, len(reader.File)),
	}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		z.entries[entryKey(f.Name)] = f
	}
	return z, nil
}

func entryKey(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.ToLower(strings.TrimPrefix(path.Clean("/"+name), "/"))
}

// Open opens one entry for reading
func (z *ZipArchive) Open(name string) (io.ReadCloser, error) {
	f, ok := z.entries[entryKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", fs.ErrNotExist, name, z.path)
	}
	return f.Open()
}

// Exists reports whether the archive holds name
func (z *ZipArchive) Exists(name string) bool {
	_, ok := z.entries[entryKey(name)]
	return ok
}

// List returns the entry names as stored, sorted
func (z *ZipArchive) List() []string {
	names := make([]string, 0, len(z.entries))
	for _, f := range z.entries {
		names = append(names, f.Name)
	}
	slices.Sort(names)
	return names
}

// Close releases the underlying file
func (z *ZipArchive) Close() error {
	return z.reader.Close()
}
