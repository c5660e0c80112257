package castellan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContentStore holds evicted tool outputs. Names are store-relative;
// Write returns the full pointer path recorded in the ToolOutcome.
// Implementations must constrain every name to a single base directory
// and verify resolution after joining.
type ContentStore interface {
	Write(name, content string) (string, error)
	Read(name string) (string, error)
}

// DirStore is a ContentStore rooted at one directory on local disk.
type DirStore struct {
	base string
}

var _ ContentStore = (*DirStore)(nil)

// NewDirStore creates the base directory if needed and returns a store
// rooted there.
func NewDirStore(base string) (*DirStore, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("content store: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("content store: %w", err)
	}
	return &DirStore{base: abs}, nil
}

// Write stores content under name and returns the absolute pointer path.
func (d *DirStore) Write(name, content string) (string, error) {
	path, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("content store: write %s: %w", name, err)
	}
	return path, nil
}

// Read returns the content stored under name. Accepts either the
// store-relative name or the absolute pointer path returned by Write,
// as long as it resolves inside the base directory.
func (d *DirStore) Read(name string) (string, error) {
	path, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("content store: read %s: %w", name, err)
	}
	return string(data), nil
}

// resolve joins name onto the base dir and verifies the result did not
// escape it. The post-join check catches traversal that survives Clean.
func (d *DirStore) resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("content store: invalid name %q", name)
	}
	var path string
	if filepath.IsAbs(name) {
		path = filepath.Clean(name)
	} else {
		path = filepath.Join(d.base, filepath.Clean(filepath.FromSlash(name)))
	}
	if path != d.base && !strings.HasPrefix(path, d.base+string(filepath.Separator)) {
		return "", fmt.Errorf("content store: name escapes base dir: %q", name)
	}
	return path, nil
}
