// Package security enforces the filesystem allow-list for dataset and
// reference-table files. Paths are canonicalized (absolute + EvalSymlinks)
// and validated against configured roots before any file is opened or
// written.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager holds the canonical allow-list roots and the permitted extensions.
type Manager struct {
	allowedDirs []string
	allowedExts map[string]struct{}
}

// ErrNotAllowed indicates the requested path is outside the allow-list roots.
var ErrNotAllowed = errors.New("security: path not allowed")

// ErrUnsupportedExtension indicates the requested file extension is not supported.
var ErrUnsupportedExtension = errors.New("security: unsupported file extension")

// ErrNotFound indicates the requested file does not exist or is not accessible.
var ErrNotFound = errors.New("security: file not found")

// NewManager constructs a security manager given allow-list directories and
// permitted extensions (case-insensitive, with leading dot). Directories are
// canonicalized and must exist.
func NewManager(allowDirs []string, allowedExtensions []string) (*Manager, error) {
	if len(allowedExtensions) == 0 {
		allowedExtensions = []string{".csv", ".xlsx", ".xlsm"}
	}

	exts := make(map[string]struct{}, len(allowedExtensions))
	for _, e := range allowedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || !strings.HasPrefix(e, ".") {
			return nil, fmt.Errorf("security: invalid extension: %q", e)
		}
		exts[e] = struct{}{}
	}

	canonical := make([]string, 0, len(allowDirs))
	for _, d := range allowDirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("security: resolve abs for %q: %w", d, err)
		}
		// EvalSymlinks so that symlinked roots cannot be used to escape later.
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("security: eval symlinks for %q: %w", abs, err)
		}
		info, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("security: stat %q: %w", real, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("security: allow-list entry is not a directory: %q", real)
		}
		canonical = append(canonical, filepath.Clean(real))
	}

	return &Manager{allowedDirs: canonical, allowedExts: exts}, nil
}

// NewManagerFromEnv constructs a Manager from TRADESCOPE_ALLOWED_DIRS, a path
// list separated by os.PathListSeparator. Empty means deny-by-default.
func NewManagerFromEnv() (*Manager, error) {
	list := os.Getenv("TRADESCOPE_ALLOWED_DIRS")
	var dirs []string
	if list != "" {
		dirs = filepath.SplitList(list)
	}
	return NewManager(dirs, nil)
}

// AllowedDirectories returns the canonical allow-list roots.
func (m *Manager) AllowedDirectories() []string {
	out := make([]string, len(m.allowedDirs))
	copy(out, m.allowedDirs)
	return out
}

// ValidateConfig returns an error when no allow-list entries are configured,
// supporting fail-safe startup.
func (m *Manager) ValidateConfig() error {
	if len(m.allowedDirs) == 0 {
		return errors.New("security: no allowed directories configured")
	}
	return nil
}

// ValidateOpenPath ensures the input refers to an existing file with an
// allowed extension inside one of the allow-list roots, returning the
// canonical absolute path suitable for opening.
func (m *Manager) ValidateOpenPath(input string) (string, error) {
	if input == "" {
		return "", ErrNotAllowed
	}
	ext := strings.ToLower(filepath.Ext(input))
	if _, ok := m.allowedExts[ext]; !ok {
		return "", ErrUnsupportedExtension
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("security: abs path: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("security: eval symlinks: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", ErrNotFound
	}
	if info.IsDir() {
		return "", ErrNotAllowed
	}
	if !m.within(real) {
		return "", ErrNotAllowed
	}
	return real, nil
}

// ValidateCreatePath validates a path for writing an export. The file itself
// may not exist yet; its parent directory must resolve inside the allow-list
// and the extension must be permitted.
func (m *Manager) ValidateCreatePath(input string) (string, error) {
	if input == "" {
		return "", ErrNotAllowed
	}
	ext := strings.ToLower(filepath.Ext(input))
	if _, ok := m.allowedExts[ext]; !ok {
		return "", ErrUnsupportedExtension
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("security: abs path: %w", err)
	}
	dir, base := filepath.Split(abs)
	realDir, err := filepath.EvalSymlinks(filepath.Clean(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("security: eval symlinks: %w", err)
	}
	if !m.within(realDir) {
		return "", ErrNotAllowed
	}
	return filepath.Join(realDir, base), nil
}

// within reports whether a canonical path sits under an allow-list root.
func (m *Manager) within(real string) bool {
	for _, root := range m.allowedDirs {
		if real == root {
			return true
		}
		if strings.HasPrefix(real, root+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
