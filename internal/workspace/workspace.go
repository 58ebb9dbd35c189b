// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package workspace provides scoped filesystem access confined to a
// single workspace root, grounded on the teacher's internal/fs package
// but using safepath's lossy confinement policy instead of rejecting
// traversal attempts outright.
package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/orcabot/container-agent/internal/safepath"
)

// ErrNotFound is returned when a filesystem operation targets a path
// that does not exist.
var ErrNotFound = errors.New("file or directory not found")

// Entry describes one file or directory, workspace-relative.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDirectory"`
	ModTime time.Time `json:"modTime"`
	Mode    string    `json:"mode"`
}

// Workspace confines all filesystem operations to Root.
type Workspace struct {
	root string
}

// New creates a Workspace rooted at root. The root is created if it
// does not already exist.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Workspace{root: abs}, nil
}

// Root returns the workspace root's absolute path.
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) resolve(path string) string {
	return safepath.Resolve(w.root, path)
}

func (w *Workspace) rel(abs string) string {
	return safepath.RelFromAbs(w.root, abs)
}

// ReadFile returns the contents of path.
func (w *Workspace) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(w.resolve(path))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return data, nil
}

// WriteFile writes content to path, creating parent directories as
// needed.
func (w *Workspace) WriteFile(path string, content []byte) error {
	resolved := w.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, content, 0o644)
}

// Remove deletes a file or directory (recursively).
func (w *Workspace) Remove(path string) error {
	resolved := w.resolve(path)
	if _, err := os.Stat(resolved); err != nil {
		return wrapNotFound(err)
	}
	return os.RemoveAll(resolved)
}

// Readdir lists entries directly inside path.
func (w *Workspace) Readdir(path string) ([]Entry, error) {
	resolved := w.resolve(path)
	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		abs := filepath.Join(resolved, de.Name())
		out = append(out, Entry{
			Name:    de.Name(),
			Path:    w.rel(abs),
			Size:    info.Size(),
			IsDir:   de.IsDir(),
			ModTime: info.ModTime(),
			Mode:    info.Mode().String(),
		})
	}
	return out, nil
}

// Mkdir creates path and any missing parents. Idempotent: creating an
// already-existing directory succeeds.
func (w *Workspace) Mkdir(path string, recursive bool) error {
	resolved := w.resolve(path)
	if recursive {
		return os.MkdirAll(resolved, 0o755)
	}
	if err := os.Mkdir(resolved, 0o755); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// Stat returns metadata about path.
func (w *Workspace) Stat(path string) (*Entry, error) {
	resolved := w.resolve(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &Entry{
		Name:    info.Name(),
		Path:    w.rel(resolved),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
		Mode:    info.Mode().String(),
	}, nil
}

// Mount bulk-writes a tree of file contents rooted at path. Only file
// contents are applied — permissions and timestamps in tree are not
// reproduced. This is intentional: mount is a "bulk write" of contents
// only (see spec open question).
func (w *Workspace) Mount(path string, tree map[string]string) error {
	for relPath, content := range tree {
		if err := w.WriteFile(filepath.Join(path, relPath), []byte(content)); err != nil {
			return err
		}
	}
	return nil
}

// Walk walks path, invoking fn with a workspace-relative path for each
// entry.
func (w *Workspace) Walk(path string, fn func(relPath string, entry Entry) error) error {
	resolved := w.resolve(path)
	return filepath.WalkDir(resolved, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel := w.rel(walkPath)
		return fn(rel, Entry{
			Name:    d.Name(),
			Path:    rel,
			Size:    info.Size(),
			IsDir:   d.IsDir(),
			ModTime: info.ModTime(),
			Mode:    info.Mode().String(),
		})
	})
}

func wrapNotFound(err error) error {
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}
