// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ckt1031/simple-chat/internal/util"
)

// Dir is a Transport over a directory. Writes are atomic, so a reader on
// another machine never sees a half-written object.
type Dir struct {
	root string
}

// NewDir returns a transport rooted at dir, creating it if needed.
func NewDir(dir string) (*Dir, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("remote directory not configured")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}
	return &Dir{root: dir}, nil
}

// Root returns the directory objects are stored in.
func (d *Dir) Root() string {
	return d.root
}

// List implements Transport. Objects are sorted by name.
func (d *Dir) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, &RequestError{Op: "list", Err: err}
	}

	var out []Object
	for _, e := range entries {
		name := e.Name()
		// Temp files of in-progress atomic writes
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		out = append(out, Object{Name: name, Size: info.Size(), ModTime: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get implements Transport.
func (d *Dir) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, &RequestError{Op: "get", Err: err}
	}
	data, err := os.ReadFile(filepath.Join(d.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, &RequestError{Op: "get", Name: name, Err: err}
	}
	return data, nil
}

// Put implements Transport. The content type is not stored.
func (d *Dir) Put(ctx context.Context, name string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return &RequestError{Op: "put", Err: err}
	}
	if err := util.AtomicWriteFileWithDir(filepath.Join(d.root, name), data, 0o600, 0o700); err != nil {
		return &RequestError{Op: "put", Name: name, Err: err}
	}
	return nil
}

// Delete implements Transport.
func (d *Dir) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return &RequestError{Op: "delete", Err: err}
	}
	err := os.Remove(filepath.Join(d.root, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &RequestError{Op: "delete", Name: name, Err: err}
	}
	return nil
}
