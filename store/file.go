package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var _ BatchSubstrate = (*File)(nil)

// File keeps values in a YAML document on disk. The file is rewritten
// atomically (temp file + rename) with mode 0600 on every change and re-read
// on every Get, so several processes sharing the file see each other's writes.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a substrate backed by path. The file is created on first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (f *File) Set(ctx context.Context, key, value string) error {
	return f.update(func(doc map[string]string) {
		doc[key] = value
	})
}

func (f *File) Delete(_ context.Context, keys ...string) error {
	return f.update(func(doc map[string]string) {
		for _, k := range keys {
			delete(doc, k)
		}
	})
}

func (f *File) SetMany(_ context.Context, kv map[string]string) error {
	return f.update(func(doc map[string]string) {
		for k, v := range kv {
			if v == "" {
				delete(doc, k)
				continue
			}
			doc[k] = v
		}
	})
}

func (f *File) update(fn func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	fn(doc)
	return f.write(doc)
}

func (f *File) read() (map[string]string, error) {
	doc := make(map[string]string)

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authsession/store: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("authsession/store: decode %s: %w", f.path, err)
	}
	if doc == nil {
		doc = make(map[string]string)
	}
	return doc, nil
}

func (f *File) write(doc map[string]string) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("authsession/store: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("authsession/store: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("authsession/store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("authsession/store: chmod: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("authsession/store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("authsession/store: close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("authsession/store: rename: %w", err)
	}
	return nil
}
