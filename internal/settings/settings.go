// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

// Package settings persists host settings that must survive restarts.
// The plugin runtime stores the disabled-plugin id set here.
package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DisabledPluginsKey is the settings key holding the disabled plugin id list.
const DisabledPluginsKey = "disabled_plugins"

// Store persists named settings values.
type Store interface {
	// DisabledPlugins returns the persisted disabled plugin id set.
	DisabledPlugins(ctx context.Context) ([]string, error)

	// SetDisabledPlugins replaces the persisted disabled plugin id set.
	SetDisabledPlugins(ctx context.Context, ids []string) error
}

// document is the on-disk settings shape. Keys outside the plugin runtime's
// ownership are preserved across writes.
type document map[string]json.RawMessage

// FileStore is a Store backed by a single JSON document on disk.
// Writes are atomic (temp file + rename) and retried on transient errors.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed settings store at path.
// The parent directory is created if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, oops.In("settings").New("settings path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, oops.In("settings").With("path", path).Wrap(err)
	}
	return &FileStore{path: path}, nil
}

// DisabledPlugins returns the persisted disabled plugin id set.
// A missing or corrupt settings file is treated as empty with a logged
// warning, so a damaged document never blocks startup.
func (s *FileStore) DisabledPlugins(_ context.Context) ([]string, error) {
	doc, err := s.read()
	if err != nil {
		slog.Warn("settings document unreadable, treating as empty",
			"path", s.path,
			"error", err)
		return nil, nil
	}

	raw, ok := doc[DisabledPluginsKey]
	if !ok {
		return nil, nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		slog.Warn("disabled plugins entry unreadable, treating as empty",
			"path", s.path,
			"error", err)
		return nil, nil
	}
	return ids, nil
}

// SetDisabledPlugins replaces the persisted disabled plugin id set.
func (s *FileStore) SetDisabledPlugins(ctx context.Context, ids []string) error {
	doc, err := s.read()
	if err != nil {
		// Start a fresh document rather than failing the disable operation.
		doc = document{}
	}

	// Deterministic on-disk ordering.
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	raw, err := json.Marshal(sorted)
	if err != nil {
		return oops.In("settings").With("key", DisabledPluginsKey).Wrap(err)
	}
	doc[DisabledPluginsKey] = raw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return oops.In("settings").With("path", s.path).Wrap(err)
	}

	// Retry transient filesystem failures with capped exponential backoff.
	backoff := retry.WithMaxRetries(3, retry.NewExponential(10*time.Millisecond))
	err = retry.Do(ctx, backoff, func(_ context.Context) error {
		return retry.RetryableError(s.writeAtomic(data))
	})
	if err != nil {
		return oops.In("settings").With("path", s.path).Hint("failed to persist settings").Wrap(err)
	}
	return nil
}

// read loads the settings document. A missing file yields an empty document.
func (s *FileStore) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, nil
		}
		return nil, err
	}

	doc := document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeAtomic writes data to the settings path via a temp file and rename.
func (s *FileStore) writeAtomic(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
