package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	folderFileMode = 0644
	folderDirMode  = 0755
	folderSuffix   = ".json"
)

type folderEntry struct {
	Key       string `json:"key"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Value     []byte `json:"value"`
}

// FolderProvider stores each key as one JSON file under a directory. File
// names are the SHA-256 of the key so arbitrary keys are safe on disk.
type FolderProvider struct {
	dir string
	now func() time.Time
}

// NewFolderProvider creates the directory if needed.
func NewFolderProvider(dir string) (*FolderProvider, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("folder cache: path is empty")
	}
	if err := os.MkdirAll(dir, folderDirMode); err != nil {
		return nil, fmt.Errorf("folder cache: mkdir: %w", err)
	}
	return &FolderProvider{dir: dir, now: time.Now}, nil
}

// Get reads key, returning ErrCacheMiss for absent or expired entries.
func (p *FolderProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("folder cache: read: %w", err)
	}
	var entry folderEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("folder cache: decode %s: %w", key, err)
	}
	if entry.Key != key {
		return nil, ErrCacheMiss
	}
	if entry.ExpiresAt > 0 && p.now().UnixMilli() >= entry.ExpiresAt {
		_ = os.Remove(p.path(key))
		return nil, ErrCacheMiss
	}
	return entry.Value, nil
}

// Set writes key atomically through a temp file and rename.
func (p *FolderProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := folderEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = p.now().Add(ttl).UnixMilli()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("folder cache: encode: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("folder cache: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("folder cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("folder cache: close: %w", err)
	}
	if err := os.Chmod(tmpName, folderFileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("folder cache: chmod: %w", err)
	}
	if err := os.Rename(tmpName, p.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("folder cache: rename: %w", err)
	}
	return nil
}

// Del removes key; absent keys are not an error.
func (p *FolderProvider) Del(_ context.Context, key string) error {
	if err := os.Remove(p.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("folder cache: remove: %w", err)
	}
	return nil
}

// Close is a no-op; every operation opens its own file.
func (p *FolderProvider) Close() error { return nil }

func (p *FolderProvider) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(p.dir, hex.EncodeToString(sum[:])+folderSuffix)
}
