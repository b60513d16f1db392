// Package datastore is a small JSON file store: every key holds one JSON
// document, everything is kept in memory, and each write rewrites the whole
// file atomically (temp file, fsync, rename) with rotating backups.
package datastore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("datastore is closed")

// Config holds configuration options for the DataStore
type Config struct {
	FilePath    string
	BackupCount int // Number of backup files to keep
}

// DefaultConfig returns a default configuration
func DefaultConfig(filePath string) *Config {
	return &Config{
		FilePath:    filePath,
		BackupCount: 3,
	}
}

type DataStore struct {
	mu           sync.Mutex
	data         map[string]json.RawMessage
	config       *Config
	lastChecksum string
	lastBackup   time.Time
	closed       bool
}

// New creates a new DataStore with default configuration
func New(filePath string) (*DataStore, error) {
	return NewWithConfig(DefaultConfig(filePath))
}

// NewWithConfig opens (or creates) the store file and loads it fully.
func NewWithConfig(config *Config) (*DataStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	ds := &DataStore{
		data:   make(map[string]json.RawMessage),
		config: config,
	}

	_, err := os.Stat(config.FilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := ds.writeFileAtomic([]byte("{}")); err != nil {
			return nil, fmt.Errorf("failed to create empty JSON file: %w", err)
		}
	case err == nil:
		if err := ds.loadFromFile(); err != nil {
			return nil, fmt.Errorf("failed to load data from file: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to check file existence: %w", err)
	}

	return ds, nil
}

// Get decodes the document stored under key into dst. It reports false when
// the key does not exist.
func (ds *DataStore) Get(key string, dst any) (bool, error) {
	ds.mu.Lock()
	raw, ok := ds.data[key]
	ds.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Put replaces the document under key and rewrites the file. The in-memory
// value is updated even when the file write fails.
func (ds *DataStore) Put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return ErrClosed
	}
	ds.data[key] = raw
	return ds.saveLocked()
}

// Delete removes a key and rewrites the file.
func (ds *DataStore) Delete(key string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return ErrClosed
	}
	if _, ok := ds.data[key]; !ok {
		return nil
	}
	delete(ds.data, key)
	return ds.saveLocked()
}

// Keys returns the stored keys, sorted.
func (ds *DataStore) Keys() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	keys := make([]string, 0, len(ds.data))
	for k := range ds.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close flushes once more and rejects further writes.
func (ds *DataStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return nil
	}
	ds.closed = true
	return ds.saveLocked()
}

// saveLocked writes the whole document set. Caller holds ds.mu.
func (ds *DataStore) saveLocked() error {
	data, err := json.MarshalIndent(ds.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	checksum := calculateChecksum(data)
	if checksum == ds.lastChecksum {
		return nil
	}

	// one backup per minute is plenty when every mutation flushes
	if ds.config.BackupCount > 0 && time.Since(ds.lastBackup) > time.Minute {
		if err := ds.createBackup(); err == nil {
			ds.lastBackup = time.Now()
		}
	}

	if err := ds.writeFileAtomic(data); err != nil {
		return err
	}

	ds.lastChecksum = checksum
	return nil
}

// loadFromFile loads data from disk with validation
func (ds *DataStore) loadFromFile() error {
	data, err := os.ReadFile(ds.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	temp := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}

	ds.data = temp
	ds.lastChecksum = calculateChecksum(data)
	return nil
}

// writeFileAtomic performs atomic file write using temporary file and rename
func (ds *DataStore) writeFileAtomic(data []byte) error {
	tmpFile := ds.config.FilePath + ".tmp"

	file, err := os.OpenFile(tmpFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tmpFile, ds.config.FilePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// createBackup copies the current file to a timestamped backup
func (ds *DataStore) createBackup() error {
	src, err := os.Open(ds.config.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer src.Close()

	backupFile := fmt.Sprintf("%s.backup.%s", ds.config.FilePath, time.Now().Format("20060102_150405"))
	dst, err := os.Create(backupFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	ds.cleanupOldBackups()
	return nil
}

// cleanupOldBackups removes old backup files beyond the configured limit
func (ds *DataStore) cleanupOldBackups() {
	matches, err := filepath.Glob(ds.config.FilePath + ".backup.*")
	if err != nil || len(matches) <= ds.config.BackupCount {
		return
	}

	// the timestamp suffix sorts chronologically
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-ds.config.BackupCount] {
		os.Remove(old)
	}
}

func calculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
