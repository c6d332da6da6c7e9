// Package tokenfile persists the session token pair. A session file stores an
// OAuth2-shaped token (access token, refresh token, expiry) alongside cached
// profile metadata (email, display name) so offline commands can describe the
// signed-in user. This is a leaf package imported by session/ and the CLI.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// Metadata keys cached next to the token.
const (
	MetaUserID   = "user_id"
	MetaEmail    = "email"
	MetaFullName = "full_name"
)

// File is the on-disk format for session files.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a saved session file. Returns (nil, nil, nil) if the file does
// not exist, which callers treat as "logged out".
func Load(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field (log in again)", path)
	}

	return tf.Token, tf.Meta, nil
}

// Save writes a session file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	if tok == nil {
		return fmt.Errorf("tokenfile: refusing to save nil token")
	}

	data, err := json.MarshalIndent(File{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the session file. A missing file is not an error: the
// session is already gone.
func Remove(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("tokenfile: removing %s: %w", path, err)
}

// Store is a session store bound to one file path.
type Store struct {
	path string
}

// NewStore returns a Store persisting to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted token and metadata, or (nil, nil, nil) when no
// session is stored.
func (s *Store) Load() (*oauth2.Token, map[string]string, error) {
	return Load(s.path)
}

// Save persists tok and meta, replacing whatever was stored.
func (s *Store) Save(tok *oauth2.Token, meta map[string]string) error {
	return Save(s.path, tok, meta)
}

// Clear removes the persisted session.
func (s *Store) Clear() error {
	return Remove(s.path)
}

// MergeMeta reads the current session, merges new metadata keys (new keys
// overwrite existing), and saves. Fails if no session is stored.
func (s *Store) MergeMeta(meta map[string]string) error {
	tok, existing, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("reading session for metadata update: %w", err)
	}

	if tok == nil {
		return fmt.Errorf("no session file at %s", s.path)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)

	return Save(s.path, tok, existing)
}
