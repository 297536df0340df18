package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists scraped article bodies on disk, keyed by article ID.
// Paths handed back are relative to the store root so the root can move
// between deployments.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create content store root: %w", err)
	}

	return &Store{root: root}, nil
}

// Put writes the blob for an article and returns its relative path.
func (s *Store) Put(articleID, name string, data []byte) (string, error) {
	if articleID == "" || name == "" {
		return "", fmt.Errorf("article ID and name are required")
	}
	if strings.Contains(articleID, "..") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid path component")
	}

	dir := filepath.Join(s.root, articleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create article directory: %w", err)
	}

	relPath := filepath.Join(articleID, name)
	if err := os.WriteFile(filepath.Join(s.root, relPath), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write content: %w", err)
	}

	return relPath, nil
}

// Get reads a blob previously stored with Put. Returns nil when the path
// does not exist.
func (s *Store) Get(relPath string) ([]byte, error) {
	if relPath == "" || strings.Contains(relPath, "..") {
		return nil, fmt.Errorf("invalid content path")
	}

	data, err := os.ReadFile(filepath.Join(s.root, relPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	return data, nil
}

// Hash returns the hex-encoded SHA-256 digest of the given content.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
