// Package storage manages the local staging areas for the pipeline: the
// uploads directory where incoming model files land before being pushed to
// the remote store, and the downloads directory where extracted derivative
// output is written.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is a local filesystem staging area rooted at a base directory.
type Store struct {
	basePath string
}

// NewStore creates the staging area, making the base directory if needed.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("staging area initialized")
	return &Store{basePath: basePath}, nil
}

// BasePath returns the root of the staging area.
func (s *Store) BasePath() string { return s.basePath }

// Resolve returns the absolute path of a staged file.
func (s *Store) Resolve(name string) string {
	return filepath.Join(s.basePath, name)
}

// Save writes content to the staging area atomically via a temp file.
func (s *Store) Save(name string, content io.Reader) (int64, error) {
	fullPath := s.Resolve(name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", fullPath, time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempPath)
	}()

	written, err := io.Copy(tempFile, content)
	if err != nil {
		return 0, fmt.Errorf("failed to write content: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync temporary file: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}

	log.Info().Str("name", name).Int64("bytes", written).Msg("file staged")
	return written, nil
}

// Open opens a staged file for random-access reads. The caller owns the
// handle.
func (s *Store) Open(name string) (*os.File, error) {
	file, err := os.Open(s.Resolve(name))
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Size returns the byte length of a staged file.
func (s *Store) Size(name string) (int64, error) {
	info, err := os.Stat(s.Resolve(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Exists reports whether a staged file is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Resolve(name))
	return err == nil
}

// Remove deletes a staged file. Removing a missing file is not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Resolve(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// RemoveTree deletes a directory subtree, used to drop a superseded
// derivative output before its catalog record is updated.
func (s *Store) RemoveTree(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove output tree: %w", err)
	}
	log.Info().Str("path", path).Msg("output tree removed")
	return nil
}

// List returns the names of files staged under the given prefix.
func (s *Store) List(prefix string) ([]string, error) {
	var names []string
	searchPath := filepath.Join(s.basePath, prefix)

	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(s.basePath, path)
			if err != nil {
				return err
			}
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list staged files: %w", err)
	}
	return names, nil
}
