// Package fs stores export artifacts on the local filesystem. Artifact IDs
// map to relative file paths under the root; a sidecar file (path + ".meta")
// carries content type and metadata. Meant for development and single-node
// deployments.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kincore/internal/adapters/export"
)

// DefaultRoot is used when no root directory is configured.
const DefaultRoot = "./exportdata"

// Store implements export.ObjectStore on a directory tree.
type Store struct {
	root string
}

// New returns a filesystem artifact store rooted at path, creating it if
// needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Root returns the configured root directory.
func (s *Store) Root() string { return s.root }

type sidecar struct {
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Checksum    string         `json:"checksum"`
	SizeBytes   int64          `json:"size_bytes"`
	CreatedAt   time.Time      `json:"created_at"`
}

// sanitizeKey rejects keys that would escape the root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("absolute artifact key %s", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("artifact key %s escapes root", key)
	}
	return clean, nil
}

func (s *Store) pathsFor(key string) (dataPath, metaPath string, err error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(clean))
	metaPath = dataPath + ".meta"
	return dataPath, metaPath, nil
}

// Put stores a new immutable artifact. Writes go through a temp file and an
// atomic rename; an existing key fails the call.
func (s *Store) Put(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]any) (export.Artifact, error) {
	dataPath, metaPath, err := s.pathsFor(key)
	if err != nil {
		return export.Artifact{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return export.Artifact{}, fmt.Errorf("object %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o750); err != nil {
		return export.Artifact{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return export.Artifact{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return export.Artifact{}, err
	}
	if err := tmp.Close(); err != nil {
		return export.Artifact{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return export.Artifact{}, err
	}

	sum := sha256.Sum256(payload)
	now := time.Now().UTC()
	meta := sidecar{
		ContentType: contentType,
		Metadata:    cloneMetadata(metadata),
		Checksum:    hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(payload)),
		CreatedAt:   now,
	}
	if err := writeSidecar(metaPath, meta); err != nil {
		return export.Artifact{}, err
	}
	return s.artifactFor(key, meta), nil
}

// Get returns the artifact metadata and full payload bytes.
func (s *Store) Get(ctx context.Context, key string) (export.Artifact, []byte, error) {
	dataPath, metaPath, err := s.pathsFor(key)
	if err != nil {
		return export.Artifact{}, nil, err
	}
	payload, err := os.ReadFile(dataPath)
	if err != nil {
		return export.Artifact{}, nil, err
	}
	meta, err := readSidecar(metaPath)
	if err != nil {
		return export.Artifact{}, nil, err
	}
	return s.artifactFor(key, meta), payload, nil
}

// Delete removes the artifact and its sidecar; returns true if it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathsFor(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List returns artifacts whose keys start with prefix, sorted by key.
func (s *Store) List(ctx context.Context, prefix string) ([]export.Artifact, error) {
	var artifacts []export.Artifact
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, ".meta"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := readSidecar(path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, s.artifactFor(key, meta))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })
	return artifacts, nil
}

func (s *Store) artifactFor(key string, meta sidecar) export.Artifact {
	return export.Artifact{
		ID:          key,
		ContentType: meta.ContentType,
		SizeBytes:   meta.SizeBytes,
		Metadata:    cloneMetadata(meta.Metadata),
		CreatedAt:   meta.CreatedAt,
		URL:         localURL(key),
	}
}

// localURL is a stable opaque URL for development; there is no server behind
// it.
func localURL(key string) string {
	return (&url.URL{Scheme: "file", Host: "local.export", Path: "/" + key}).String()
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeSidecar(path string, meta sidecar) error {
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o640)
}

func readSidecar(path string) (sidecar, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(payload, &meta); err != nil {
		return sidecar{}, err
	}
	return meta, nil
}
