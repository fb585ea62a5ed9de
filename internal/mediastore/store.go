// Package mediastore persists generated media assets on disk, addressed by
// character and asset type. Keys are derived from the NFC-normalized
// character so visually identical inputs share one cache slot, and writes
// are atomic so a crashed run never leaves a partial asset behind.
package mediastore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"inkstone/internal/logging"
)

// AssetType distinguishes the media kinds stored per character.
type AssetType string

const (
	AssetAudio AssetType = "audio"
	AssetImage AssetType = "image"
)

// Metadata is the sidecar record kept alongside every stored asset.
type Metadata struct {
	Character    string    `json:"character"`
	AssetType    AssetType `json:"asset_type"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type"`
	Provider     string    `json:"provider"`
	GeneratedAt  time.Time `json:"generated_at"`
	Validated    bool      `json:"validated"`
	ValidatedBy  string    `json:"validated_by,omitempty"`
	PromptDigest string    `json:"prompt_digest,omitempty"`
}

// Asset bundles stored bytes with their metadata.
type Asset struct {
	Data []byte
	Meta Metadata
}

// Stats summarizes cache contents.
type Stats struct {
	AudioCount int
	ImageCount int
	TotalBytes int64
}

// ErrNotFound indicates no asset is stored under the key.
var ErrNotFound = errors.New("mediastore: asset not found")

// ErrClaimed indicates another worker currently owns generation for the key.
var ErrClaimed = errors.New("mediastore: asset claimed by another worker")

// Store is a content-addressed on-disk media cache.
type Store struct {
	dir     string
	baseURL string
	logger  *slog.Logger
	mu      sync.Mutex
}

// New constructs a store rooted at dir. baseURL, when set, is used to build
// public URLs for stored assets; otherwise URL returns file paths.
func New(dir, baseURL string, logger *slog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("mediastore: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mediastore: create directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:  logging.NewComponentLogger(logger, "mediastore"),
	}, nil
}

// Key derives the storage key for a character and asset type. The character
// is NFC-normalized first so composed and decomposed forms address the same
// asset.
func Key(character string, assetType AssetType) string {
	normalized := norm.NFC.String(strings.TrimSpace(character))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:24] + "-" + string(assetType)
}

// Exists reports whether a complete asset (bytes plus sidecar) is stored for
// the key.
func (s *Store) Exists(key string) bool {
	meta, err := s.readMetadata(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(s.dir, meta.Filename))
	return err == nil
}

// Metadata loads just the sidecar record for the key.
func (s *Store) Metadata(key string) (Metadata, error) {
	return s.readMetadata(key)
}

// Get loads the asset stored under the key.
func (s *Store) Get(key string) (Asset, error) {
	var empty Asset
	meta, err := s.readMetadata(key)
	if err != nil {
		return empty, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, meta.Filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return empty, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return empty, fmt.Errorf("mediastore: read asset %s: %w", key, err)
	}
	return Asset{Data: data, Meta: meta}, nil
}

// Put stores the asset bytes and sidecar metadata atomically. The data file
// lands first; the sidecar is written last, so a key only reads as present
// once both halves are durable.
func (s *Store) Put(key string, data []byte, meta Metadata) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("mediastore: key required")
	}
	if len(data) == 0 {
		return errors.New("mediastore: empty asset data")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta.Filename = key + extensionFor(meta.ContentType)
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now().UTC()
	}

	if err := writeFileAtomic(filepath.Join(s.dir, meta.Filename), data, 0o644); err != nil {
		return fmt.Errorf("mediastore: write asset %s: %w", key, err)
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("mediastore: marshal metadata %s: %w", key, err)
	}
	if err := writeFileAtomic(s.metadataPath(key), encoded, 0o644); err != nil {
		return fmt.Errorf("mediastore: write metadata %s: %w", key, err)
	}

	s.logger.Debug("stored media asset",
		logging.String("key", key),
		logging.String(logging.FieldCharacter, meta.Character),
		logging.String("asset_type", string(meta.AssetType)),
		logging.Int("bytes", len(data)))
	return nil
}

// Delete removes the asset and its sidecar. The sidecar goes first so a
// half-deleted key reads as absent rather than as a dangling entry. Deleting
// an absent key is not an error.
func (s *Store) Delete(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("mediastore: key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMetadata(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(s.metadataPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("mediastore: remove metadata %s: %w", key, err)
	}
	if err := os.Remove(filepath.Join(s.dir, meta.Filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("mediastore: remove asset %s: %w", key, err)
	}
	s.logger.Debug("deleted media asset", logging.String("key", key))
	return nil
}

// URL returns the public URL for a stored asset when a base URL is
// configured, and the on-disk path otherwise.
func (s *Store) URL(key string) (string, error) {
	meta, err := s.readMetadata(key)
	if err != nil {
		return "", err
	}
	if s.baseURL == "" {
		return filepath.Join(s.dir, meta.Filename), nil
	}
	joined, err := url.JoinPath(s.baseURL, meta.Filename)
	if err != nil {
		return "", fmt.Errorf("mediastore: build url %s: %w", key, err)
	}
	return joined, nil
}

// Claim marks the key as being generated by this process. It fails with
// ErrClaimed while a fresh claim from another worker exists; claims older
// than ttl are treated as stale leftovers from a crashed run and broken.
// The returned release func always removes the claim marker.
func (s *Store) Claim(key string, ttl time.Duration) (func(), error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("mediastore: key required")
	}
	claimPath := filepath.Join(s.dir, key+".claim")

	s.mu.Lock()
	defer s.mu.Unlock()

	if info, err := os.Stat(claimPath); err == nil {
		if ttl > 0 && time.Since(info.ModTime()) > ttl {
			if err := os.Remove(claimPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("mediastore: break stale claim %s: %w", key, err)
			}
			s.logger.Warn("broke stale media claim",
				logging.String("key", key),
				logging.Duration("age", time.Since(info.ModTime())))
		} else {
			return nil, fmt.Errorf("%w: %s", ErrClaimed, key)
		}
	}

	file, err := os.OpenFile(claimPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrClaimed, key)
		}
		return nil, fmt.Errorf("mediastore: create claim %s: %w", key, err)
	}
	_ = file.Close()

	release := func() {
		_ = os.Remove(claimPath)
	}
	return release, nil
}

// Stats walks the store and summarizes its contents.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats, fmt.Errorf("mediastore: read directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".claim") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.TotalBytes += info.Size()
		switch {
		case strings.Contains(name, "-"+string(AssetAudio)):
			stats.AudioCount++
		case strings.Contains(name, "-"+string(AssetImage)):
			stats.ImageCount++
		}
	}
	return stats, nil
}

// PurgeCharacter removes every asset type stored for the character.
func (s *Store) PurgeCharacter(character string) error {
	for _, assetType := range []AssetType{AssetAudio, AssetImage} {
		if err := s.Delete(Key(character, assetType)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) metadataPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) readMetadata(key string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(s.metadataPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return meta, fmt.Errorf("mediastore: read metadata %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("mediastore: parse metadata %s: %w", key, err)
	}
	return meta, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(contentType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(contentType, "audio/wav"):
		return ".wav"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	default:
		return ".bin"
	}
}
