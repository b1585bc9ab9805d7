package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MrCodeEU/facecheck/pkg/imageio"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/match"
)

// GalleryDirName is the directory holding an organization's gallery faces.
const GalleryDirName = "gallery"

var galleryExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// GalleryDir serves the face crops in orgs/<org>/gallery as a gallery.
// The file name without extension is the gallery entry id.
type GalleryDir struct {
	dataDir string
	maxSize int
}

// NewGalleryDir creates a GalleryDir. maxSize <= 0 uses imageio.DefaultMaxSize.
func NewGalleryDir(dataDir string, maxSize int) *GalleryDir {
	if maxSize <= 0 {
		maxSize = imageio.DefaultMaxSize
	}
	return &GalleryDir{dataDir: dataDir, maxSize: maxSize}
}

// Gallery implements attendance.GalleryProvider. Entries are sorted by id.
// Files that cannot be decoded are skipped with a warning.
func (g *GalleryDir) Gallery(ctx context.Context, orgID string) ([]match.GalleryEntry, error) {
	dir, err := orgDir(g.dataDir, orgID)
	if err != nil {
		return nil, err
	}
	galleryPath := filepath.Join(dir, GalleryDirName)

	files, err := os.ReadDir(galleryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []match.GalleryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to list gallery: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !galleryExts[strings.ToLower(filepath.Ext(f.Name()))] {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	log := logging.Component("storage").WithField("org", orgID)
	entries := make([]match.GalleryEntry, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if seen[id] {
			log.WithField("gallery_id", id).Warnf("Skipping %s, id already taken", name)
			continue
		}
		img, err := imageio.LoadFile(id, filepath.Join(galleryPath, name), g.maxSize)
		if err != nil {
			log.WithField("gallery_id", id).WithError(err).Warn("Skipping unreadable gallery image")
			continue
		}
		seen[id] = true
		entries = append(entries, match.GalleryEntry{ID: id, Image: img})
	}

	log.Debugf("Loaded %d gallery faces", len(entries))
	return entries, nil
}
