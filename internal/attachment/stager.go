// Package attachment stages user-selected files: it sniffs their type,
// keeps a copy on disk for previews and produces the Attachment record
// that travels with the message.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gemchat/internal/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	DefaultTTL             = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultMaxBytes        = 20 << 20

	// PreviewPrefix is the route staged files are served under.
	PreviewPrefix = "/api/attachments/"
)

var (
	ErrTooLarge = errors.New("attachment too large")
	ErrEmpty    = errors.New("attachment is empty")
	ErrNotFound = errors.New("attachment not found")
)

// Stager writes staged files below one directory. Files carry their id
// as name, so a restart loses nothing but the original file names.
type Stager struct {
	dir      string
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time
}

func NewStager(dir string, ttl time.Duration, maxBytes int64) *Stager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Stager{dir: dir, ttl: ttl, maxBytes: maxBytes, now: time.Now}
}

// Stage reads one file and returns its Attachment record.
func (s *Stager) Stage(name string, r io.Reader) (models.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return models.Attachment{}, ErrTooLarge
	}
	if len(data) == 0 {
		return models.Attachment{}, ErrEmpty
	}
	mimeType, ext := detect(name, data)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return models.Attachment{}, fmt.Errorf("create attachment dir: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return models.Attachment{}, fmt.Errorf("save attachment: %w", err)
	}
	return models.Attachment{
		ID:         id,
		Name:       filepath.Base(name),
		MIMEType:   mimeType,
		Type:       models.ClassifyMIME(mimeType),
		PreviewURL: PreviewPrefix + id,
		Data:       base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Open locates a staged file for preview.
func (s *Stager) Open(id string) (path string, mimeType string, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrNotFound
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, id+"*"))
	if err != nil || len(matches) == 0 {
		return "", "", ErrNotFound
	}
	mt, err := mimetype.DetectFile(matches[0])
	if err != nil {
		return "", "", fmt.Errorf("detect attachment type: %w", err)
	}
	return matches[0], mt.String(), nil
}

// StartCleaner removes expired files every interval until ctx is done.
func (s *Stager) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Stager) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(); err != nil {
				log.Printf("cleanup attachments error: %v", err)
			}
		}
	}
}

// Cleanup removes files older than the TTL and reports how many went.
func (s *Stager) Cleanup() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove attachment %s failed: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// detect sniffs the content and falls back to the file extension when the
// content says nothing useful.
func detect(name string, data []byte) (string, string) {
	mt := mimetype.Detect(data)
	mimeType, _, _ := strings.Cut(mt.String(), ";")
	ext := mt.Extension()
	if mimeType == "application/octet-stream" || mimeType == "text/plain" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			t, _, _ := strings.Cut(byExt, ";")
			if t != mimeType {
				return t, strings.ToLower(filepath.Ext(name))
			}
		}
	}
	return mimeType, ext
}
