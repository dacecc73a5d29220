// Package backup copies the namespace documents to a snapshot destination.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/codec"
)

// ManifestName is the object written last in every snapshot
const ManifestName = "manifest.json"

// Destination stores snapshot objects
type Destination interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Locator resolves where a namespace document lives on disk
type Locator interface {
	Path(ns storage.Namespace) string
}

// Manifest describes one snapshot
type Manifest struct {
	Prefix    string
	CreatedAt time.Time
	Files     map[storage.Namespace]int // bytes copied per namespace
}

// Service takes snapshots of every registered namespace
type Service struct {
	files  Locator
	dest   Destination
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates a backup service writing below prefix in dest
func NewService(files Locator, dest Destination, prefix string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default
	}
	return &Service{
		files:  files,
		dest:   dest,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// Snapshot copies each namespace file as it is on disk. Documents are replaced by
// rename, so every copy is a whole document even while the bot is writing.
// Namespaces that were never written are skipped.
func (s *Service) Snapshot(ctx context.Context) (*Manifest, error) {
	created := s.now().UTC()
	m := &Manifest{
		Prefix:    path.Join(s.prefix, created.Format("20060102T150405Z")),
		CreatedAt: created,
		Files:     make(map[storage.Namespace]int),
	}

	for _, ns := range storage.Namespaces() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(s.files.Path(ns))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", ns, err)
		}

		if err := s.dest.Put(ctx, path.Join(m.Prefix, ns.RelPath()), data); err != nil {
			return nil, fmt.Errorf("error uploading %s: %w", ns, err)
		}
		m.Files[ns] = len(data)
	}

	manifest, err := codec.Encode(m.tree())
	if err != nil {
		return nil, err
	}
	if err := s.dest.Put(ctx, path.Join(m.Prefix, ManifestName), manifest); err != nil {
		return nil, fmt.Errorf("error uploading manifest: %w", err)
	}

	s.logger.Info("Snapshot %s written with %d documents", m.Prefix, len(m.Files))
	return m, nil
}

func (m *Manifest) tree() map[string]any {
	files := make(map[string]any, len(m.Files))
	for ns, size := range m.Files {
		files[ns.RelPath()] = int64(size)
	}
	return map[string]any{
		"created_at": m.CreatedAt.Format(time.RFC3339),
		"files":      files,
	}
}
