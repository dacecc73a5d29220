package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/codec"
)

// Storage keeps one JSON document per namespace under a root directory.
//
// It holds no cached state: every Load reads the file again. Writers of one
// namespace are serialized inside Update so that cycles on different entities of
// the same file cannot overwrite each other; callers still hold guard keys for the
// entities they touch.
type Storage struct {
	root   string
	logger *logging.Logger
	locks  map[storage.Namespace]*sync.Mutex
}

var _ storage.Store = (*Storage)(nil)

// New creates a file storage rooted at root. The directory is created on first write.
func New(root string, logger *logging.Logger) *Storage {
	if logger == nil {
		logger = logging.Default
	}
	locks := make(map[storage.Namespace]*sync.Mutex)
	for _, ns := range storage.Namespaces() {
		locks[ns] = &sync.Mutex{}
	}
	return &Storage{
		root:   root,
		logger: logger,
		locks:  locks,
	}
}

// Root returns the storage root directory
func (s *Storage) Root() string {
	return s.root
}

// Path returns the absolute file path of a namespace
func (s *Storage) Path(ns storage.Namespace) string {
	return filepath.Join(s.root, ns.RelPath())
}

// Load reads the whole document for ns
func (s *Storage) Load(ctx context.Context, ns storage.Namespace) (storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ns.Known() {
		return nil, types.Errorf(types.ErrInternalError, "unknown namespace %q", ns)
	}

	data, err := os.ReadFile(s.Path(ns))
	if errors.Is(err, os.ErrNotExist) {
		return storage.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ns, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return storage.Document{}, nil
	}

	doc, err := decodeDocument(ns, data)
	if err == nil {
		return doc, nil
	}

	s.logger.LogError(err, "namespace", ns.String(), "path", s.Path(ns))
	if ns.Critical() {
		return nil, err
	}

	kept, qerr := s.quarantine(ns)
	if qerr != nil {
		s.logger.Error("Could not set aside corrupt %s, refusing to treat it as empty: %v", ns, qerr)
		return nil, err
	}
	s.logger.Warn("Treating %s as empty after decode failure, corrupt file kept at %s", ns, kept)
	return storage.Document{}, nil
}

// quarantine renames an undecodable file out of the way so the next save cannot
// replace it. A file already moved by a concurrent Load counts as done.
func (s *Storage) quarantine(ns storage.Namespace) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%s", s.Path(ns), time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err := os.Rename(s.Path(ns), target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return target, nil
}

func decodeDocument(ns storage.Namespace, data []byte) (storage.Document, error) {
	tree, err := codec.Decode(data)
	if err != nil {
		return nil, types.WrapError(types.ErrCorruptDocument, fmt.Sprintf("%s could not be decoded", ns), err)
	}
	doc, ok := tree.(map[string]any)
	if !ok {
		return nil, types.Errorf(types.ErrCorruptDocument, "%s holds %T at the top level", ns, tree)
	}
	return doc, nil
}

// Save atomically replaces the document for ns. The content goes to a temp file in
// the same directory which is synced and then renamed over the target, so readers
// and crashes only ever see the old or the new file.
func (s *Storage) Save(ctx context.Context, ns storage.Namespace, doc storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ns.Known() {
		return types.Errorf(types.ErrInternalError, "unknown namespace %q", ns)
	}

	mu := s.locks[ns]
	mu.Lock()
	defer mu.Unlock()
	return s.write(ns, doc)
}

func (s *Storage) write(ns storage.Namespace, doc storage.Document) error {
	data, err := codec.Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ns, err)
	}

	path := s.Path(ns)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", ns, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", ns, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", ns, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", ns, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", ns, err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk; not every platform supports it, so errors are ignored
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

// Update loads ns, applies fn and saves the result. Nothing is written if fn fails;
// fn returns storage.ErrUnchanged to skip the write without failing.
func (s *Storage) Update(ctx context.Context, ns storage.Namespace, fn func(storage.Document) error) error {
	if !ns.Known() {
		return types.Errorf(types.ErrInternalError, "unknown namespace %q", ns)
	}

	mu := s.locks[ns]
	mu.Lock()
	defer mu.Unlock()

	doc, err := s.Load(ctx, ns)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, storage.ErrUnchanged) {
			return nil
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(ns, doc)
}

// EnsureEntity returns the record for id in ns, creating it with factory and
// persisting the document immediately when it does not exist yet.
func (s *Storage) EnsureEntity(ctx context.Context, ns storage.Namespace, id string, factory func() storage.Record) (storage.Record, error) {
	var rec storage.Record
	err := s.Update(ctx, ns, func(doc storage.Document) error {
		var created bool
		var err error
		rec, created, err = storage.EnsureIn(doc, id, factory)
		if err != nil {
			return err
		}
		if !created {
			return storage.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
