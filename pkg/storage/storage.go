package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"github.com/fadedpez/cantina/internal/types"
)

// Record is the data tree for one entity
type Record = map[string]any

// Document is the full content of one namespace file: entity ID -> Record
type Document = map[string]any

// Namespace names a logical collection persisted as one file
type Namespace string

// Registered namespaces. Lock ordering across namespaces follows the string order of these names.
const (
	Economy        Namespace = "economy"
	Market         Namespace = "market"
	MemberSettings Namespace = "member_settings"
	Reminders      Namespace = "reminders"
	ServerInfo     Namespace = "server_info"
)

type namespaceInfo struct {
	path     string // relative to the storage root
	critical bool   // corrupt files abort instead of falling back to empty
}

var registry = map[Namespace]namespaceInfo{
	Economy:        {path: filepath.Join("economy", "economy.json"), critical: true},
	Market:         {path: filepath.Join("economy", "market.json"), critical: true},
	ServerInfo:     {path: "server_info.json", critical: true},
	MemberSettings: {path: "member_settings.json"},
	Reminders:      {path: "reminders.json"},
}

// Namespaces returns every registered namespace in lock order
func Namespaces() []Namespace {
	out := make([]Namespace, 0, len(registry))
	for ns := range registry {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether ns is registered
func (ns Namespace) Known() bool {
	_, ok := registry[ns]
	return ok
}

// RelPath returns the file path of ns relative to the storage root
func (ns Namespace) RelPath() string {
	return registry[ns].path
}

// Critical reports whether a corrupt file for ns must fail the operation
func (ns Namespace) Critical() bool {
	return registry[ns].critical
}

func (ns Namespace) String() string {
	return string(ns)
}

// ErrUnchanged is returned by an Update function that made no changes, so nothing is written
var ErrUnchanged = errors.New("document unchanged")

// Store defines whole-document persistence for namespaces
type Store interface {
	// Load reads the whole document for ns; a missing file yields an empty document
	Load(ctx context.Context, ns Namespace) (Document, error)

	// Save atomically replaces the document for ns
	Save(ctx context.Context, ns Namespace, doc Document) error

	// Update loads ns, applies fn and saves the result unless fn fails.
	// Updates of one namespace never interleave.
	Update(ctx context.Context, ns Namespace, fn func(Document) error) error

	// EnsureEntity returns the record for id, creating and persisting it when missing
	EnsureEntity(ctx context.Context, ns Namespace, id string, factory func() Record) (Record, error)
}

// GetEntity returns the record for id, if present
func GetEntity(doc Document, id string) (Record, bool, error) {
	v, ok := doc[id]
	if !ok {
		return nil, false, nil
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, false, types.Errorf(types.ErrPathConflict, "entity %s holds %T, expected a record", id, v)
	}
	return rec, true, nil
}

// EnsureIn returns the record for id in doc, creating it with factory when missing.
// created reports whether doc was changed.
func EnsureIn(doc Document, id string, factory func() Record) (rec Record, created bool, err error) {
	rec, ok, err := GetEntity(doc, id)
	if err != nil || ok {
		return rec, false, err
	}
	rec = factory()
	doc[id] = rec
	return rec, true, nil
}
