package fake

import (
	"context"
	"sync"

	"wgsync/internal/reconcile"
)

var _ reconcile.Directory = (*Directory)(nil)

// Directory serves a fixed list of entries.
type Directory struct {
	CallRecorder
	mu      sync.Mutex
	entries []reconcile.Entry

	SearchErr error
}

// NewDirectory returns a Directory serving entries.
func NewDirectory(entries ...reconcile.Entry) *Directory {
	return &Directory{entries: entries}
}

// SetEntries replaces the served entries.
func (d *Directory) SetEntries(entries ...reconcile.Entry) {
	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
}

func (d *Directory) Search(ctx context.Context) ([]reconcile.Entry, error) {
	d.record("Search")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.SearchErr != nil {
		return nil, d.SearchErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]reconcile.Entry, len(d.entries))
	copy(out, d.entries)
	return out, nil
}
