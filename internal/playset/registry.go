// Package playset exposes read-only lookups of execution templates. The
// runtime never mutates playsets; the admin surface owns them, so every
// lookup goes back to the store to pick up limit changes between sessions.
package playset

import (
	"errors"

	"github.com/conneradamsmaine/playgroundd/internal/store"
)

var (
	ErrNotFound = errors.New("playset not found")
	ErrDisabled = errors.New("playset is disabled")
)

type Store interface {
	GetPlaysetByID(id int64) (*store.Playset, error)
	GetPlaysetBySlug(slug string) (*store.Playset, error)
	ListPlaysets() ([]*store.Playset, error)
}

type Registry struct {
	store Store
}

func NewRegistry(st Store) *Registry {
	return &Registry{store: st}
}

func (r *Registry) GetByID(id int64) (*store.Playset, error) {
	p, err := r.store.GetPlaysetByID(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *Registry) GetBySlug(slug string) (*store.Playset, error) {
	p, err := r.store.GetPlaysetBySlug(slug)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// ListEnabled returns playsets accepting new sessions.
func (r *Registry) ListEnabled() ([]*store.Playset, error) {
	all, err := r.store.ListPlaysets()
	if err != nil {
		return nil, err
	}
	enabled := make([]*store.Playset, 0, len(all))
	for _, p := range all {
		if p.Enabled == 1 {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}
