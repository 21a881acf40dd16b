package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the Bazaar catalog: a read-write-locked in-memory cache of
// Resource backed by a durable Store. Readers never block each other;
// writers (Register/Update/Unregister/BulkImport) take the exclusive lock.
type Registry struct {
	mu    sync.RWMutex
	cache map[string]Resource // id -> resource
	byKey map[string]string   // (url,type) -> id, for upsert-by-key
	store Store
}

// New constructs a Registry and preloads it from store.
func New(ctx context.Context, store Store) (*Registry, error) {
	r := &Registry{
		cache: make(map[string]Resource),
		byKey: make(map[string]string),
		store: store,
	}
	resources, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: preload registry: %w", err)
	}
	for _, res := range resources {
		r.cache[res.ID] = res
		r.byKey[res.key()] = res.ID
	}
	return r, nil
}

// Register inserts a new resource, or updates in place if a resource with
// the same (url, type) already exists — the spec's upsert key.
func (r *Registry) Register(ctx context.Context, res Resource) (Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byKey[res.key()]; ok {
		res.ID = existingID
	} else if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.LastUpdated = time.Now()

	if err := r.store.Save(ctx, res); err != nil {
		return Resource{}, fmt.Errorf("discovery: save resource: %w", err)
	}
	r.cache[res.ID] = res
	r.byKey[res.key()] = res.ID
	return res, nil
}

// Update applies a partial update to an existing resource. apply mutates a
// copy of the current record in place; it is the caller's job to only set
// the fields it means to change.
func (r *Registry) Update(ctx context.Context, id string, apply func(*Resource)) (Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.cache[id]
	if !ok {
		return Resource{}, newNotFoundError(id)
	}
	oldKey := current.key()
	apply(&current)
	current.ID = id
	current.LastUpdated = time.Now()

	if err := r.store.Save(ctx, current); err != nil {
		return Resource{}, fmt.Errorf("discovery: save resource: %w", err)
	}
	r.cache[id] = current
	if newKey := current.key(); newKey != oldKey {
		delete(r.byKey, oldKey)
		r.byKey[newKey] = id
	}
	return current, nil
}

// Unregister removes a resource. Returns notFoundError for an unknown id.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.cache[id]
	if !ok {
		return newNotFoundError(id)
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("discovery: delete resource: %w", err)
	}
	delete(r.cache, id)
	delete(r.byKey, res.key())
	return nil
}

// List applies filters, orders by LastUpdated descending (ties broken by
// id), and returns the [offset, offset+limit) slice alongside the total
// match count.
func (r *Registry) List(limit, offset int, filters Filters) Page {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Resource, 0, len(r.cache))
	for _, res := range r.cache {
		if filters.matches(res) {
			matched = append(matched, res)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastUpdated.Equal(matched[j].LastUpdated) {
			return matched[i].LastUpdated.After(matched[j].LastUpdated)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if offset >= total {
		return Page{Total: total}
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := Page{Resources: matched[offset:end], Total: total}
	if end < total {
		page.NextCursor = fmt.Sprintf("%d", end)
	}
	return page
}

// BulkImport registers many resources at once, the shape the aggregator and
// crawler both use. overwrite controls whether an existing (url,type) match
// is replaced; when false, matches are skipped rather than updated.
func (r *Registry) BulkImport(ctx context.Context, resources []Resource, overwrite bool) (imported int, skipped int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range resources {
		if existingID, exists := r.byKey[res.key()]; exists {
			if !overwrite {
				skipped++
				continue
			}
			res.ID = existingID
		} else if res.ID == "" {
			res.ID = uuid.NewString()
		}
		res.LastUpdated = time.Now()
		if saveErr := r.store.Save(ctx, res); saveErr != nil {
			return imported, skipped, fmt.Errorf("discovery: bulk import save: %w", saveErr)
		}
		r.cache[res.ID] = res
		r.byKey[res.key()] = res.ID
		imported++
	}
	return imported, skipped, nil
}
