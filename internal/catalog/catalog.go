// Package catalog looks up playable character sets. The engine only needs (id, traits)
// pairs; where they come from is up to the implementation.
package catalog

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/guess-who-backend/internal/engine"
)

const DefaultSet = "classic"

type Catalog interface {
	Characters(ctx context.Context, setID string) ([]engine.Character, error)
}

//go:embed sets/*.json
var setFiles embed.FS

type setFile struct {
	ID         string             `json:"id"`
	Characters []engine.Character `json:"characters"`
}

// Static serves the character sets compiled into the binary.
type Static struct {
	sets map[string][]engine.Character
}

func NewStatic() (*Static, error) {
	entries, err := setFiles.ReadDir("sets")
	if err != nil {
		return nil, fmt.Errorf("read embedded sets: %w", err)
	}
	s := &Static{sets: make(map[string][]engine.Character, len(entries))}
	for _, e := range entries {
		data, err := setFiles.ReadFile(path.Join("sets", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var f setFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Name(), err)
		}
		s.sets[f.ID] = f.Characters
	}
	return s, nil
}

// StaticFrom builds a catalog from in-memory sets. Handy for tests.
func StaticFrom(sets map[string][]engine.Character) *Static {
	return &Static{sets: sets}
}

func (s *Static) Characters(_ context.Context, setID string) ([]engine.Character, error) {
	chars, ok := s.sets[setID]
	if !ok {
		return nil, engine.Errorf(engine.KindCatalogUnavailable, "unknown character set %q", setID)
	}
	return slices.Clone(chars), nil
}

// Sets lists the set ids in sorted order.
func (s *Static) Sets() []string {
	ids := make([]string, 0, len(s.sets))
	for id := range s.sets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Cached memoizes a slower catalog. Concurrent misses for the same set share one lookup.
type Cached struct {
	next  Catalog
	group singleflight.Group

	mu   sync.RWMutex
	sets map[string][]engine.Character
}

func NewCached(next Catalog) *Cached {
	return &Cached{next: next, sets: make(map[string][]engine.Character)}
}

func (c *Cached) Characters(ctx context.Context, setID string) ([]engine.Character, error) {
	c.mu.RLock()
	chars, ok := c.sets[setID]
	c.mu.RUnlock()
	if ok {
		return slices.Clone(chars), nil
	}

	v, err, _ := c.group.Do(setID, func() (any, error) {
		chars, err := c.next.Characters(ctx, setID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.sets[setID] = chars
		c.mu.Unlock()
		return chars, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]engine.Character)), nil
}

// Forget drops a cached set so the next lookup goes to the backing catalog.
func (c *Cached) Forget(setID string) {
	c.mu.Lock()
	delete(c.sets, setID)
	c.mu.Unlock()
	c.group.Forget(setID)
}
