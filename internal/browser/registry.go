package browser

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrRefNotFound is returned when a ref was never issued by this registry.
var ErrRefNotFound = errors.New("ref not found")

// ErrRefStale is returned when a ref was issued but its element disappeared
// from a later snapshot or was invalidated by navigation.
var ErrRefStale = errors.New("ref is stale")

// Locator captures the identifying structure of an element so it can be
// re-located in the live DOM after the snapshot that produced it.
type Locator struct {
	Tag      string            `json:"tag"`      // Lowercase tag name (button, input, etc.)
	Attrs    map[string]string `json:"attrs"`    // Identifying attributes (id, name, role, type, ...)
	Text     string            `json:"text"`     // Normalized text content, first 100 chars
	Path     string            `json:"path"`     // Ancestor tag path from the root, e.g. "html>body>form"
	Selector string            `json:"selector"` // Positional CSS selector computed at snapshot time
}

// structuralKey returns the match key used to carry refs across snapshots.
// Two elements with the same tag, identifying attributes, and ancestor path
// are considered the same element; text breaks ties between siblings.
func (l Locator) structuralKey() string {
	var b strings.Builder
	b.WriteString(l.Tag)
	b.WriteByte('|')
	b.WriteString(l.Path)
	b.WriteByte('|')
	keys := make([]string, 0, len(l.Attrs))
	for k := range l.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(l.Attrs[k])
		b.WriteByte(';')
	}
	return b.String()
}

type refEntry struct {
	id      int
	locator Locator
	epoch   uint64 // last snapshot epoch the element was observed in
	stale   bool
}

// RefRegistry issues integer refs for snapshot elements and carries them
// across snapshots of the same document. Refs are monotonically increasing
// and never recycled; an element that survives DOM mutation keeps its ref,
// an element that disappears leaves its ref permanently stale.
type RefRegistry struct {
	mu      sync.RWMutex
	nextID  int
	epoch   uint64
	entries map[int]*refEntry
	// byKey indexes live entries by structural key for cross-snapshot matching.
	byKey       map[string][]*refEntry
	lastCleared time.Time
}

// NewRefRegistry creates an empty registry. The first issued ref is 1.
func NewRefRegistry() *RefRegistry {
	return &RefRegistry{
		nextID:      1,
		entries:     make(map[int]*refEntry),
		byKey:       make(map[string][]*refEntry),
		lastCleared: time.Now(),
	}
}

// BeginSnapshot advances the epoch counter and returns the new epoch.
// Each snapshot build calls this exactly once before observing elements.
func (r *RefRegistry) BeginSnapshot() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	return r.epoch
}

// Observe records one element seen during the current snapshot build and
// returns its ref. An element matching a live entry from a previous epoch
// reuses that entry's ref; otherwise a fresh ref is issued.
func (r *RefRegistry) Observe(loc Locator) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := loc.structuralKey()
	if match := r.matchLocked(key, loc); match != nil {
		match.locator = loc
		match.epoch = r.epoch
		return match.id
	}

	e := &refEntry{id: r.nextID, locator: loc, epoch: r.epoch}
	r.nextID++
	r.entries[e.id] = e
	r.byKey[key] = append(r.byKey[key], e)
	return e.id
}

// matchLocked finds a live entry from a previous epoch with the same
// structural key. When several candidates share the key, an exact text
// match wins; otherwise the lowest unclaimed ref is reused.
func (r *RefRegistry) matchLocked(key string, loc Locator) *refEntry {
	var fallback *refEntry
	for _, e := range r.byKey[key] {
		if e.stale || e.epoch == r.epoch {
			continue // already claimed in this snapshot or permanently gone
		}
		if e.locator.Text == loc.Text {
			return e
		}
		if fallback == nil || e.id < fallback.id {
			fallback = e
		}
	}
	return fallback
}

// EndSnapshot marks every entry not observed during the current epoch as
// stale. Their refs remain known so lookups can distinguish a stale ref
// from one that was never issued.
func (r *RefRegistry) EndSnapshot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.epoch < r.epoch && !e.stale {
			e.stale = true
		}
	}
	r.compactKeysLocked()
}

// compactKeysLocked drops stale entries from the match index. The entries
// map keeps them for staleness reporting.
func (r *RefRegistry) compactKeysLocked() {
	for key, list := range r.byKey {
		live := list[:0]
		for _, e := range list {
			if !e.stale {
				live = append(live, e)
			}
		}
		if len(live) == 0 {
			delete(r.byKey, key)
		} else {
			r.byKey[key] = live
		}
	}
}

// Resolve returns the locator for a ref. It distinguishes refs that were
// never issued from refs whose element has since disappeared.
func (r *RefRegistry) Resolve(id int) (Locator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Locator{}, ErrRefNotFound
	}
	if e.stale {
		return Locator{}, ErrRefStale
	}
	return e.locator, nil
}

// MarkStale flags a single ref whose element failed to resolve in the live
// DOM, so later lookups report staleness instead of retrying.
func (r *RefRegistry) MarkStale(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.stale = true
	}
}

// InvalidateAll marks every issued ref stale. Called on navigation, since
// refs never survive a document change.
func (r *RefRegistry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.stale = true
	}
	r.byKey = make(map[string][]*refEntry)
	r.lastCleared = time.Now()
}

// Epoch returns the current snapshot epoch.
func (r *RefRegistry) Epoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// Count returns the number of refs issued so far, live and stale.
func (r *RefRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LiveCount returns the number of refs that still resolve.
func (r *RefRegistry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if !e.stale {
			n++
		}
	}
	return n
}
