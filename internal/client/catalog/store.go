package catalog

import (
	"sync"

	"github.com/lorrc/marketplace-realtime/internal/client/intent"
)

// Store holds a confirmed base list plus pending actions. The visible list is
// always the base with every pending action replayed in submission order, so
// a rejected action disappears without touching the others.
type Store struct {
	mu      sync.RWMutex
	base    []Item
	view    []Item
	pending *intent.Queue[Action]
	ids     IDGenerator
}

// NewStore creates a store seeded with items as confirmed state.
func NewStore(items []Item, ids IDGenerator) *Store {
	if ids == nil {
		ids = DefaultIDs
	}
	base := cloneItems(items)
	return &Store{
		base:    base,
		view:    cloneItems(base),
		pending: intent.NewQueue[Action](),
		ids:     ids,
	}
}

// Dispatch applies a optimistically and records it as pending. The returned
// id settles it through Confirm or Fail.
func (s *Store) Dispatch(a Action) (string, error) {
	if err := Validate(a); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a = Prepare(s.view, a, s.ids)
	id := s.pending.Enqueue(a)
	s.view = Reduce(s.view, a)
	return id, nil
}

// Confirm folds the action into the base. Items returned by the server
// overwrite their local counterparts in the base, matched by id. For a
// DuplicateBulk they are matched to the copies by position instead: a copy
// the server stored under another id is renamed in the base and in every
// pending action.
func (s *Store) Confirm(intentID string, serverItems ...Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := s.pending.Confirm(intentID)
	if err != nil {
		return err
	}
	s.base = Reduce(s.base, in.Op)
	if d, ok := in.Op.(DuplicateBulk); ok && len(serverItems) == len(d.NewIDs) {
		renames := make(map[string]string)
		for i, it := range serverItems {
			if it.ID != "" && it.ID != d.NewIDs[i] {
				renames[d.NewIDs[i]] = it.ID
			}
		}
		if len(renames) > 0 {
			s.base = renameItems(s.base, renames)
			s.pending.Rewrite(func(a Action) Action { return renameAction(a, renames) })
		}
	}
	for _, it := range serverItems {
		s.base = Reduce(s.base, UpsertItem{Patch: PatchFrom(it)})
	}
	s.replayLocked()
	return nil
}

// renameItems moves items to their new ids in place. An item whose new id
// is already taken is dropped; the server copy is upserted over the holder.
func renameItems(items []Item, renames map[string]string) []Item {
	taken := make(map[string]bool, len(items))
	for _, it := range items {
		taken[it.ID] = true
	}
	out := items[:0]
	for _, it := range items {
		if to, ok := renames[it.ID]; ok {
			if taken[to] {
				continue
			}
			it.ID = to
		}
		out = append(out, it)
	}
	return out
}

func renameAction(a Action, renames map[string]string) Action {
	one := func(id string) string {
		if to, ok := renames[id]; ok {
			return to
		}
		return id
	}
	all := func(ids []string) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = one(id)
		}
		return out
	}
	switch v := a.(type) {
	case UpsertItem:
		v.Patch.ID = one(v.Patch.ID)
		return v
	case RemoveItems:
		return RemoveItems{IDs: all(v.IDs)}
	case ToggleFavorite:
		return ToggleFavorite{ID: one(v.ID)}
	case SetStatusBulk:
		return SetStatusBulk{IDs: all(v.IDs), Status: v.Status}
	case DuplicateBulk:
		return DuplicateBulk{IDs: all(v.IDs), NewIDs: v.NewIDs}
	}
	return a
}

// Fail drops the action and rebuilds the view without it.
func (s *Store) Fail(intentID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pending.Fail(intentID, cause); err != nil {
		return err
	}
	s.replayLocked()
	return nil
}

// Reconcile replaces the base with a server snapshot and replays what is
// still pending over it.
func (s *Store) Reconcile(serverItems []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = cloneItems(serverItems)
	s.replayLocked()
}

func (s *Store) replayLocked() {
	view := cloneItems(s.base)
	for _, in := range s.pending.Pending() {
		view = Reduce(view, in.Op)
	}
	s.view = view
}

// Items returns the visible list.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.view)
}

// Confirmed returns the base list.
func (s *Store) Confirmed() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.base)
}

// Pending returns the actions awaiting the server, oldest first.
func (s *Store) Pending() []intent.Intent[Action] {
	return s.pending.Pending()
}
