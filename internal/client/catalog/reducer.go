package catalog

import (
	"errors"
	"fmt"
)

// ActionKind names an action.
type ActionKind string

const (
	KindUpsertItem     ActionKind = "UPSERT_ITEM"
	KindRemoveItems    ActionKind = "REMOVE_ITEMS"
	KindToggleFavorite ActionKind = "TOGGLE_FAVORITE"
	KindSetStatusBulk  ActionKind = "SET_STATUS_BULK"
	KindDuplicateBulk  ActionKind = "DUPLICATE_BULK"
)

// Action is one of the five catalog actions.
type Action interface {
	Kind() ActionKind
}

// ItemPatch carries the fields of an upsert. Nil fields keep the current
// value; on insert they take the zero value.
type ItemPatch struct {
	ID         string
	Name       *string
	Price      *float64
	Stock      *int
	ClearStock bool
	Status     *Status
	Favorite   *bool
	Images     []string
}

// PatchFrom builds a patch setting every field of it.
func PatchFrom(it Item) ItemPatch {
	it = it.clone()
	p := ItemPatch{
		ID:       it.ID,
		Name:     &it.Name,
		Price:    &it.Price,
		Stock:    it.Stock,
		Favorite: &it.Favorite,
		Images:   it.Images,
	}
	if it.Stock == nil {
		p.ClearStock = true
	}
	if it.Status != "" {
		p.Status = &it.Status
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	return p
}

// UpsertItem inserts the item if its id is absent, else merges the patch over it.
type UpsertItem struct{ Patch ItemPatch }

// RemoveItems drops the listed ids.
type RemoveItems struct{ IDs []string }

// ToggleFavorite flips the favorite flag of one item.
type ToggleFavorite struct{ ID string }

// SetStatusBulk sets the status of the listed ids.
type SetStatusBulk struct {
	IDs    []string
	Status Status
}

// DuplicateBulk clones the listed ids as unpublished copies. NewIDs, aligned
// with IDs, fixes the ids of the copies so replaying the action is
// deterministic; Prepare fills it.
type DuplicateBulk struct {
	IDs    []string
	NewIDs []string
}

func (UpsertItem) Kind() ActionKind     { return KindUpsertItem }
func (RemoveItems) Kind() ActionKind    { return KindRemoveItems }
func (ToggleFavorite) Kind() ActionKind { return KindToggleFavorite }
func (SetStatusBulk) Kind() ActionKind  { return KindSetStatusBulk }
func (DuplicateBulk) Kind() ActionKind  { return KindDuplicateBulk }

// Validate rejects malformed actions.
func Validate(a Action) error {
	switch a := a.(type) {
	case UpsertItem:
		if a.Patch.ID == "" {
			return errors.New("upsert: id is required")
		}
		if a.Patch.Status != nil && !a.Patch.Status.Valid() {
			return fmt.Errorf("upsert: unknown status %q", *a.Patch.Status)
		}
		if a.Patch.Price != nil && *a.Patch.Price < 0 {
			return errors.New("upsert: price must not be negative")
		}
		if a.Patch.Stock != nil && *a.Patch.Stock < 0 {
			return errors.New("upsert: stock must not be negative")
		}
	case RemoveItems:
		if len(a.IDs) == 0 {
			return errors.New("remove: no ids")
		}
	case ToggleFavorite:
		if a.ID == "" {
			return errors.New("toggle favorite: id is required")
		}
	case SetStatusBulk:
		if !a.Status.Valid() {
			return fmt.Errorf("set status: unknown status %q", a.Status)
		}
	case DuplicateBulk:
		if len(a.NewIDs) != 0 && len(a.NewIDs) != len(a.IDs) {
			return errors.New("duplicate: new ids do not match ids")
		}
	case nil:
		return errors.New("nil action")
	default:
		return fmt.Errorf("unknown action %T", a)
	}
	return nil
}

// Prepare assigns copy ids to a DuplicateBulk, unique against items and the
// batch. Other actions are returned unchanged.
func Prepare(items []Item, a Action, gen IDGenerator) Action {
	d, ok := a.(DuplicateBulk)
	if !ok || len(d.NewIDs) == len(d.IDs) {
		return a
	}
	if gen == nil {
		gen = DefaultIDs
	}
	taken := make(map[string]bool, len(items)+len(d.IDs))
	for _, it := range items {
		taken[it.ID] = true
	}
	newIDs := make([]string, len(d.IDs))
	for i := range d.IDs {
		id := gen()
		for taken[id] {
			id = gen()
		}
		taken[id] = true
		newIDs[i] = id
	}
	return DuplicateBulk{IDs: append([]string(nil), d.IDs...), NewIDs: newIDs}
}

// Reduce returns the list after applying a. The input is not modified.
// Unknown or invalid actions return an unchanged copy.
func Reduce(items []Item, a Action) []Item {
	out := cloneItems(items)
	if Validate(a) != nil {
		return out
	}

	switch a := a.(type) {
	case UpsertItem:
		return upsert(out, a.Patch)
	case RemoveItems:
		drop := set(a.IDs)
		kept := out[:0]
		for _, it := range out {
			if !drop[it.ID] {
				kept = append(kept, it)
			}
		}
		return kept
	case ToggleFavorite:
		for i := range out {
			if out[i].ID == a.ID {
				out[i].Favorite = !out[i].Favorite
			}
		}
		return out
	case SetStatusBulk:
		ids := set(a.IDs)
		for i := range out {
			if ids[out[i].ID] {
				out[i].Status = a.Status
			}
		}
		return out
	case DuplicateBulk:
		d := Prepare(out, a, nil).(DuplicateBulk)
		byID := make(map[string]Item, len(out))
		for _, it := range out {
			byID[it.ID] = it
		}
		for i, id := range d.IDs {
			src, ok := byID[id]
			if !ok {
				continue
			}
			cp := src.clone()
			cp.ID = d.NewIDs[i]
			cp.Name = src.Name + CopySuffix
			cp.Status = StatusUnpublished
			out = append(out, cp)
		}
		return out
	}
	return out
}

func upsert(items []Item, p ItemPatch) []Item {
	for i := range items {
		if items[i].ID == p.ID {
			items[i] = merge(items[i], p)
			return items
		}
	}
	return append(items, merge(Item{ID: p.ID, Status: StatusUnpublished}, p))
}

func merge(it Item, p ItemPatch) Item {
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Price != nil {
		it.Price = *p.Price
	}
	if p.ClearStock {
		it.Stock = nil
	}
	if p.Stock != nil {
		s := *p.Stock
		it.Stock = &s
	}
	if p.Status != nil {
		it.Status = *p.Status
	}
	if p.Favorite != nil {
		it.Favorite = *p.Favorite
	}
	if p.Images != nil {
		it.Images = append([]string(nil), p.Images...)
	}
	return it
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.clone()
	}
	return out
}

func set(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
