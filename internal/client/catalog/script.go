package catalog

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Outcome says how a scripted action is settled after dispatch.
type Outcome string

const (
	OutcomeConfirm Outcome = "confirm"
	OutcomeFail    Outcome = "fail"
	OutcomePending Outcome = "pending"
)

// Script is a YAML description of a catalog session:
//
//	items:
//	  - {id: p1, name: Lamp, price: 20, status: published}
//	actions:
//	  - type: DUPLICATE_BULK
//	    ids: [p1]
//	  - type: SET_STATUS_BULK
//	    ids: [p1]
//	    status: unpublished
//	    outcome: fail
type Script struct {
	Items   []Item `yaml:"items"`
	Actions []Step `yaml:"actions"`
}

// Step is one scripted action.
type Step struct {
	Type    ActionKind `yaml:"type"`
	Outcome Outcome    `yaml:"outcome"`

	Item   *stepItem `yaml:"item"`
	ID     string    `yaml:"id"`
	IDs    []string  `yaml:"ids"`
	Status Status    `yaml:"status"`
}

// stepItem distinguishes absent fields from zero values for upserts.
type stepItem struct {
	ID       string    `yaml:"id"`
	Name     *string   `yaml:"name"`
	Price    *float64  `yaml:"price"`
	Stock    yaml.Node `yaml:"stock"`
	Status   *Status   `yaml:"status"`
	Favorite *bool     `yaml:"favorite"`
	Images   []string  `yaml:"images"`
}

// ParseScript decodes and validates a script.
func ParseScript(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("script is empty")
		}
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, it := range s.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("items[%d]: id is required", i)
		}
		if it.Status == "" {
			s.Items[i].Status = StatusUnpublished
		} else if !it.Status.Valid() {
			return nil, fmt.Errorf("items[%d]: unknown status %q", i, it.Status)
		}
	}
	for i, st := range s.Actions {
		if _, err := st.Action(); err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		switch st.Outcome {
		case "", OutcomeConfirm, OutcomeFail, OutcomePending:
		default:
			return nil, fmt.Errorf("actions[%d]: unknown outcome %q", i, st.Outcome)
		}
	}
	return &s, nil
}

// Action converts the step to a validated action.
func (st Step) Action() (Action, error) {
	var a Action
	switch st.Type {
	case KindUpsertItem:
		if st.Item == nil {
			return nil, errors.New("upsert: item is required")
		}
		p, err := st.Item.patch()
		if err != nil {
			return nil, err
		}
		a = UpsertItem{Patch: p}
	case KindRemoveItems:
		a = RemoveItems{IDs: st.IDs}
	case KindToggleFavorite:
		a = ToggleFavorite{ID: st.ID}
	case KindSetStatusBulk:
		a = SetStatusBulk{IDs: st.IDs, Status: st.Status}
	case KindDuplicateBulk:
		a = DuplicateBulk{IDs: st.IDs}
	default:
		return nil, fmt.Errorf("unknown action type %q", st.Type)
	}
	if err := Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (si *stepItem) patch() (ItemPatch, error) {
	p := ItemPatch{
		ID:       si.ID,
		Name:     si.Name,
		Price:    si.Price,
		Status:   si.Status,
		Favorite: si.Favorite,
		Images:   si.Images,
	}
	switch {
	case si.Stock.Kind == 0:
		// absent
	case si.Stock.ShortTag() == "!!null":
		p.ClearStock = true
	default:
		var n int
		if err := si.Stock.Decode(&n); err != nil {
			return ItemPatch{}, fmt.Errorf("upsert: stock: %w", err)
		}
		p.Stock = &n
	}
	return p, nil
}
