// Package catalog is the supplier's local listing store: a pure reducer over
// five action kinds, and a Store that applies actions optimistically while
// tracking each one until the server confirms or rejects it.
package catalog

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
)

// Status of a listing.
type Status string

const (
	StatusPublished   Status = "published"
	StatusUnpublished Status = "unpublished"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPublished || s == StatusUnpublished
}

// Item is one product or service listing. A nil Stock means unlimited.
type Item struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Price    float64  `json:"price" yaml:"price"`
	Stock    *int     `json:"stock" yaml:"stock"`
	Status   Status   `json:"status" yaml:"status"`
	Favorite bool     `json:"favorite" yaml:"favorite"`
	Images   []string `json:"images" yaml:"images"`
}

func (it Item) clone() Item {
	out := it
	if it.Stock != nil {
		s := *it.Stock
		out.Stock = &s
	}
	if it.Images != nil {
		out.Images = append([]string(nil), it.Images...)
	}
	return out
}

// CopySuffix is appended to the name of duplicated items.
const CopySuffix = " (Copy)"

// IDGenerator returns a candidate id for a duplicated item.
type IDGenerator func() string

// TimestampID builds ids as <unix-millis>-<random base36 suffix>. They are
// collision resistant within a session, not globally unique.
func TimestampID(now func() time.Time) IDGenerator {
	return func() string {
		return fmt.Sprintf("%d-%s", now().UnixMilli(), strconv.FormatUint(uint64(rand.Uint32()), 36))
	}
}

// DefaultIDs is the generator used when none is supplied.
var DefaultIDs = TimestampID(time.Now)
