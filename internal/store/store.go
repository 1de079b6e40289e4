// Package store defines the Record Store Adapter: a uniform CRUD and search
// interface over the named CRM record collections. Implementations live in
// the sqlite and remote subpackages; business engines depend only on this
// interface.
package store

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Collection names a record collection. The wire names match the Bigin
// REST modules; companies live in Accounts.
type Collection string

const (
	Pipelines Collection = "Pipelines"
	Contacts  Collection = "Contacts"
	Companies Collection = "Accounts"
	Tasks     Collection = "Tasks"
	Events    Collection = "Events"
	Calls     Collection = "Calls"
)

// Record is a raw stored record: flat field names mapped to scalar values
// (strings, numbers, bools) plus the Stage_History JSON array. Raw records
// are decoded into typed domain structs immediately after a store call and
// never handed further up.
type Record map[string]any

// ID returns the record id field.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Op is a filter comparison operator.
type Op string

const (
	Equals      Op = "equals"
	NotEquals   Op = "not_equal"
	GreaterThan Op = "greater_than"
	LessThan    Op = "less_than"
	IsEmpty     Op = "is_empty"
)

// Filter is one field comparison.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query bounds a search: all filters must match (conjunction), Word is a
// free-text keyword, Limit caps the result count (0 means the adapter
// default).
type Query struct {
	Filters []Filter
	Word    string
	Limit   int
}

// Store is the Record Store Adapter consumed by the engines. Update applies
// a partial field set and returns the full updated record. Search result
// ordering is only as stable as the backing store's.
type Store interface {
	Create(ctx context.Context, c Collection, fields Record) (Record, error)
	Get(ctx context.Context, c Collection, id string) (Record, error)
	Update(ctx context.Context, c Collection, id string, fields Record) (Record, error)
	Search(ctx context.Context, c Collection, q Query) ([]Record, error)
	Delete(ctx context.Context, c Collection, id string) error
}

// Matches evaluates a filter against a record in-process. The sqlite
// adapter uses it for search; the remote adapter pushes filters to the
// server instead.
func Matches(r Record, f Filter) bool {
	v, ok := r[f.Field]
	switch f.Op {
	case IsEmpty:
		return !ok || v == nil || v == ""
	case Equals, NotEquals:
		eq := equalValues(v, f.Value)
		if f.Op == NotEquals {
			return !eq
		}
		return eq
	case GreaterThan, LessThan:
		a, okA := toDecimal(v)
		b, okB := toDecimal(f.Value)
		if !okA || !okB {
			return false
		}
		if f.Op == GreaterThan {
			return a.GreaterThan(b)
		}
		return a.LessThan(b)
	}
	return false
}

// MatchesAll reports whether all filters and the keyword match.
func MatchesAll(r Record, q Query) bool {
	for _, f := range q.Filters {
		if !Matches(r, f) {
			return false
		}
	}
	if q.Word != "" && !containsWord(r, q.Word) {
		return false
	}
	return true
}

func equalValues(a, b any) bool {
	if da, okA := toDecimal(a); okA {
		if db, okB := toDecimal(b); okB {
			return da.Equal(db)
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return a == b
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
	return decimal.Decimal{}, false
}

func containsWord(r Record, word string) bool {
	needle := strings.ToLower(word)
	for _, v := range r {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
