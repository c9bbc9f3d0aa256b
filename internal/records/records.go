// Package records models parameter-sweep configurations: the spec a user
// submits, validation of it, and the boundary to the store that keeps it.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors returned by stores and the Service.
var (
	ErrNotFound  = errors.New("record not found")
	ErrInvalidID = errors.New("invalid id format")
)

// RecentCap bounds the most-recent index kept by stores.
const RecentCap = 100

// ParamType enumerates the kinds of sweep parameters.
type ParamType string

// Supported parameter types.
const (
	ParamFloat  ParamType = "float"
	ParamInt    ParamType = "int"
	ParamEnum   ParamType = "enum"
	ParamString ParamType = "string"
)

// Valid reports whether t is one of the supported parameter types.
func (t ParamType) Valid() bool {
	switch t {
	case ParamFloat, ParamInt, ParamEnum, ParamString:
		return true
	default:
		return false
	}
}

// Parameter is one swept dimension. Values hold JSON numbers or strings.
type Parameter struct {
	Key    string    `json:"key"`
	Type   ParamType `json:"type"`
	Values []any     `json:"values"`
}

// SweepSpec is the configuration submitted by clients.
type SweepSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// StoredSweep is a SweepSpec after it has been assigned an id.
type StoredSweep struct {
	ID uuid.UUID `json:"id"`
	SweepSpec
	CreatedAt time.Time `json:"-"`
}

// Entry pairs an id with its stored record, as listed by the recent endpoint.
type Entry struct {
	ID     uuid.UUID   `json:"id"`
	Config StoredSweep `json:"config"`
}

// ValidationError names the first offending field of a rejected spec.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validate checks the spec's structural rules.
func (s SweepSpec) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Msg: "field required"}
	}
	if s.Parameters == nil {
		return &ValidationError{Field: "parameters", Msg: "field required"}
	}
	for i, p := range s.Parameters {
		field := fmt.Sprintf("parameters[%d]", i)
		if p.Key == "" {
			return &ValidationError{Field: field + ".key", Msg: "must have at least 1 character"}
		}
		if !p.Type.Valid() {
			return &ValidationError{
				Field: field + ".type",
				Msg:   fmt.Sprintf("must be one of float, int, enum, string; got %q", p.Type),
			}
		}
		if p.Values == nil {
			return &ValidationError{Field: field + ".values", Msg: "field required"}
		}
		for j, v := range p.Values {
			if !scalar(v) {
				return &ValidationError{
					Field: fmt.Sprintf("%s.values[%d]", field, j),
					Msg:   "must be a number or string",
				}
			}
		}
	}
	return nil
}

func scalar(v any) bool {
	switch v.(type) {
	case string, json.Number, float64, int, int64:
		return true
	default:
		return false
	}
}

// ParseID parses a textual record id.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id, nil
}

// Store persists records. Save must also push the id onto a most-recent-first
// index trimmed to RecentCap.
type Store interface {
	Save(ctx context.Context, rec StoredSweep) error
	Get(ctx context.Context, id uuid.UUID) (StoredSweep, error)
	ListRecentIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}
