// Package attestation stores the latest reputation attestation per address.
//
// Each address holds exactly one record. A write replaces the whole record,
// so fields omitted from a later submission do not survive from an earlier one.
package attestation

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

var (
	ErrNotFound           = errors.New("attestation: not found")
	ErrInvalidAttestation = errors.New("attestation: invalid")
)

// Factors maps a factor name to its numeric contribution to the score.
// A nil Factors serializes as {} rather than null.
type Factors map[string]float64

// MarshalJSON encodes nil as an empty object.
func (f Factors) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]float64(f))
}

// Value implements driver.Valuer for JSONB columns.
func (f Factors) Value() (driver.Value, error) {
	b, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan implements sql.Scanner for JSONB columns.
func (f *Factors) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*f = Factors{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attestation: cannot scan %T into Factors", src)
	}
	out := Factors{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("attestation: decode factors: %w", err)
	}
	if out == nil {
		out = Factors{}
	}
	*f = out
	return nil
}

// Attestation is the stored record for one address.
type Attestation struct {
	Address     string  `json:"address"`
	Timestamp   int64   `json:"timestamp"`
	Score       float64 `json:"score"`
	Factors     Factors `json:"factors"`
	Explanation *string `json:"explanation"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Attestation) Clone() *Attestation {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Factors != nil {
		cp.Factors = maps.Clone(a.Factors)
	} else {
		cp.Factors = Factors{}
	}
	if a.Explanation != nil {
		e := *a.Explanation
		cp.Explanation = &e
	}
	return &cp
}

// SubmitRequest is the body of an attestation write.
// Pointer fields distinguish "absent" from the zero value.
type SubmitRequest struct {
	Address     string   `json:"address"`
	Timestamp   *int64   `json:"timestamp,omitempty"`
	Score       *float64 `json:"score"`
	Factors     Factors  `json:"factors,omitempty"`
	Explanation *string  `json:"explanation,omitempty"`
}

// SubmitResponse acknowledges a successful write.
type SubmitResponse struct {
	OK        bool   `json:"ok"`
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
}

// Store persists attestations keyed by address.
type Store interface {
	// Upsert inserts or fully replaces the record for a.Address.
	Upsert(ctx context.Context, a *Attestation) error
	// Get returns ErrNotFound when no record exists for address.
	Get(ctx context.Context, address string) (*Attestation, error)
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
