// Package transfer reads and writes single-month export documents.
//
// A document wraps one month payload for backup or hand-off between devices:
//
//	{
//	  "schema":       "cash-ledger.export.v1",
//	  "month":        "2025-09",
//	  "createdAt":    "2025-09-30T21:14:03Z",
//	  "entradasRows": [...],
//	  "ledgerItems":  [...]
//	}
//
// Documents are written as JSON or YAML and read from either.
package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"

	"go.klb.dev/ledgersync/internal/month"
)

// Schema identifies export documents.
const Schema = "cash-ledger.export.v1"

// Format is the serialisation of a document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat converts a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("transfer: unknown format %q", s)
}

var (
	// ErrSchema is returned when a document does not carry the export schema.
	ErrSchema = errors.New("transfer: not a " + Schema + " document")

	// ErrMonth is returned when a document's month is missing or invalid.
	ErrMonth = errors.New("transfer: invalid month")
)

// Document is one exported month.
type Document struct {
	Schema       string    `json:"schema" yaml:"schema"`
	Month        string    `json:"month" yaml:"month"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	EntradasRows []any     `json:"entradasRows" yaml:"entradasRows"`
	LedgerItems  []any     `json:"ledgerItems" yaml:"ledgerItems"`
}

// Build wraps payload, a month payload object, in a Document. Rows that are
// missing or not arrays become empty lists.
func Build(m string, payload json.RawMessage, now time.Time) (*Document, error) {
	if !month.Valid(m) {
		return nil, fmt.Errorf("%w: %q", ErrMonth, m)
	}
	var fields struct {
		EntradasRows any `json:"entradasRows"`
		LedgerItems  any `json:"ledgerItems"`
	}
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("transfer: payload: %w", err)
		}
	}
	return &Document{
		Schema:       Schema,
		Month:        m,
		CreatedAt:    now.UTC().Truncate(time.Second),
		EntradasRows: asList(fields.EntradasRows),
		LedgerItems:  asList(fields.LedgerItems),
	}, nil
}

func asList(v any) []any {
	if l, ok := v.([]any); ok && l != nil {
		return l
	}
	return []any{}
}

func orEmpty(l []any) []any {
	if l == nil {
		return []any{}
	}
	return l
}

// Payload returns the month payload carried by d.
func (d *Document) Payload() (json.RawMessage, error) {
	b, err := json.Marshal(struct {
		EntradasRows []any `json:"entradasRows"`
		LedgerItems  []any `json:"ledgerItems"`
	}{orEmpty(d.EntradasRows), orEmpty(d.LedgerItems)})
	if err != nil {
		return nil, fmt.Errorf("transfer: payload: %w", err)
	}
	return b, nil
}

// Encode writes d to w in format f.
func Encode(w io.Writer, d *Document, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("transfer: encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("transfer: encode json: %w", err)
		}
		return nil
	}
}

// Decode reads a document in either format. The schema tag and month are
// checked before the document is accepted.
func Decode(raw []byte) (*Document, error) {
	raw = bytes.TrimSpace(raw)
	var tree any
	if json.Valid(raw) {
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("transfer: decode json: %w", err)
		}
	} else if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("transfer: decode yaml: %w", err)
	}

	if err := validate(tree); err != nil {
		return nil, err
	}

	// Round-trip through JSON so YAML input gets the same field handling.
	norm, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("transfer: normalise: %w", err)
	}
	var d Document
	if err := json.Unmarshal(norm, &d); err != nil {
		return nil, fmt.Errorf("transfer: decode: %w", err)
	}
	d.EntradasRows = orEmpty(d.EntradasRows)
	d.LedgerItems = orEmpty(d.LedgerItems)
	return &d, nil
}

func validate(tree any) error {
	if _, ok := tree.(map[string]any); !ok {
		return ErrSchema
	}
	schema, err := jsonpath.Get("$.schema", tree)
	if err != nil || schema != Schema {
		return ErrSchema
	}
	m, err := jsonpath.Get("$.month", tree)
	if err != nil {
		return fmt.Errorf("%w: missing", ErrMonth)
	}
	s, ok := m.(string)
	if !ok || !month.Valid(s) {
		return fmt.Errorf("%w: %v", ErrMonth, m)
	}
	return nil
}
