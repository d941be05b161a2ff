package features

import (
	"fmt"
	"strings"
)

// FillPolicy decides what a base cell receives when the merged table has no
// row for it.
type FillPolicy string

const (
	// FillNull marks the value unknown. This matches the reference outputs.
	FillNull FillPolicy = "null"
	// FillZero treats a missing row as "measured, none found".
	FillZero FillPolicy = "zero"
)

// ParseFillPolicy parses "null" or "zero" (case-insensitive).
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch p := FillPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case FillNull, FillZero:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported fill policy: %q", s)
	}
}

func (p FillPolicy) missing() Value {
	if p == FillZero {
		return Known(0)
	}

	return Value{}
}

// Merge left-joins columns of feature onto base using the cell key.
//
// Every base row is kept exactly once and in its original order. Base cells
// absent from feature get the fill policy's value; cells only present in
// feature are dropped, so the base table defines the row universe. Neither
// input is modified.
func Merge(base, feature *Table, columns []string, fill FillPolicy) (*Table, error) {
	if base.Resolution() != feature.Resolution() {
		return nil, fmt.Errorf("%w: base %d, feature %d", ErrResolutionMismatch, base.Resolution(), feature.Resolution())
	}
	for _, c := range columns {
		if !feature.HasColumn(c) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, c)
		}
		if base.HasColumn(c) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, c)
		}
	}

	out := base.Clone()
	for _, c := range columns {
		values := make([]Value, out.Len())
		for i, r := range out.Rows() {
			if fr, ok := feature.Row(r.Cell); ok {
				values[i] = fr.Get(c)
			} else {
				values[i] = fill.missing()
			}
		}
		if err := out.SetColumn(c, values); err != nil {
			return nil, err
		}
	}

	return out, nil
}
