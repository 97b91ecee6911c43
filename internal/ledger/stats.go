package ledger

import "context"

// NoValue is the bucket for entries that lack a grouped field.
const NoValue = "(none)"

// Stats aggregates a namespace by status and by selected payload fields.
type Stats struct {
	Namespace Namespace                   `json:"namespace"`
	Total     int64                       `json:"total"`
	ByStatus  map[Status]int64            `json:"by_status"`
	ByField   map[string]map[string]int64 `json:"by_field,omitempty"`
}

// Stats scans ns and counts entries by status and by the values of fields.
// It is read-only and takes no locks beyond those of a normal scan.
// Repeated fields are counted once.
func (c *Core) Stats(ctx context.Context, ns Namespace, fields ...string) (*Stats, error) {
	if _, err := c.options(ns); err != nil {
		return nil, err
	}
	fields = uniqueFields(fields)
	s := &Stats{
		Namespace: ns,
		ByStatus:  map[Status]int64{StatusValid: 0, StatusInvalidated: 0},
	}
	if len(fields) > 0 {
		s.ByField = make(map[string]map[string]int64, len(fields))
		for _, f := range fields {
			s.ByField[f] = make(map[string]int64)
		}
	}

	err := c.store.Scan(ctx, ns, func(e *Entry) error {
		s.Total++
		s.ByStatus[e.Status]++
		for _, f := range fields {
			v := fieldString(e.Payload[f])
			if v == "" {
				v = NoValue
			}
			s.ByField[f][v]++
		}
		return nil
	})
	if err != nil {
		return nil, storageError("scan stats", err)
	}
	return s, nil
}

func uniqueFields(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
