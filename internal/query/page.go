package query

import "github.com/hanpama/graphload/internal/fault"

// Page is the result of one collection request.
type Page struct {
	Records []Record
	// EndCursor continues after the last record; empty when the page is empty
	// or cursors are disabled.
	EndCursor string
	// HasMore reports a full page, meaning a following page may exist.
	HasMore bool
}

// Page assembles the page d fetched from recs. Excess records beyond the
// limit are dropped.
func (d Descriptor) Page(recs []Record) (Page, error) {
	if len(recs) > d.limit {
		recs = recs[:d.limit]
	}
	p := Page{Records: recs, HasMore: len(recs) == d.limit}
	if len(recs) == 0 || d.reg == nil || d.reg.codec == nil {
		return p, nil
	}
	c, err := d.CursorFor(recs[len(recs)-1])
	if err != nil {
		return Page{}, err
	}
	p.EndCursor = c
	return p, nil
}

// Spec is the serializable form of a descriptor, used to ship a request to a
// remote storage collaborator. Cursors travel decoded as After.
type Spec struct {
	Entity  string   `json:"entity"`
	Filters []Filter `json:"filters,omitempty"`
	Sort    []Sort   `json:"sort,omitempty"`
	After   []any    `json:"after,omitempty"`
	Offset  int      `json:"offset,omitempty"`
	Limit   int      `json:"limit"`
	Batch   bool     `json:"batch,omitempty"`
}

// Spec returns the serializable form of d, with the effective sort spelled out.
func (d Descriptor) Spec() Spec {
	return Spec{
		Entity:  d.Entity(),
		Filters: d.Filters(),
		Sort:    d.EffectiveSort(),
		After:   d.After(),
		Offset:  d.offset,
		Limit:   d.limit,
		Batch:   d.batch,
	}
}

// FromSpec rebuilds a descriptor from its serialized form, re-validating every
// field against the registered entity type and clamping the limit.
func (r *Registry) FromSpec(s Spec) (Descriptor, error) {
	d, err := r.Query(s.Entity)
	if err != nil {
		return Descriptor{}, err
	}
	for _, f := range s.Filters {
		if d, err = d.WithFilter(f.Field, f.Op, f.Value); err != nil {
			return Descriptor{}, err
		}
	}
	for _, o := range s.Sort {
		if d, err = d.WithSort(o.Field, o.Direction); err != nil {
			return Descriptor{}, err
		}
	}
	if len(s.After) > 0 {
		if len(s.After) != len(d.EffectiveSort()) {
			return Descriptor{}, fault.InvalidQuery(s.Entity, "position has %d values for %d sort keys", len(s.After), len(d.EffectiveSort()))
		}
		d.after = append([]any(nil), s.After...)
	}
	if d, err = d.WithOffset(s.Offset); err != nil {
		return Descriptor{}, err
	}
	if s.Batch {
		d.batch = true
		d.limit = clampLimit(s.Limit, r.limits.MaxBatchRows)
		return d, nil
	}
	return d.WithLimit(s.Limit), nil
}
