package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the config's bounds and selection.
func (c GenerationConfig) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s %s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	sel := c.Selection
	switch sel.Mode {
	case SelectRange:
		if sel.End < sel.Start {
			return fmt.Errorf("%w: range end %d before start %d", ErrInvalidConfig, sel.End, sel.Start)
		}
	case SelectSelected:
		if len(sel.Indices) == 0 {
			return fmt.Errorf("%w: no records selected", ErrInvalidConfig)
		}
	}
	return nil
}

// View is a projection of a data source: the records in display order and
// the source position of each.
type View struct {
	Records []Record
	Indices []int
}

// Len returns the number of records in the view.
func (v View) Len() int {
	return len(v.Records)
}

// Page returns records [offset, offset+limit) of the view.
func (v View) Page(offset, limit int) View {
	if offset < 0 {
		offset = 0
	}
	if offset > len(v.Records) {
		offset = len(v.Records)
	}
	end := len(v.Records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return View{Records: v.Records[offset:end], Indices: v.Indices[offset:end]}
}

// BuildView filters then sorts records. Sorting is stable and uses the same
// rules as SortRecords.
func BuildView(records []Record, filters []Filter, sorts []SortKey, fields []Field) View {
	chain := NewFilterChain(filters, fields)

	idx := make([]int, 0, len(records))
	for i, r := range records {
		if chain.Include(r) {
			idx = append(idx, i)
		}
	}

	if len(sorts) > 0 {
		keys := orderedKeys(sorts)
		types := IndexFields(fields)
		sort.SliceStable(idx, func(a, b int) bool {
			return compareRecords(records[idx[a]], records[idx[b]], keys, types) < 0
		})
	}

	return viewOf(records, idx)
}

func viewOf(records []Record, idx []int) View {
	v := View{Records: make([]Record, len(idx)), Indices: idx}
	for i, pos := range idx {
		v.Records[i] = records[pos]
	}
	return v
}

// SelectRecords resolves a selection against a data source.
//
// "all" takes every record in sorted order, "filtered" applies the filter
// chain as well, "range" takes source positions Start..End inclusive and
// "selected" takes the listed source positions in the given order. Positions
// past the end of the source are ignored.
func SelectRecords(records []Record, sel RecordSelection, filters []Filter, sorts []SortKey, fields []Field) (View, error) {
	var view View
	switch sel.Mode {
	case SelectAll, "":
		view = BuildView(records, nil, sorts, fields)
	case SelectFiltered:
		view = BuildView(records, filters, sorts, fields)
	case SelectRange:
		var idx []int
		for i := max(sel.Start, 0); i <= sel.End && i < len(records); i++ {
			idx = append(idx, i)
		}
		view = viewOf(records, idx)
	case SelectSelected:
		var idx []int
		for _, i := range sel.Indices {
			if i >= 0 && i < len(records) {
				idx = append(idx, i)
			}
		}
		view = viewOf(records, idx)
	default:
		return View{}, fmt.Errorf("unknown selection mode %q", sel.Mode)
	}

	if view.Len() == 0 {
		return View{}, ErrNoRecords
	}
	return view, nil
}
