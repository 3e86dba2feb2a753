package control

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowkit-dev/flowkit/node"
)

// MapItems applies a structured template to every element of an array and
// emits the transformed array.
type MapItems struct{}

var _ node.Node = (*MapItems)(nil)

// NewMapItems creates a map node.
func NewMapItems() *MapItems { return &MapItems{} }

func (m *MapItems) TypeName() string               { return "map" }
func (m *MapItems) Category() node.Category        { return node.CategoryControl }
func (m *MapItems) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (m *MapItems) RequiredCredentialType() string { return "" }

func (m *MapItems) ParameterSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"transform"},
		"properties": map[string]any{
			"items":     map[string]any{"description": "Array literal or $variable reference; defaults to the main input"},
			"transform": map[string]any{"description": "Template applied per item; {{path}} substitutes from the item"},
		},
	}
}

func (m *MapItems) ValidateParameters(params map[string]any) error {
	if _, ok := params["transform"]; !ok {
		return fmt.Errorf("map: parameter %q is required", "transform")
	}
	return nil
}

func (m *MapItems) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if err := m.ValidateParameters(params); err != nil {
		return nil, err
	}
	items, err := itemsFromParams(params, nc.MainInput(), nc.Variables)
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}
	tmpl := params["transform"]
	mapped := make([]any, len(items))
	for i, item := range items {
		mapped[i] = renderTemplate(tmpl, item, nc.Variables)
	}
	return node.Success(map[string]any{
		"mapped_items": mapped,
		"count":        len(mapped),
	}), nil
}

// SortItems orders an array by a dotted field (or by the items themselves)
// using a total order over mixed types. The sort is stable.
type SortItems struct{}

var _ node.Node = (*SortItems)(nil)

// NewSortItems creates a sort node.
func NewSortItems() *SortItems { return &SortItems{} }

func (s *SortItems) TypeName() string               { return "sort" }
func (s *SortItems) Category() node.Category        { return node.CategoryControl }
func (s *SortItems) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (s *SortItems) RequiredCredentialType() string { return "" }

func (s *SortItems) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items":   map[string]any{"description": "Array literal or $variable reference; defaults to the main input"},
			"sort_by": map[string]any{"type": "string", "description": "Dotted field to sort on"},
			"order":   map[string]any{"enum": []any{"asc", "desc"}},
		},
	}
}

func (s *SortItems) ValidateParameters(params map[string]any) error {
	if order, ok := stringParam(params, "order"); ok && order != "asc" && order != "desc" {
		return fmt.Errorf("sort: order must be %q or %q, got %q", "asc", "desc", order)
	}
	return nil
}

func (s *SortItems) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if err := s.ValidateParameters(params); err != nil {
		return nil, err
	}
	items, err := itemsFromParams(params, nc.MainInput(), nc.Variables)
	if err != nil {
		return nil, fmt.Errorf("sort: %w", err)
	}
	sortBy, _ := stringParam(params, "sort_by")
	order, _ := stringParam(params, "order")
	desc := order == "desc"

	sorted := append([]any(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		aKey, aPresent := sortKey(sorted[i], sortBy)
		bKey, bPresent := sortKey(sorted[j], sortBy)
		c := compareKeys(aKey, aPresent, bKey, bPresent)
		if desc {
			return c > 0
		}
		return c < 0
	})
	return node.Success(map[string]any{
		"sorted_items": sorted,
		"count":        len(sorted),
	}), nil
}

// sortKey extracts the comparison key for an item. Missing fields report
// present=false so they sort before any present value.
func sortKey(item any, sortBy string) (any, bool) {
	if sortBy == "" {
		return item, true
	}
	return lookupPath(item, sortBy)
}

// compareKeys imposes a total order over mixed keys: numbers compare
// numerically, strings lexically, booleans with false first, and anything
// else by string form. Missing keys come first. Returns -1, 0, or 1.
func compareKeys(a any, aPresent bool, b any, bPresent bool) int {
	if !aPresent || !bPresent {
		switch {
		case aPresent == bPresent:
			return 0
		case !aPresent:
			return -1
		default:
			return 1
		}
	}
	if an, aok := numberValue(a); aok {
		if bn, bok := numberValue(b); bok {
			return compareOrdered(an, bn)
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return compareOrdered(as, bs)
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}
	return compareOrdered(fmt.Sprint(a), fmt.Sprint(b))
}

func compareOrdered[T interface{ ~float64 | ~string }](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FlattenItems unnests nested arrays up to a depth, or completely when the
// depth is the literal "infinite".
type FlattenItems struct{}

var _ node.Node = (*FlattenItems)(nil)

// NewFlattenItems creates a flatten node.
func NewFlattenItems() *FlattenItems { return &FlattenItems{} }

func (f *FlattenItems) TypeName() string               { return "flatten" }
func (f *FlattenItems) Category() node.Category        { return node.CategoryControl }
func (f *FlattenItems) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (f *FlattenItems) RequiredCredentialType() string { return "" }

func (f *FlattenItems) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{"description": "Array literal or $variable reference; defaults to the main input"},
			"depth": map[string]any{"description": "Positive integer or the literal \"infinite\"; defaults to 1"},
		},
	}
}

func (f *FlattenItems) ValidateParameters(params map[string]any) error {
	_, _, err := flattenDepth(params)
	return err
}

func (f *FlattenItems) Execute(_ context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	depth, infinite, err := flattenDepth(params)
	if err != nil {
		return nil, err
	}
	items, err := itemsFromParams(params, nc.MainInput(), nc.Variables)
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	var flattened []any
	if infinite {
		flattened = flattenAll(items)
	} else {
		flattened = flatten(items, depth)
	}
	return node.Success(map[string]any{
		"flattened_items": flattened,
		"count":           len(flattened),
	}), nil
}

func flattenDepth(params map[string]any) (int, bool, error) {
	raw, ok := params["depth"]
	if !ok {
		return 1, false, nil
	}
	if s, isString := raw.(string); isString {
		if s == "infinite" {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("flatten: depth must be a positive integer or %q, got %q", "infinite", s)
	}
	n, err := intParam(params, "depth", 1)
	if err != nil {
		return 0, false, fmt.Errorf("flatten: %w", err)
	}
	if n < 1 {
		return 0, false, fmt.Errorf("flatten: depth must be positive, got %d", n)
	}
	return n, false, nil
}

// flatten unnests arrays up to depth levels; non-array elements pass through
// unchanged.
func flatten(items []any, depth int) []any {
	if depth <= 0 {
		return items
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if nested, ok := item.([]any); ok {
			out = append(out, flatten(nested, depth-1)...)
			continue
		}
		out = append(out, item)
	}
	return out
}

// flattenAll fully unnests regardless of depth.
func flattenAll(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if nested, ok := item.([]any); ok {
			out = append(out, flattenAll(nested)...)
			continue
		}
		out = append(out, item)
	}
	return out
}
