package label

import (
	"context"
	"reflect"
)

// ResolveLabels walks obj (normally a pointer to one of the
// internal/domain structural types, or a slice of them) and fills in
// every reachable label_text field for lang via a single batched
// lookup, regardless of nesting depth. obj's own label, its
// properties/members/navigation_properties/actions/parameters and
// their constraints are all covered by the same walk since it
// recurses through every exported field and slice element.
func ResolveLabels(ctx context.Context, r *Resolver, gvID int64, obj any, lang string, fallbackToEnglish bool) error {
	holders := collectHolders(obj)
	if len(holders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(holders))
	seen := make(map[string]struct{}, len(holders))
	for _, h := range holders {
		id := h.GetLabelID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	resolved, err := r.GetLabelsBatch(ctx, gvID, ids, lang, fallbackToEnglish)
	if err != nil {
		return err
	}
	for _, h := range holders {
		if text, ok := resolved[h.GetLabelID()]; ok {
			h.SetLabelText(text)
		}
	}
	return nil
}

// collectHolders recursively finds every value reachable from obj
// that implements Holder, without needing to know the concrete
// domain types ahead of time.
func collectHolders(obj any) []Holder {
	var out []Holder
	walk(reflect.ValueOf(obj), &out)
	return out
}

func walk(v reflect.Value, out *[]Holder) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return
		}
		walk(v.Elem(), out)

	case reflect.Struct:
		if v.CanAddr() {
			addr := v.Addr()
			if addr.CanInterface() {
				if h, ok := addr.Interface().(Holder); ok {
					*out = append(*out, h)
				}
			}
		}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).PkgPath != "" {
				continue // unexported
			}
			walk(v.Field(i), out)
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), out)
		}
	}
}
