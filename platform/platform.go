// Package platform implements the platform resolver (C8, §4.8): reducing a map carrying
// per-platform variants down to the single variant that applies to the caller's selector
// list, so the merge engine never has to know about platform multiplexing.
package platform

// Resolver reduces platform-multiplexed maps using a fixed keyword set and an ordered,
// most-specific-first selector list (e.g. ["darwin", "unix", "all"]).
type Resolver struct {
	keywords  map[string]bool
	selectors []string
}

// NewResolver constructs a Resolver. keywords is the recognised set of platform tags (e.g.
// darwin, linux, unix, windows, all); selectors is the caller's ordered preference list.
func NewResolver(keywords []string, selectors []string) *Resolver {
	kw := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		kw[k] = true
	}
	return &Resolver{keywords: kw, selectors: selectors}
}

// Resolve recursively reduces m per §4.8: at each map level, if any key is a recognised
// keyword, the map is replaced by the value under the first selector present (selection
// short-circuits on first hit; other keyword siblings at that level are discarded). A map
// with no keyword keys is left structurally intact with its children recursively resolved.
// A nil result means the position resolves to absence (no selector matched, or the selected
// value is explicitly null).
func (r *Resolver) Resolve(m map[string]any) any {
	return r.resolve(m)
}

func (r *Resolver) resolve(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if r.hasKeyword(m) {
		for _, sel := range r.selectors {
			val, present := m[sel]
			if !present {
				continue
			}
			if val == nil {
				return nil
			}
			return r.resolve(val)
		}
		return nil
	}
	out := make(map[string]any, len(m))
	for k, sub := range m {
		resolved := r.resolve(sub)
		if resolved == nil {
			// A child that resolves to null/absence is dropped from the parent entirely,
			// rather than kept as an explicit null entry (§4.8).
			continue
		}
		out[k] = resolved
	}
	return out
}

func (r *Resolver) hasKeyword(m map[string]any) bool {
	for k := range m {
		if r.keywords[k] {
			return true
		}
	}
	return false
}
