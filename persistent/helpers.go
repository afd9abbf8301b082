package persistent

// deepCopy copies v recursively through the container kinds state values
// commonly take (maps and slices), so that mutating a value read out of a
// working copy never aliases back into shared state (spec §4.3, "Mapping
// variant"). Scalars, strings and ident.Token values are copied by Go's
// ordinary value semantics and returned as-is.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneState(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}

		return out
	default:
		return v
	}
}

func cloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = deepCopy(v)
	}

	return out
}
