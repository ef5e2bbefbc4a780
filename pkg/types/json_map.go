package types

// JSONMap stores an arbitrary JSON object. Columns using it carry the
// gorm json serializer.
type JSONMap map[string]any

// Clone returns a shallow copy that is safe to mutate.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
