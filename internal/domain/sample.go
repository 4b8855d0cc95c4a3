package domain

import "time"

// Field is one named numeric channel of a Sample.
type Field struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Sample is one normalized, timestamped set of named numeric values from one source.
// Fields keeps the order in which channels were found in the payload; names are unique.
type Sample struct {
	SourceID   string    `json:"source_id"`
	CapturedAt time.Time `json:"captured_at"`
	Fields     []Field   `json:"fields"`
}

// Value returns the field with the given name.
func (s Sample) Value(name string) (float64, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Values flattens the fields into a map, dropping order.
func (s Sample) Values() map[string]float64 {
	if len(s.Fields) == 0 {
		return nil
	}
	out := make(map[string]float64, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.Value
	}
	return out
}

// Clone returns a deep copy so callers can hand samples across goroutines.
func (s Sample) Clone() Sample {
	s.Fields = CopyFields(s.Fields)
	return s
}

// CopyFields copies a field slice; nil stays nil.
func CopyFields(src []Field) []Field {
	if src == nil {
		return nil
	}
	dst := make([]Field, len(src))
	copy(dst, src)
	return dst
}
