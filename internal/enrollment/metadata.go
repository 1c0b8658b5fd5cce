package enrollment

// Metadata is a string map that is never nil once it went through
// NewMetadata. Merge never mutates its receiver.
type Metadata map[string]string

func NewMetadata(src map[string]string) Metadata {
	m := make(Metadata, len(src))
	for k, v := range src {
		m[k] = v
	}
	return m
}

// Merge returns m with every key of update added or overwritten. Keys not
// present in update are kept.
func (m Metadata) Merge(update map[string]string) Metadata {
	out := NewMetadata(m)
	for k, v := range update {
		out[k] = v
	}
	return out
}
