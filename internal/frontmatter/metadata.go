package frontmatter

// Recognized keys.
const (
	KeyIteration = "iteration"
	KeyStatus    = "status"
	KeyLastRun   = "last_run"
)

// Metadata is an insertion-ordered map of scalar values (string or int).
type Metadata struct {
	keys   []string
	values map[string]any
}

// New returns empty metadata.
func New() *Metadata {
	return &Metadata{values: make(map[string]any)}
}

// Set stores value under key. An existing key keeps its position.
// Values other than int and string are ignored.
func (m *Metadata) Set(key string, value any) {
	switch value.(type) {
	case int, string:
	default:
		return
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the raw value for key.
func (m *Metadata) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Int returns the integer stored under key, or def when it is missing or
// not an integer.
func (m *Metadata) Int(key string, def int) int {
	if v, ok := m.values[key].(int); ok {
		return v
	}
	return def
}

// String returns the string stored under key. Integers are not converted.
func (m *Metadata) String(key string) string {
	v, _ := m.values[key].(string)
	return v
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

func (m *Metadata) Len() int { return len(m.keys) }

// Clone returns an independent copy.
func (m *Metadata) Clone() *Metadata {
	c := New()
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}

// Map returns the metadata as a plain map, for JSON output.
func (m *Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		out[k] = m.values[k]
	}
	return out
}
