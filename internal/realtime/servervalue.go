package realtime

import (
	"bytes"
	"encoding/json"
	"time"
)

// ServerTimestamp is a placeholder for the time a disconnect hook fires. It is
// stored as is when the hook is queued and replaced by Unix millis when it runs.
var ServerTimestamp = map[string]string{".sv": "timestamp"}

// ResolveServerValues replaces every ServerTimestamp placeholder in value with now.
// Values without placeholders are returned unchanged.
func ResolveServerValues(value json.RawMessage, now time.Time) (json.RawMessage, error) {
	if !bytes.Contains(value, []byte(`".sv"`)) {
		return value, nil
	}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return json.Marshal(resolve(tree, now.UnixMilli()))
}

func resolve(node any, millis int64) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	if len(m) == 1 && m[".sv"] == "timestamp" {
		return millis
	}
	for k, child := range m {
		m[k] = resolve(child, millis)
	}
	return m
}
