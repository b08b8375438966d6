package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Leaves maps full leaf paths to their JSON values.
type Leaves map[string]json.RawMessage

// CleanPath trims slashes and validates segments.
func CleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", nil
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "*?[]\\\n") {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return path, nil
}

// CleanWritePath is CleanPath that also rejects the root.
func CleanWritePath(path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return "", fmt.Errorf("%w: cannot write the root", ErrInvalidPath)
	}
	return clean, nil
}

// Join joins path segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// KeyOf returns the last segment of path.
func KeyOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Segments splits a clean path; the root has no segments.
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Ancestors returns the proper ancestors of a clean path, outermost first.
func Ancestors(path string) []string {
	segs := Segments(path)
	if len(segs) < 2 {
		return nil
	}
	out := make([]string, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "/"))
	}
	return out
}

// IsWithin reports whether path is base or lies below it.
func IsWithin(path, base string) bool {
	if base == "" {
		return true
	}
	return path == base || strings.HasPrefix(path, base+"/")
}

// Touches reports whether a change at changed affects a listener at watched.
func Touches(changed, watched string) bool {
	return IsWithin(changed, watched) || IsWithin(watched, changed)
}

// Subtree returns the leaves at or below path.
func (l Leaves) Subtree(path string) Leaves {
	out := make(Leaves)
	for k, v := range l {
		if IsWithin(k, path) {
			out[k] = v
		}
	}
	return out
}

// Flatten converts value into leaves rooted at path. Nil, empty objects and
// JSON null produce no leaves.
func Flatten(path string, value any) (Leaves, error) {
	out := make(Leaves)
	if value == nil {
		return out, nil
	}
	raw, ok := value.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := flattenInto(out, path, tree); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out Leaves, path string, node any) error {
	switch v := node.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range v {
			if _, err := CleanWritePath(k); err != nil || strings.Contains(k, "/") {
				return fmt.Errorf("%w: key %q under %s", ErrInvalidPath, k, path)
			}
			if err := flattenInto(out, joinChild(path, k), child); err != nil {
				return err
			}
		}
		return nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[path] = raw
		return nil
	}
}

func joinChild(path, key string) string {
	if path == "" {
		return key
	}
	return path + "/" + key
}

// Assemble rebuilds the JSON value at path from leaves at or below it.
// It returns nil when there are none.
func Assemble(path string, leaves Leaves) (json.RawMessage, error) {
	if v, ok := leaves[path]; ok {
		return v, nil
	}
	root := make(map[string]any)
	found := false
	for k, v := range leaves {
		if !IsWithin(k, path) || k == path {
			continue
		}
		rel := k
		if path != "" {
			rel = k[len(path)+1:]
		}
		segs := strings.Split(rel, "/")
		node := root
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = v
		found = true
	}
	if !found {
		return nil, nil
	}
	return json.Marshal(root)
}

// ChildKeys returns the sorted immediate child keys of path.
func ChildKeys(path string, leaves Leaves) []string {
	seen := make(map[string]struct{})
	for k := range leaves {
		if k == path || !IsWithin(k, path) {
			continue
		}
		rel := k
		if path != "" {
			rel = k[len(path)+1:]
		}
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			rel = rel[:i]
		}
		seen[rel] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChildSnapshots assembles a snapshot for every immediate child of path.
func ChildSnapshots(path string, leaves Leaves) ([]Snapshot, error) {
	keys := ChildKeys(path, leaves)
	out := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		childPath := joinChild(path, key)
		value, err := Assemble(childPath, leaves)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Path: childPath, Key: key, Value: value})
	}
	return out, nil
}

// WritePlan is the leaf-level effect of a Set, Update or Remove.
type WritePlan struct {
	// Paths are the cleaned top-level paths written, sorted.
	Paths []string
	// Next holds the encoded new value for each written path, nil for deletes.
	Next map[string]json.RawMessage
	// Delete lists existing leaves to remove.
	Delete []string
	// Put holds leaves to write.
	Put Leaves
}

// PlanWrite turns a multi-path update into leaf operations. current must contain
// at least the existing leaves under every written path and at its ancestors.
// Writing a value below a leaf replaces that leaf.
func PlanWrite(current Leaves, updates map[string]any) (*WritePlan, error) {
	paths, err := CleanUpdatePaths(updates)
	if err != nil {
		return nil, err
	}
	plan := &WritePlan{
		Paths: make([]string, 0, len(paths)),
		Next:  make(map[string]json.RawMessage, len(paths)),
		Put:   make(Leaves),
	}
	deletes := make(map[string]struct{})
	for clean, orig := range paths {
		plan.Paths = append(plan.Paths, clean)
		for leaf := range current.Subtree(clean) {
			deletes[leaf] = struct{}{}
		}
		leaves, err := Flatten(clean, updates[orig])
		if err != nil {
			return nil, err
		}
		if len(leaves) > 0 {
			for _, a := range Ancestors(clean) {
				if _, ok := current[a]; ok {
					deletes[a] = struct{}{}
				}
			}
		}
		for k, v := range leaves {
			plan.Put[k] = v
		}
		next, err := Assemble(clean, leaves)
		if err != nil {
			return nil, err
		}
		plan.Next[clean] = next
	}
	for leaf := range deletes {
		plan.Delete = append(plan.Delete, leaf)
	}
	sort.Strings(plan.Paths)
	sort.Strings(plan.Delete)
	return plan, nil
}

// CleanUpdatePaths validates update paths, rejecting overlaps, and maps each
// cleaned path back to its original key.
func CleanUpdatePaths(updates map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(updates))
	for orig := range updates {
		clean, err := CleanWritePath(orig)
		if err != nil {
			return nil, err
		}
		if _, dup := out[clean]; dup {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalidPath, clean)
		}
		out[clean] = orig
	}
	for a := range out {
		for b := range out {
			if a != b && IsWithin(a, b) {
				return nil, fmt.Errorf("%w: %q overlaps %q", ErrInvalidPath, a, b)
			}
		}
	}
	return out, nil
}

// ApplyQuery orders children by q.OrderBy (numeric field, then key) and keeps
// the last q.LimitToLast of them.
func ApplyQuery(children []Snapshot, q Query) []Snapshot {
	out := append([]Snapshot(nil), children...)
	if q.OrderBy != "" {
		order := make(map[string]float64, len(out))
		for _, c := range out {
			order[c.Key] = numericField(c.Value, q.OrderBy)
		}
		sort.SliceStable(out, func(i, j int) bool {
			oi, oj := order[out[i].Key], order[out[j].Key]
			if oi != oj {
				return oi < oj
			}
			return out[i].Key < out[j].Key
		})
	}
	if q.LimitToLast > 0 && len(out) > q.LimitToLast {
		out = out[len(out)-q.LimitToLast:]
	}
	return out
}

// numericField extracts a numeric child field; missing or malformed fields sort first.
func numericField(value json.RawMessage, field string) float64 {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(string(fields[field]), 64)
	if err != nil {
		return 0
	}
	return f
}

// CheckPlan evaluates rules for every path of plan against the current leaves.
func CheckPlan(rules Rules, auth string, now time.Time, current Leaves, plan *WritePlan) error {
	if rules == nil {
		return nil
	}
	for _, path := range plan.Paths {
		value, err := Assemble(path, current.Subtree(path))
		if err != nil {
			return err
		}
		req := WriteRequest{
			Auth:    auth,
			Path:    path,
			Current: value,
			Next:    plan.Next[path],
			Now:     now,
		}
		if err := rules.CheckWrite(req); err != nil {
			return err
		}
	}
	return nil
}
