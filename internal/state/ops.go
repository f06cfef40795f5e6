package state

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// AllowedRoots are the top-level state categories ops may address.
var AllowedRoots = []string{"characters", "items", "locations", "factions", "world_state", "active_foreshadowing"}

// Op is one delta operation. The set of implementations is closed; Apply
// dispatches on the concrete type.
type Op interface {
	isOp()
}

// SetOp assigns Value at Path.
type SetOp struct {
	Path  []string
	Value any
}

// IncOp adds By to the number at Path; a missing value counts as 0.
type IncOp struct {
	Path []string
	By   json.Number
}

// AddOp appends Value to the array at Path, creating it if missing.
type AddOp struct {
	Path  []string
	Value any
}

// RemoveOp deletes the first element equal to Value from the array at Path.
type RemoveOp struct {
	Path  []string
	Value any
}

// ForeshadowOp moves a foreshadowing item forward in its lifecycle.
type ForeshadowOp struct {
	ID     string
	Status ForeshadowStatus
	Detail string
}

func (SetOp) isOp()        {}
func (IncOp) isOp()        {}
func (AddOp) isOp()        {}
func (RemoveOp) isOp()     {}
func (ForeshadowOp) isOp() {}

// DecodeOps converts raw delta ops into typed ops. Malformed entries are
// dropped with a warning.
func DecodeOps(raw []any) ([]Op, []string) {
	var ops []Op
	var warnings []string
	for _, r := range raw {
		obj, ok := r.(map[string]any)
		if !ok {
			warnings = append(warnings, "Dropped non-object op entry.")
			continue
		}
		kind, _ := obj["op"].(string)
		if kind == "foreshadow" {
			op, err := decodeForeshadow(obj)
			if err != "" {
				warnings = append(warnings, err)
				continue
			}
			ops = append(ops, op)
			continue
		}
		if kind != "set" && kind != "inc" && kind != "add" && kind != "remove" {
			warnings = append(warnings, fmt.Sprintf("Dropped invalid op type: %v", obj["op"]))
			continue
		}

		path, ok := obj["path"].(string)
		if !ok || path == "" {
			warnings = append(warnings, "Dropped op with invalid path: "+compact(obj))
			continue
		}
		parts := strings.Split(path, ".")
		if len(parts) < 2 || len(parts) > 4 {
			warnings = append(warnings, "Dropped op with invalid path depth: "+path)
			continue
		}
		if !isAllowedRoot(parts[0]) {
			warnings = append(warnings, "Dropped op with invalid top-level path: "+path)
			continue
		}
		if parts[len(parts)-1] == "" {
			warnings = append(warnings, "Dropped op with empty leaf path: "+path)
			continue
		}

		value := obj["value"]
		switch kind {
		case "set":
			ops = append(ops, SetOp{Path: parts, Value: value})
		case "inc":
			n, ok := value.(json.Number)
			if !ok {
				warnings = append(warnings, "Dropped inc op with non-number value: "+path)
				continue
			}
			ops = append(ops, IncOp{Path: parts, By: n})
		case "add":
			ops = append(ops, AddOp{Path: parts, Value: value})
		case "remove":
			ops = append(ops, RemoveOp{Path: parts, Value: value})
		}
	}
	return ops, warnings
}

func decodeForeshadow(obj map[string]any) (ForeshadowOp, string) {
	id, _ := obj["path"].(string)
	value, _ := obj["value"].(string)
	if id == "" || value == "" {
		return ForeshadowOp{}, "Dropped invalid foreshadow op: " + compact(obj)
	}
	status := ForeshadowStatus(value)
	if status.rank() == 0 {
		return ForeshadowOp{}, fmt.Sprintf("Dropped foreshadow op with invalid value: %s=%s", id, value)
	}
	detail, _ := obj["detail"].(string)
	return ForeshadowOp{ID: id, Status: status, Detail: detail}, ""
}

func isAllowedRoot(s string) bool {
	for _, r := range AllowedRoots {
		if r == s {
			return true
		}
	}
	return false
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Apply runs ops against the state document in order. Foreshadow ops are not
// applied here; they are returned for the registry merge.
func (s *State) Apply(ops []Op) (applied int, foreshadow []ForeshadowOp, warnings []string) {
	for _, op := range ops {
		switch o := op.(type) {
		case ForeshadowOp:
			foreshadow = append(foreshadow, o)
			continue
		case SetOp:
			parent, leaf, w := s.parentOf(o.Path)
			if parent == nil {
				warnings = append(warnings, w)
				continue
			}
			parent[leaf] = o.Value
		case IncOp:
			parent, leaf, w := s.parentOf(o.Path)
			if parent == nil {
				warnings = append(warnings, w)
				continue
			}
			parent[leaf] = addNumbers(parent[leaf], o.By)
		case AddOp:
			parent, leaf, w := s.parentOf(o.Path)
			if parent == nil {
				warnings = append(warnings, w)
				continue
			}
			prev, exists := parent[leaf]
			if !exists || prev == nil {
				parent[leaf] = []any{o.Value}
				break
			}
			arr, ok := prev.([]any)
			if !ok {
				warnings = append(warnings, "Dropped add op: target is not an array: "+strings.Join(o.Path, "."))
				continue
			}
			parent[leaf] = append(arr, o.Value)
		case RemoveOp:
			parent, leaf, w := s.parentOf(o.Path)
			if parent == nil {
				warnings = append(warnings, w)
				continue
			}
			arr, ok := parent[leaf].([]any)
			if !ok {
				warnings = append(warnings, "Dropped remove op: target is not an array: "+strings.Join(o.Path, "."))
				continue
			}
			for i, v := range arr {
				if reflect.DeepEqual(v, o.Value) {
					parent[leaf] = append(arr[:i:i], arr[i+1:]...)
					break
				}
			}
		default:
			warnings = append(warnings, fmt.Sprintf("Dropped unsupported op %T", op))
			continue
		}
		applied++
	}
	return applied, foreshadow, warnings
}

// parentOf walks to the object holding the leaf of path, creating missing
// intermediate objects. A non-object on the way is a collision.
func (s *State) parentOf(path []string) (map[string]any, string, string) {
	cursor := s.Doc
	for _, key := range path[:len(path)-1] {
		next, exists := cursor[key]
		if !exists || next == nil {
			m := map[string]any{}
			cursor[key] = m
			cursor = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Sprintf("Path collision: '%s' is not an object; skipping op.", key)
		}
		cursor = m
	}
	return cursor, path[len(path)-1], ""
}

// addNumbers adds by to prev, keeping integer arithmetic when both are
// integral. A non-numeric prev counts as 0.
func addNumbers(prev any, by json.Number) json.Number {
	var p json.Number
	switch v := prev.(type) {
	case json.Number:
		p = v
	case int:
		p = json.Number(strconv.Itoa(v))
	case float64:
		p = json.Number(strconv.FormatFloat(v, 'g', -1, 64))
	default:
		p = "0"
	}
	pi, perr := strconv.ParseInt(p.String(), 10, 64)
	bi, berr := strconv.ParseInt(by.String(), 10, 64)
	if perr == nil && berr == nil {
		return json.Number(strconv.FormatInt(pi+bi, 10))
	}
	pf, _ := p.Float64()
	bf, _ := by.Float64()
	return json.Number(strconv.FormatFloat(pf+bf, 'g', -1, 64))
}
