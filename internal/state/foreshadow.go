package state

import (
	"fmt"

	"github.com/roach88/novel/internal/errs"
	"github.com/roach88/novel/internal/project"
)

// ForeshadowStatus is the lifecycle position of a foreshadowing item.
type ForeshadowStatus string

const (
	Planted  ForeshadowStatus = "planted"
	Advanced ForeshadowStatus = "advanced"
	Resolved ForeshadowStatus = "resolved"
)

func (s ForeshadowStatus) rank() int {
	switch s {
	case Planted:
		return 1
	case Advanced:
		return 2
	case Resolved:
		return 3
	}
	return 0
}

// seedKeys are copied from the volume plan onto new or incomplete items.
var seedKeys = []string{"description", "scope", "target_resolve_range"}

// Registry is the global foreshadowing list. Items keep unknown fields.
type Registry struct {
	Items []map[string]any
	index map[string]map[string]any
}

// ParseRegistry accepts either a bare list or {"foreshadowing": [...]}.
// Entries without a string id are ignored.
func ParseRegistry(data []byte, file string) (*Registry, error) {
	var raw any
	if err := project.DecodeJSON(data, &raw); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid %s", file)
	}
	list, ok := raw.([]any)
	if !ok {
		obj, isObj := raw.(map[string]any)
		if isObj {
			list, ok = obj["foreshadowing"].([]any)
		}
		if !ok {
			return nil, errs.Validation("invalid %s: expected a list or {foreshadowing:[...]}", file)
		}
	}
	r := &Registry{index: map[string]map[string]any{}}
	for _, it := range list {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		id, _ := item["id"].(string)
		if id == "" {
			continue
		}
		r.Items = append(r.Items, item)
		r.index[id] = item
	}
	return r, nil
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: map[string]map[string]any{}}
}

// Get returns the item with id, or nil.
func (r *Registry) Get(id string) map[string]any {
	return r.index[id]
}

// Merge applies foreshadow ops from a committed chapter. Status only moves
// forward; history gets at most one entry per chapter and action.
func (r *Registry) Merge(ops []ForeshadowOp, chapter int, storyline string, seeds *Registry) {
	for _, op := range ops {
		item := r.index[op.ID]
		if item == nil {
			item = map[string]any{"id": op.ID}
			r.Items = append(r.Items, item)
			r.index[op.ID] = item
		}

		prev, _ := item["status"].(string)
		if op.Status.rank() >= ForeshadowStatus(prev).rank() {
			item["status"] = string(op.Status)
		}

		if op.Status == Planted {
			if _, ok := toNumber(item["planted_chapter"]); !ok {
				item["planted_chapter"] = chapter
			}
			if _, ok := item["planted_storyline"].(string); !ok {
				item["planted_storyline"] = storyline
			}
		}

		last, _ := toInt(item["last_updated_chapter"])
		item["last_updated_chapter"] = max(last, chapter)

		if seeds != nil {
			if seed := seeds.Get(op.ID); seed != nil {
				for _, k := range seedKeys {
					if _, has := item[k]; !has {
						if v, ok := seed[k]; ok {
							item[k] = v
						}
					}
				}
			}
		}

		history, _ := item["history"].([]any)
		key := fmt.Sprintf("%d:%s", chapter, op.Status)
		seen := false
		for _, h := range history {
			entry, ok := h.(map[string]any)
			if !ok {
				continue
			}
			if fmt.Sprintf("%v:%v", entry["chapter"], entry["action"]) == key {
				seen = true
				break
			}
		}
		if !seen {
			entry := map[string]any{"chapter": chapter, "action": string(op.Status)}
			if op.Detail != "" {
				entry["detail"] = op.Detail
			}
			item["history"] = append(history, entry)
		}
	}
}

// Encode renders the registry in its canonical {"foreshadowing": [...]} form.
func (r *Registry) Encode() ([]byte, error) {
	items := r.Items
	if items == nil {
		items = []map[string]any{}
	}
	return project.MarshalJSON(map[string]any{"foreshadowing": items})
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
