// Package action defines the notification envelope dispatched to a store and
// factories for typed action creators, including the started/done/failed
// family used to announce the lifecycle of asynchronous operations.
package action

import "maps"

// Meta holds arbitrary data attached to an action outside its payload.
type Meta map[string]any

// Action is a tagged notification. Error is set on actions announcing a
// failure so consumers can tell them apart without inspecting Type.
type Action struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   bool   `json:"error,omitempty"`
	Meta    Meta   `json:"meta,omitempty"`
}

// IsSuccess reports whether v is an action (or pointer to one) without the
// error marker. Anything else, including nil, is neither success nor failure.
func IsSuccess(v any) bool {
	a, ok := asAction(v)
	return ok && !a.Error
}

// IsFailure reports whether v is an action (or pointer to one) carrying the
// error marker.
func IsFailure(v any) bool {
	a, ok := asAction(v)
	return ok && a.Error
}

func asAction(v any) (Action, bool) {
	switch a := v.(type) {
	case Action:
		return a, true
	case *Action:
		if a == nil {
			return Action{}, false
		}
		return *a, true
	default:
		return Action{}, false
	}
}

// mergeMeta combines metas left to right, later keys winning.
// It returns nil when there is nothing to merge.
func mergeMeta(metas ...Meta) Meta {
	var merged Meta
	for _, m := range metas {
		if len(m) == 0 {
			continue
		}
		if merged == nil {
			merged = make(Meta, len(m))
		}
		maps.Copy(merged, m)
	}
	return merged
}
