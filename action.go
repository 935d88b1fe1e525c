package firesync

import (
	"math"
	"time"

	"github.com/c0deZ3R0/firesync/docstore"
)

// Field names firesync adds to stored and rehydrated actions.
const (
	FieldType      = "type"
	FieldTimestamp = "timestamp"
	FieldCreator   = "creator"
	FieldDocID     = "firebase_doc_id"
)

// Action is a state mutation for the local store. Its only conventional key
// is "type"; firesync never inspects or validates the rest.
type Action map[string]any

// Type returns the action's "type" field when it is a string.
func (a Action) Type() string {
	t, _ := a[FieldType].(string)
	return t
}

// Rehydrate turns a stored action document back into an Action: the server
// timestamp becomes whole seconds (or is dropped while still unassigned) and
// the document id is added under firebase_doc_id.
func Rehydrate(doc docstore.Document) Action {
	action := make(Action, len(doc.Data)+1)
	for k, v := range doc.Data {
		action[k] = v
	}
	action[FieldDocID] = doc.ID
	if secs, ok := timestampSeconds(doc.Data[FieldTimestamp]); ok {
		action[FieldTimestamp] = secs
	} else {
		delete(action, FieldTimestamp)
	}
	return action
}

// timestampSeconds extracts the seconds component of a structured server
// time. Values without one, including the null of a pending write, report false.
func timestampSeconds(v any) (int64, bool) {
	switch ts := v.(type) {
	case docstore.Timestamp:
		return ts.Seconds, true
	case *docstore.Timestamp:
		if ts == nil {
			return 0, false
		}
		return ts.Seconds, true
	case time.Time:
		if ts.IsZero() {
			return 0, false
		}
		return ts.Unix(), true
	case map[string]any:
		return numberToInt64(ts["seconds"])
	default:
		return 0, false
	}
}

func numberToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
