package firesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c0deZ3R0/firesync/docstore"
)

func TestRehydrate(t *testing.T) {
	tests := []struct {
		name string
		doc  docstore.Document
		want Action
	}{
		{
			name: "structured seconds",
			doc: docstore.Document{ID: "doc1", Data: map[string]any{
				"type":      "SET",
				"value":     5,
				"timestamp": map[string]any{"seconds": 1000},
			}},
			want: Action{"type": "SET", "value": 5, "timestamp": int64(1000), "firebase_doc_id": "doc1"},
		},
		{
			name: "server timestamp",
			doc: docstore.Document{ID: "doc2", Data: map[string]any{
				"type":      "INCREMENT",
				"creator":   "device-A",
				"timestamp": docstore.Timestamp{Seconds: 1700000000, Nanos: 250000000},
			}},
			want: Action{"type": "INCREMENT", "creator": "device-A", "timestamp": int64(1700000000), "firebase_doc_id": "doc2"},
		},
		{
			name: "time value",
			doc: docstore.Document{ID: "doc3", Data: map[string]any{
				"timestamp": time.Unix(42, 999),
			}},
			want: Action{"timestamp": int64(42), "firebase_doc_id": "doc3"},
		},
		{
			name: "pending write has no timestamp",
			doc: docstore.Document{ID: "doc4", HasPendingWrites: true, Data: map[string]any{
				"type":      "SET",
				"timestamp": nil,
			}},
			want: Action{"type": "SET", "firebase_doc_id": "doc4"},
		},
		{
			name: "nil timestamp pointer",
			doc: docstore.Document{ID: "doc5", Data: map[string]any{
				"timestamp": (*docstore.Timestamp)(nil),
			}},
			want: Action{"firebase_doc_id": "doc5"},
		},
		{
			name: "unstructured timestamp is dropped",
			doc: docstore.Document{ID: "doc6", Data: map[string]any{
				"timestamp": 1000,
			}},
			want: Action{"firebase_doc_id": "doc6"},
		},
		{
			name: "document id wins over data",
			doc: docstore.Document{ID: "real", Data: map[string]any{
				"firebase_doc_id": "stale",
			}},
			want: Action{"firebase_doc_id": "real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rehydrate(tt.doc))
		})
	}
}

func TestRehydrateDoesNotModifyDocument(t *testing.T) {
	data := map[string]any{"timestamp": docstore.Timestamp{Seconds: 7}}
	Rehydrate(docstore.Document{ID: "d", Data: data})
	assert.Equal(t, map[string]any{"timestamp": docstore.Timestamp{Seconds: 7}}, data)
}

func TestActionType(t *testing.T) {
	assert.Equal(t, "SET", Action{"type": "SET"}.Type())
	assert.Equal(t, "", Action{"type": 3}.Type())
	assert.Equal(t, "", Action{}.Type())
}
