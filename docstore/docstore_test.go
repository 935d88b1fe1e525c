package docstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeKindString(t *testing.T) {
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "modified", Modified.String())
	assert.Equal(t, "removed", Removed.String())
	assert.Equal(t, "unknown", ChangeKind(42).String())
}

func TestDocumentRefPath(t *testing.T) {
	ref := DocumentRef{Collection: "rooms/r1/actions", ID: "abc"}
	assert.Equal(t, "rooms/r1/actions/abc", ref.Path())
	assert.Equal(t, ref.Path(), ref.String())
}

func TestValidateCollection(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"actions", false},
		{"rooms/r1/actions", false},
		{"", true},
		{"/actions", true},
		{"actions/", true},
		{"rooms//actions", true},
		{"rooms/r1", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateCollection(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerFields(t *testing.T) {
	data := map[string]any{
		"type":      "INCREMENT",
		"timestamp": ServerTimestamp,
		"updated":   ServerTimestamp,
	}
	clean, fields := ServerFields(data)

	assert.Equal(t, []string{"timestamp", "updated"}, fields)
	assert.Equal(t, map[string]any{"type": "INCREMENT"}, clean)
	assert.True(t, IsServerTimestamp(data["timestamp"]), "input must not be modified")

	ts := TimestampFromTime(time.Unix(1000, 1500))
	ApplyServerTime(clean, fields, ts)
	assert.Equal(t, ts, clean["timestamp"])
	assert.Equal(t, ts, clean["updated"])
}

func TestTimestampFromTimeTruncates(t *testing.T) {
	ts := TimestampFromTime(time.Unix(1000, 123456789))
	assert.Equal(t, int64(1000), ts.Seconds)
	assert.Equal(t, int32(123456000), ts.Nanos)
	assert.True(t, ts.Time().Equal(time.Unix(1000, 123456000)))
}

func TestTimestampJSON(t *testing.T) {
	b, err := json.Marshal(Timestamp{Seconds: 1000, Nanos: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds":1000,"nanos":5}`, string(b))
}

func TestCloneDataIsDeep(t *testing.T) {
	orig := map[string]any{
		"nested": map[string]any{"a": int64(1)},
		"list":   []any{"x"},
	}
	clone := CloneData(orig)
	clone["nested"].(map[string]any)["a"] = int64(2)
	clone["list"].([]any)[0] = "y"

	assert.Equal(t, int64(1), orig["nested"].(map[string]any)["a"])
	assert.Equal(t, "x", orig["list"].([]any)[0])
	assert.Nil(t, CloneData(nil))
}

func TestEncodeDecodeData(t *testing.T) {
	_, err := EncodeData(map[string]any{"timestamp": ServerTimestamp})
	assert.Error(t, err)

	b, err := EncodeData(map[string]any{"type": "SET", "value": 5, "ratio": 0.5, "tags": []any{1}})
	require.NoError(t, err)

	data, err := DecodeData(b)
	require.NoError(t, err)
	assert.Equal(t, "SET", data["type"])
	assert.Equal(t, int64(5), data["value"])
	assert.Equal(t, 0.5, data["ratio"])
	assert.Equal(t, []any{int64(1)}, data["tags"])

	empty, err := DecodeData(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCompare(t *testing.T) {
	early := Timestamp{Seconds: 10}
	late := Timestamp{Seconds: 20}

	assert.Equal(t, 0, Compare(nil, nil))
	assert.Equal(t, -1, Compare(nil, early))
	assert.Equal(t, -1, Compare((*Timestamp)(nil), early))
	assert.Equal(t, -1, Compare(early, late))
	assert.Equal(t, 1, Compare(late, time.Unix(15, 0)))
	assert.Equal(t, -1, Compare(int64(1), 1.5))
	assert.Equal(t, -1, Compare(false, true))
	assert.Equal(t, -1, Compare(true, 0))
	assert.Equal(t, -1, Compare(int64(100), early))
	assert.Equal(t, -1, Compare(early, "a"))
	assert.Equal(t, -1, Compare("a", "b"))
}

func TestSortChanges(t *testing.T) {
	changes := []Change{
		{Doc: Document{ID: "c", Data: map[string]any{"timestamp": Timestamp{Seconds: 30}}}},
		{Doc: Document{ID: "b", Data: map[string]any{"timestamp": Timestamp{Seconds: 10}}}},
		{Doc: Document{ID: "p", Data: map[string]any{"timestamp": nil}}},
		{Doc: Document{ID: "a", Data: map[string]any{"timestamp": Timestamp{Seconds: 10}}}},
	}
	SortChanges(changes, "timestamp")

	ids := make([]string, len(changes))
	for i, c := range changes {
		ids[i] = c.Doc.ID
	}
	assert.Equal(t, []string{"p", "a", "b", "c"}, ids)
}
