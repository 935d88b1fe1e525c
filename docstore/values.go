package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type sentinel int

// ServerTimestamp is a field value replaced by the commit time when the
// document is written.
const ServerTimestamp sentinel = 0

func (sentinel) String() string { return "ServerTimestamp" }

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(sentinel)
	return ok
}

// Timestamp is a server-assigned time as stored in a document.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// TimestampFromTime converts t, truncated to microseconds as Firestore does.
func TimestampFromTime(t time.Time) Timestamp {
	t = t.Truncate(time.Microsecond)
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time returns the timestamp as a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

// ServerFields returns a copy of data without ServerTimestamp fields, and the
// sorted names of those fields.
func ServerFields(data map[string]any) (map[string]any, []string) {
	clean := make(map[string]any, len(data))
	var fields []string
	for k, v := range data {
		if IsServerTimestamp(v) {
			fields = append(fields, k)
			continue
		}
		clean[k] = v
	}
	sort.Strings(fields)
	return clean, fields
}

// ApplyServerTime sets each named field of data to ts.
func ApplyServerTime(data map[string]any, fields []string, ts Timestamp) {
	for _, f := range fields {
		data[f] = ts
	}
}

// CloneData returns a deep copy of data's maps and slices.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneData(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// EncodeData serialises document data as JSON. ServerTimestamp fields must
// have been removed or replaced first.
func EncodeData(data map[string]any) ([]byte, error) {
	for k, v := range data {
		if IsServerTimestamp(v) {
			return nil, fmt.Errorf("field %q still holds ServerTimestamp", k)
		}
	}
	return json.Marshal(data)
}

// DecodeData parses JSON document data. Integral numbers decode as int64 and
// other numbers as float64.
func DecodeData(b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	for k, v := range data {
		data[k] = normalizeNumbers(v)
	}
	return data, nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, e := range val {
			val[k] = normalizeNumbers(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = normalizeNumbers(e)
		}
		return val
	default:
		return v
	}
}

// Compare orders two field values the way Firestore orders mixed types:
// null, booleans, numbers, timestamps, strings, then everything else by its
// printed form.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case rankNumber:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankTime:
		ta, tb := toTime(a), toTime(b)
		return ta.Compare(tb)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber
	case Timestamp, *Timestamp, time.Time:
		if ts, ok := v.(*Timestamp); ok && ts == nil {
			return rankNull
		}
		return rankTime
	case string:
		return rankString
	default:
		return rankOther
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case Timestamp:
		return t.Time()
	case *Timestamp:
		return t.Time()
	case time.Time:
		return t
	}
	return time.Time{}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortChanges orders changes by the named field, ascending, breaking ties by
// document id. An empty field sorts by id only.
func SortChanges(changes []Change, field string) {
	sort.SliceStable(changes, func(i, j int) bool {
		return lessDoc(changes[i].Doc, changes[j].Doc, field)
	})
}

// SortDocuments orders documents like SortChanges.
func SortDocuments(docs []Document, field string) {
	sort.SliceStable(docs, func(i, j int) bool {
		return lessDoc(docs[i], docs[j], field)
	})
}

func lessDoc(a, b Document, field string) bool {
	if field != "" {
		if c := Compare(a.Data[field], b.Data[field]); c != 0 {
			return c < 0
		}
	}
	return a.ID < b.ID
}
