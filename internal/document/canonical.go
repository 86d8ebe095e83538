package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for a document or any value a
// document can contain. Two streams that carry the same documents marshal to
// the same bytes regardless of map iteration order.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (RFC 8785), not UTF-8 bytes
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Floats use the shortest round-trip form; NaN and Inf are rejected
//  5. time.Time is rendered as RFC 3339 with nanoseconds, in UTC
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return writeCanonicalString(buf, val)
	case Kind:
		return writeCanonicalString(buf, string(val))
	case ExitStatus:
		return writeCanonicalString(buf, string(val))
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case float32:
		return writeCanonicalFloat(buf, float64(val))
	case float64:
		return writeCanonicalFloat(buf, val)
	case time.Time:
		return writeCanonicalString(buf, val.UTC().Format(time.RFC3339Nano))
	case time.Duration:
		return writeCanonicalString(buf, val.String())
	case []any:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []string:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []int:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []float64:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case map[string]any:
		return writeCanonicalObject(buf, val)
	case map[string]int:
		obj := make(map[string]any, len(val))
		for k, n := range val {
			obj[k] = n
		}
		return writeCanonicalObject(buf, obj)
	case DataKey:
		return writeCanonicalObject(buf, val.toMap())
	case DataKeys:
		obj := make(map[string]any, len(val))
		for k, dk := range val {
			obj[k] = dk.toMap()
		}
		return writeCanonicalObject(buf, obj)
	case Reading:
		return writeCanonicalObject(buf, val.toMap())
	case Readings:
		obj := make(map[string]any, len(val))
		for k, r := range val {
			obj[k] = r.toMap()
		}
		return writeCanonicalObject(buf, obj)
	case Document:
		return writeCanonicalObject(buf, ToMap(val))
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// ToMap flattens a document into a generic map with its kind recorded under
// "kind". Used for canonical encoding and for field-level assertions in tests.
func ToMap(d Document) map[string]any {
	var m map[string]any
	switch doc := d.(type) {
	case RunStart:
		m = map[string]any{
			"uid":         doc.UID,
			"time":        doc.Time,
			"beamline_id": doc.BeamlineID,
			"owner":       doc.Owner,
			"scan_id":     doc.ScanID,
		}
		if doc.PlanName != "" {
			m["plan_name"] = doc.PlanName
		}
		if len(doc.Custom) > 0 {
			m["custom"] = doc.Custom
		}
	case EventDescriptor:
		m = map[string]any{
			"run_start": doc.RunStart,
			"time":      doc.Time,
			"data_keys": doc.DataKeys,
			"uid":       doc.UID,
		}
	case Event:
		m = map[string]any{
			"descriptor": doc.Descriptor,
			"time":       doc.Time,
			"data":       doc.Data,
			"seq_num":    doc.SeqNum,
			"uid":        doc.UID,
		}
	case RunStop:
		m = map[string]any{
			"run_start":   doc.RunStart,
			"time":        doc.Time,
			"exit_status": doc.ExitStatus,
			"reason":      doc.Reason,
			"uid":         doc.UID,
		}
		if len(doc.NumEvents) > 0 {
			m["num_events"] = doc.NumEvents
		}
	default:
		m = map[string]any{"uid": d.DocUID()}
	}
	m["kind"] = d.Kind()
	return m
}

func (dk DataKey) toMap() map[string]any {
	m := map[string]any{
		"source": dk.Source,
		"dtype":  dk.DType,
	}
	if len(dk.Shape) > 0 {
		m["shape"] = dk.Shape
	}
	return m
}

func (r Reading) toMap() map[string]any {
	return map[string]any{
		"value":     r.Value,
		"timestamp": r.Timestamp,
	}
}

// writeCanonicalString writes a JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false) // CRITICAL: <, >, & must NOT be escaped
	if err := enc.Encode(normalized); err != nil {
		return err
	}

	// json.Encoder adds a trailing newline
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	buf.Write(out)
	return nil
}

func writeCanonicalFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite float %v is not representable in JSON", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'e', -1, 64))
	return nil
}

func writeCanonicalArray(buf *bytes.Buffer, n int, at func(int) any) error {
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, at(i)); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	buf.WriteByte('{')
	for i, k := range SortedKeys(obj) {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// SortedKeys returns map keys in RFC 8785 order (UTF-16 code units).
// CRITICAL: sort.Strings uses UTF-8 byte order which differs for
// characters outside the BMP.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
