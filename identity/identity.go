// Package identity canonicalizes user identities. Every comparison, map key and lookup in
// pairchat goes through Normalize first, so a user id reaching us as a bare string, a
// mongo object id, a `{"$oid": ...}` document or a number always ends up as one string.
package identity

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/pborman/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Normalize returns the canonical string form of v. A nil value maps to "".
// Unrecognized shapes fall back to fmt.Sprint.
func Normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case []byte:
		return string(x)
	case bson.ObjectID:
		return x.Hex()
	case *bson.ObjectID:
		if x == nil {
			return ""
		}
		return x.Hex()
	case uuid.UUID:
		if x == nil {
			return ""
		}
		return x.String()
	case json.Number:
		return x.String()
	case json.RawMessage:
		return normalizeRaw(x)
	case map[string]any:
		return fromDocument(x)
	case map[string]string:
		if s, ok := x["$oid"]; ok {
			return s
		}
		return x["_id"]
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case fmt.Stringer:
		if isNilPointer(x) {
			return ""
		}
		return x.String()
	}
	if isNilPointer(v) {
		return ""
	}
	return fmt.Sprint(v)
}

// Equal reports whether a and b normalize to the same identity.
func Equal(a, b any) bool {
	return Normalize(a) == Normalize(b)
}

// fromDocument unwraps `{"$oid": "..."}` (extended json) and `{"_id": ...}` (a populated
// user document).
func fromDocument(m map[string]any) string {
	if m == nil {
		return ""
	}
	if v, ok := m["$oid"]; ok {
		return Normalize(v)
	}
	if v, ok := m["_id"]; ok {
		return Normalize(v)
	}
	return fmt.Sprint(m)
}

func normalizeRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return Normalize(v)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e18 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
