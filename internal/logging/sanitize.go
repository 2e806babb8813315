package logging

import (
	"encoding"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// maxSanitizeDepth bounds recursion into nested containers.
	maxSanitizeDepth = 32

	// Bounds for the debug representation.
	maxDescribeDepth = 4
	maxDescribeItems = 16
	maxDescribeLen   = 512

	cycleMarker = "<cycle>"
	depthMarker = "<max depth>"
)

// Sanitize converts v into an export-safe value. The result is one of nil,
// string, int64, uint64, float64, bool, []any or map[string]any, recursively.
//
// Strings, numbers, booleans and nil pass through (numbers widened). Slices,
// arrays and maps are converted element-wise with map keys stringified.
// Anything else becomes its Error, String or MarshalText form. When that
// method panics, or the value has none, a bounded debug representation is
// used. Sanitize never panics and terminates on cyclic values.
func Sanitize(v any) any {
	return sanitize(v, 0, newVisited())
}

type visited map[uintptr]struct{}

func newVisited() visited {
	return make(visited)
}

// enter marks a container as on the current path. It returns false if the
// container is already on the path.
func (vs visited) enter(p uintptr) bool {
	if p == 0 {
		return true
	}
	if _, ok := vs[p]; ok {
		return false
	}
	vs[p] = struct{}{}
	return true
}

func (vs visited) leave(p uintptr) {
	delete(vs, p)
}

func sanitize(v any, depth int, vs visited) any {
	if depth > maxSanitizeDepth {
		return depthMarker
	}

	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case uintptr:
		return uint64(x)
	case float32:
		return sanitizeFloat(float64(x))
	case float64:
		return sanitizeFloat(x)
	case json.Number:
		return x.String()
	case []byte:
		return sanitizeBytes(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case Event:
		return sanitizeMap(x, depth, vs)
	case map[string]any:
		return sanitizeMap(x, depth, vs)
	case []any:
		return sanitizeSlice(x, depth, vs)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case error:
		return stringOr(v, x.Error)
	case fmt.Stringer:
		return stringOr(v, x.String)
	case encoding.TextMarshaler:
		return stringOr(v, func() string {
			b, err := x.MarshalText()
			if err != nil {
				panic(err)
			}
			return string(b)
		})
	}

	return sanitizeReflect(reflect.ValueOf(v), depth, vs)
}

func sanitizeFloat(f float64) any {
	// NaN and infinities have no JSON encoding
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func sanitizeMap(m map[string]any, depth int, vs visited) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	p := reflect.ValueOf(m).Pointer()
	if !vs.enter(p) {
		return map[string]any{"_": cycleMarker}
	}
	defer vs.leave(p)

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitize(v, depth+1, vs)
	}
	return out
}

func sanitizeSlice(s []any, depth int, vs visited) []any {
	if s == nil {
		return nil
	}
	var p uintptr
	if len(s) > 0 {
		p = reflect.ValueOf(s).Pointer()
	}
	if !vs.enter(p) {
		return []any{cycleMarker}
	}
	defer vs.leave(p)

	out := make([]any, len(s))
	for i, v := range s {
		out[i] = sanitize(v, depth+1, vs)
	}
	return out
}

// sanitizeReflect handles named kinds and containers the type switch does
// not know about.
func sanitizeReflect(rv reflect.Value, depth int, vs visited) any {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return sanitizeFloat(rv.Float())
	case reflect.String:
		return rv.String()

	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return sanitizeBytes(rv.Bytes())
		}
		if rv.IsNil() {
			return nil
		}
		p := uintptr(0)
		if rv.Len() > 0 {
			p = rv.Pointer()
		}
		if !vs.enter(p) {
			return []any{cycleMarker}
		}
		defer vs.leave(p)
		return sanitizeElems(rv, depth, vs)

	case reflect.Array:
		return sanitizeElems(rv, depth, vs)

	case reflect.Map:
		if rv.IsNil() {
			return map[string]any{}
		}
		p := rv.Pointer()
		if !vs.enter(p) {
			return map[string]any{"_": cycleMarker}
		}
		defer vs.leave(p)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = sanitizeValue(iter.Value(), depth+1, vs)
		}
		return out

	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		p := rv.Pointer()
		if !vs.enter(p) {
			return cycleMarker
		}
		defer vs.leave(p)
		return sanitizeValue(rv.Elem(), depth+1, vs)

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem(), depth, vs)
	}

	// Structs, funcs, channels and anything else without a string form
	return describe(rv)
}

// sanitizeBytes keeps UTF-8 text readable and hex encodes binary data.
func sanitizeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return hex.EncodeToString(b)
}

func sanitizeElems(rv reflect.Value, depth int, vs visited) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = sanitizeValue(rv.Index(i), depth+1, vs)
	}
	return out
}

// sanitizeValue re-enters the type switch when the value is reachable
// through exported paths, and stays in reflection otherwise.
func sanitizeValue(rv reflect.Value, depth int, vs visited) any {
	if rv.IsValid() && rv.CanInterface() {
		return sanitize(rv.Interface(), depth, vs)
	}
	return sanitizeReflect(rv, depth, vs)
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		if s, ok := Sanitize(k.Interface()).(string); ok {
			return s
		}
	}
	return describe(k)
}

// stringOr calls conv and falls back to the debug representation of v if
// conv panics.
func stringOr(v any, conv func() string) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = describeAny(v)
		}
	}()
	return conv()
}

func describeAny(v any) string {
	return describe(reflect.ValueOf(v))
}

// describe renders a bounded, cycle-safe debug representation using only
// reflection. It never calls methods on the value.
func describe(rv reflect.Value) string {
	var b strings.Builder
	describeInto(&b, rv, 0)
	s := b.String()
	if len(s) > maxDescribeLen {
		cut := maxDescribeLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func describeInto(b *strings.Builder, rv reflect.Value, depth int) {
	if b.Len() > maxDescribeLen {
		return
	}
	if !rv.IsValid() {
		b.WriteString("<nil>")
		return
	}
	if depth > maxDescribeDepth {
		b.WriteString("...")
		return
	}

	switch rv.Kind() {
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		b.WriteString(strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	case reflect.Complex64, reflect.Complex128:
		b.WriteString(strconv.FormatComplex(rv.Complex(), 'g', -1, 128))
	case reflect.String:
		b.WriteString(strconv.Quote(rv.String()))

	case reflect.Pointer:
		if rv.IsNil() {
			b.WriteString("<nil>")
			return
		}
		// Only the top level is followed; nested pointers may cycle
		if depth > 0 {
			fmt.Fprintf(b, "(%s)(0x%x)", rv.Type(), rv.Pointer())
			return
		}
		b.WriteByte('&')
		describeInto(b, rv.Elem(), depth+1)

	case reflect.Interface:
		if rv.IsNil() {
			b.WriteString("<nil>")
			return
		}
		describeInto(b, rv.Elem(), depth)

	case reflect.Struct:
		b.WriteString(rv.Type().String())
		b.WriteByte('{')
		n := rv.NumField()
		for i := 0; i < n && i < maxDescribeItems; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(rv.Type().Field(i).Name)
			b.WriteByte(':')
			describeInto(b, rv.Field(i), depth+1)
		}
		if n > maxDescribeItems {
			b.WriteString(", ...")
		}
		b.WriteByte('}')

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			b.WriteString("[]")
			return
		}
		b.WriteByte('[')
		n := rv.Len()
		for i := 0; i < n && i < maxDescribeItems; i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			describeInto(b, rv.Index(i), depth+1)
		}
		if n > maxDescribeItems {
			b.WriteString(" ...")
		}
		b.WriteByte(']')

	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("map[]")
			return
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return describe(keys[i]) < describe(keys[j])
		})
		b.WriteString("map[")
		for i, k := range keys {
			if i >= maxDescribeItems {
				b.WriteString(" ...")
				break
			}
			if i > 0 {
				b.WriteByte(' ')
			}
			describeInto(b, k, depth+1)
			b.WriteByte(':')
			describeInto(b, rv.MapIndex(k), depth+1)
		}
		b.WriteByte(']')

	default:
		// Func, Chan, UnsafePointer
		fmt.Fprintf(b, "<%s>", rv.Type())
	}
}
