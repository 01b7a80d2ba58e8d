// Package sanitize bounds untrusted metadata before it is stored or forwarded.
package sanitize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"
)

// Defaults applied when a Config field is zero.
const (
	DefaultMaxStringLength = 5000
	DefaultMaxDepth        = 10
	DefaultMaxKeys         = 100
)

var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Config bounds sanitizer output. MaxKeys caps both object keys and array items.
type Config struct {
	MaxStringLength int
	MaxDepth        int
	MaxKeys         int
}

// Sanitizer strips prototype-pollution keys and bounds size and depth.
// Output objects are map[string]any and output arrays are []any.
type Sanitizer struct {
	cfg Config
}

// New creates a sanitizer, filling zero fields with defaults.
func New(cfg Config) *Sanitizer {
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = DefaultMaxStringLength
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	return &Sanitizer{cfg: cfg}
}

// Metadata sanitizes a metadata object. A nil input yields an empty map.
func (s *Sanitizer) Metadata(m map[string]any) map[string]any {
	out, ok := s.Sanitize(m).(map[string]any)
	if !ok || out == nil {
		return map[string]any{}
	}
	return out
}

// Sanitize returns a bounded copy of v. It never panics and never mutates v.
// A container reachable along several paths is sanitized once per depth and the
// result is shared in the output.
func (s *Sanitizer) Sanitize(v any) any {
	w := walker{
		cfg:       s.cfg,
		ancestors: make(map[visitKey]struct{}),
		done:      make(map[memoKey]memoResult),
	}
	out, _ := w.value(reflect.ValueOf(v), 0)
	return out
}

// visitKey identifies a container on the current descent path.
type visitKey struct {
	ptr  uintptr
	kind reflect.Kind
	len  int
}

type memoKey struct {
	visitKey
	depth int
}

type memoResult struct {
	val  any
	keep bool
}

type walker struct {
	cfg       Config
	ancestors map[visitKey]struct{}
	done      map[memoKey]memoResult
	// cuts counts back edges dropped so far; a subtree that cut one depends
	// on its ancestors and is not memoized.
	cuts int
}

var timeType = reflect.TypeOf(time.Time{})

// value returns the sanitized form of v and whether it should be kept.
func (w *walker) value(v reflect.Value, depth int) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return w.value(v.Elem(), depth)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		return w.enter(v, depth, func() (any, bool) {
			return w.value(v.Elem(), depth)
		})
	case reflect.String:
		if n, ok := v.Interface().(json.Number); ok {
			return n, true
		}
		return w.truncate(v.String()), true
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return v.Interface(), true
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface(), true
		}
		return nil, false
	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		if depth >= w.cfg.MaxDepth {
			return nil, false
		}
		return w.enter(v, depth, func() (any, bool) {
			return w.object(v, depth), true
		})
	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return w.truncate(string(v.Bytes())), true
		}
		fallthrough
	case reflect.Array:
		if depth >= w.cfg.MaxDepth {
			return nil, false
		}
		if v.Kind() == reflect.Array {
			return w.array(v, depth), true
		}
		return w.enter(v, depth, func() (any, bool) {
			return w.array(v, depth), true
		})
	default:
		// func, chan, complex and unsafe pointers have no metadata form.
		return nil, false
	}
}

// enter guards against following a container that is already on the descent path.
func (w *walker) enter(v reflect.Value, depth int, fn func() (any, bool)) (any, bool) {
	key := visitKey{ptr: v.Pointer(), kind: v.Kind()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	if key.ptr == 0 {
		return fn()
	}
	if _, seen := w.ancestors[key]; seen {
		w.cuts++
		return nil, false
	}
	mk := memoKey{visitKey: key, depth: depth}
	if r, ok := w.done[mk]; ok {
		return r.val, r.keep
	}

	w.ancestors[key] = struct{}{}
	cuts := w.cuts
	val, keep := fn()
	delete(w.ancestors, key)
	if w.cuts == cuts {
		w.done[mk] = memoResult{val: val, keep: keep}
	}
	return val, keep
}

func (w *walker) object(v reflect.Value, depth int) map[string]any {
	keys := make([]string, 0, v.Len())
	values := make(map[string]reflect.Value, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, ok := mapKey(iter.Key())
		if !ok {
			continue
		}
		if _, bad := forbiddenKeys[k]; bad {
			continue
		}
		// Truncating keys could merge distinct ones, so over-long keys are dropped.
		if utf8.RuneCountInString(k) > w.cfg.MaxStringLength {
			continue
		}
		keys = append(keys, k)
		values[k] = iter.Value()
	}

	// Sorted so that the key cap keeps the same subset for the same input.
	sort.Strings(keys)
	if len(keys) > w.cfg.MaxKeys {
		keys = keys[:w.cfg.MaxKeys]
	}

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if val, keep := w.value(values[k], depth+1); keep {
			out[k] = val
		}
	}
	return out
}

func (w *walker) array(v reflect.Value, depth int) []any {
	n := v.Len()
	if n > w.cfg.MaxKeys {
		n = w.cfg.MaxKeys
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		if val, keep := w.value(v.Index(i), depth+1); keep {
			out = append(out, val)
		}
	}
	return out
}

func (w *walker) truncate(s string) string {
	if utf8.RuneCountInString(s) <= w.cfg.MaxStringLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:w.cfg.MaxStringLength])
}

func mapKey(k reflect.Value) (string, bool) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Bool:
		return fmt.Sprint(k.Interface()), true
	case reflect.Interface:
		if k.IsNil() {
			return "", false
		}
		return mapKey(k.Elem())
	default:
		return "", false
	}
}
