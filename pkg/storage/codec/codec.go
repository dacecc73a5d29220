// Package codec converts record trees to and from the indented JSON documents
// kept on disk.
//
// A tree is built from map[string]any, []any, string, int64, float64, bool and nil.
// Integers survive a round trip as int64 and floats as float64: floats are always
// written with a decimal point or exponent so the distinction is kept in the text.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/fadedpez/cantina/internal/types"
)

const indent = "  "

// Encode serializes tree as indented JSON with sorted keys
func Encode(tree any) ([]byte, error) {
	e := &encoder{seen: make(map[uintptr]bool)}
	if err := e.value(tree, 0); err != nil {
		return nil, err
	}
	e.buf.WriteByte('\n')
	return e.buf.Bytes(), nil
}

type encoder struct {
	buf  bytes.Buffer
	seen map[uintptr]bool
}

func (e *encoder) value(v any, depth int) error {
	switch t := v.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		e.buf.WriteString(strconv.FormatBool(t))
	case string:
		e.str(t)
	case int:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		e.buf.WriteString(strconv.FormatInt(t, 10))
	case float32:
		return e.float(float64(t))
	case float64:
		return e.float(t)
	case map[string]any:
		return e.object(t, depth)
	case []any:
		return e.array(t, depth)
	default:
		return types.Errorf(types.ErrDecode, "unsupported value of type %T", v)
	}
	return nil
}

func (e *encoder) float(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return types.Errorf(types.ErrDecode, "unsupported float value %v", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	e.buf.WriteString(s)
	return nil
}

func (e *encoder) str(s string) {
	// json.Marshal on a string cannot fail.
	b, _ := json.Marshal(s)
	e.buf.Write(b)
}

// enter marks a container as being on the current path; returning false means
// it is already being encoded further up, i.e. the tree contains a cycle.
func (e *encoder) enter(v any) (uintptr, bool) {
	ptr := reflect.ValueOf(v).Pointer()
	if ptr == 0 {
		return 0, true
	}
	if e.seen[ptr] {
		return ptr, false
	}
	e.seen[ptr] = true
	return ptr, true
}

func (e *encoder) object(m map[string]any, depth int) error {
	ptr, ok := e.enter(m)
	if !ok {
		return types.NewError(types.ErrCyclicStructure, "map contains itself")
	}
	defer delete(e.seen, ptr)

	if len(m) == 0 {
		e.buf.WriteString("{}")
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.buf.WriteString("{\n")
	for i, k := range keys {
		e.pad(depth + 1)
		e.str(k)
		e.buf.WriteString(": ")
		if err := e.value(m[k], depth+1); err != nil {
			return err
		}
		if i < len(keys)-1 {
			e.buf.WriteByte(',')
		}
		e.buf.WriteByte('\n')
	}
	e.pad(depth)
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) array(a []any, depth int) error {
	// A nil or empty slice has no backing array worth tracking.
	if len(a) == 0 {
		e.buf.WriteString("[]")
		return nil
	}
	ptr, ok := e.enter(a)
	if !ok {
		return types.NewError(types.ErrCyclicStructure, "sequence contains itself")
	}
	defer delete(e.seen, ptr)

	e.buf.WriteString("[\n")
	for i, item := range a {
		e.pad(depth + 1)
		if err := e.value(item, depth+1); err != nil {
			return err
		}
		if i < len(a)-1 {
			e.buf.WriteByte(',')
		}
		e.buf.WriteByte('\n')
	}
	e.pad(depth)
	e.buf.WriteByte(']')
	return nil
}

func (e *encoder) pad(depth int) {
	for i := 0; i < depth; i++ {
		e.buf.WriteString(indent)
	}
}

// Decode parses data into a tree. It fails with a DECODE_ERROR when data is not a
// single well-formed JSON value.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, types.WrapError(types.ErrDecode, "malformed document", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, types.NewError(types.ErrDecode, "trailing data after document")
	}

	return normalize(raw)
}

// normalize replaces json.Number leaves with int64 or float64
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, types.WrapError(types.ErrDecode, "number out of range", err)
		}
		return f, nil
	case map[string]any:
		for k, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
