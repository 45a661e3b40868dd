// Package jsonld decodes structured-data blocks into a closed value type and
// walks them without reflection.
package jsonld

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxDepth = 64

// Value is one of String, Number, Bool, Null, Array or Object.
type Value interface {
	isValue()
}

type (
	String string
	Number string
	Bool   bool
	Null   struct{}
	Array  []Value
)

// Object keeps keys in document order so walks are deterministic.
type Object struct {
	Keys   []string
	Fields map[string]Value
}

func (String) isValue() {}
func (Number) isValue() {}
func (Bool) isValue()   {}
func (Null) isValue()   {}
func (Array) isValue()  {}
func (Object) isValue() {}

// Get returns the field value or nil.
func (o Object) Get(key string) Value {
	if o.Fields == nil {
		return nil
	}
	return o.Fields[key]
}

var errDepth = errors.New("jsonld: nesting too deep")

// Decode reads the first JSON value from r.
func Decode(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return decodeValue(dec, 0)
}

// DecodeScript cleans the wrappers publishers put around ld+json blocks.
func DecodeScript(text string) (Value, error) {
	text = strings.TrimSpace(text)
	for _, junk := range []string{"<!--", "-->", "//<![CDATA[", "//]]>", "<![CDATA[", "]]>"} {
		text = strings.ReplaceAll(text, junk, "")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), ";")
	if text == "" {
		return nil, io.EOF
	}
	return Decode(strings.NewReader(text))
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, errDepth
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeObject(dec, depth)
		case '[':
			return decodeArray(dec, depth)
		default:
			return nil, fmt.Errorf("jsonld: unexpected delimiter %q", v)
		}
	case string:
		return String(v), nil
	case json.Number:
		return Number(v), nil
	case bool:
		return Bool(v), nil
	case nil:
		return Null{}, nil
	default:
		return nil, fmt.Errorf("jsonld: unexpected token %T", tok)
	}
}

func decodeObject(dec *json.Decoder, depth int) (Value, error) {
	obj := Object{Fields: map[string]Value{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("jsonld: object key is %T", keyTok)
		}
		val, err := decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		if _, dup := obj.Fields[key]; !dup {
			obj.Keys = append(obj.Keys, key)
		}
		obj.Fields[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder, depth int) (Value, error) {
	var arr Array
	for dec.More() {
		val, err := decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

// Match is a string value found under a wanted key.
type Match struct {
	Key   string
	Value string
}

// Find walks v depth-first and returns every string (or array of strings)
// stored under one of keys, in document order.
func Find(v Value, keys ...string) []Match {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	return find(v, want)
}

func find(v Value, want map[string]struct{}) []Match {
	var out []Match
	switch node := v.(type) {
	case Object:
		for _, key := range node.Keys {
			val := node.Fields[key]
			if _, ok := want[key]; ok {
				out = append(out, stringsOf(key, val)...)
			}
			out = append(out, find(val, want)...)
		}
	case Array:
		for _, item := range node {
			out = append(out, find(item, want)...)
		}
	}
	return out
}

func stringsOf(key string, v Value) []Match {
	switch node := v.(type) {
	case String:
		if s := strings.TrimSpace(string(node)); s != "" {
			return []Match{{Key: key, Value: s}}
		}
	case Array:
		var out []Match
		for _, item := range node {
			if s, ok := item.(String); ok && strings.TrimSpace(string(s)) != "" {
				out = append(out, Match{Key: key, Value: strings.TrimSpace(string(s))})
			}
		}
		return out
	}
	return nil
}

// Names collects display names stored under key, accepting plain strings,
// objects with a "name" field, or arrays of either. Used for author/image.
func Names(v Value, key, field string) []string {
	var out []string
	var walk func(Value)
	walk = func(v Value) {
		switch node := v.(type) {
		case Object:
			for _, k := range node.Keys {
				val := node.Fields[k]
				if k == key {
					out = append(out, namesOf(val, field)...)
				}
				walk(val)
			}
		case Array:
			for _, item := range node {
				walk(item)
			}
		}
	}
	walk(v)
	return out
}

func namesOf(v Value, field string) []string {
	switch node := v.(type) {
	case String:
		if s := strings.TrimSpace(string(node)); s != "" {
			return []string{s}
		}
	case Object:
		if s, ok := node.Get(field).(String); ok && strings.TrimSpace(string(s)) != "" {
			return []string{strings.TrimSpace(string(s))}
		}
	case Array:
		var out []string
		for _, item := range node {
			out = append(out, namesOf(item, field)...)
		}
		return out
	}
	return nil
}
