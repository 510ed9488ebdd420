// Package desc parses the per-package "desc" files found in pacman repository
// databases.
//
// A desc file is a sequence of sections. Each section starts with a tag line
// such as %NAME% and is followed by one or more value lines:
//
//	%NAME%
//	cronie
//
//	%DEPENDS%
//	pam
//	bash
//
// A section with one value line parses to a single value, a section with more
// lines parses to an ordered list.
package desc

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/cperrin88/archdex/internal/logger"
)

// Value is either a single string or an ordered list of strings.
type Value struct {
	items []string
	multi bool
}

// Single makes a single-valued Value.
func Single(s string) Value {
	return Value{items: []string{s}}
}

// Array makes a list-valued Value. The slice is copied.
func Array(items ...string) Value {
	return Value{items: slices.Clone(items), multi: true}
}

// fromLines picks the representation from the line count.
func fromLines(lines []string) Value {
	if len(lines) == 1 {
		return Single(lines[0])
	}
	return Array(lines...)
}

// IsArray reports whether v holds a list.
func (v Value) IsArray() bool { return v.multi }

// String returns the single value, or the empty string for lists.
func (v Value) String() string {
	if v.multi || len(v.items) == 0 {
		return ""
	}
	return v.items[0]
}

// Strings returns every line of v in order.
func (v Value) Strings() []string {
	return slices.Clone(v.items)
}

// MarshalJSON encodes a single value as a string and a list as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.multi {
		items := v.items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	return json.Marshal(v.String())
}

// Desc is the parsed metadata of one package.
type Desc struct {
	fields map[Key]Value
}

// Parse reads desc text. Any unrecognized tag fails the whole parse.
func Parse(text string) (*Desc, error) {
	current := KeyBegin
	sections := make(map[Key][]string)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") {
			key, err := ParseKey(strings.Trim(line, "%"))
			if err != nil {
				return nil, err
			}
			current = key
			continue
		}
		sections[current] = append(sections[current], line)
	}

	if stray, ok := sections[KeyBegin]; ok {
		logger.Debug("dropping lines before first desc tag", logger.Fields{"lines": len(stray)})
		delete(sections, KeyBegin)
	}

	d := &Desc{fields: make(map[Key]Value, len(sections)+1)}
	for k, lines := range sections {
		d.fields[k] = fromLines(lines)
	}
	return d, nil
}

// Get returns the value stored under key.
func (d *Desc) Get(key Key) (Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Single returns the value of key if it is present and single-valued.
func (d *Desc) Single(key Key) (string, bool) {
	v, ok := d.fields[key]
	if !ok || v.multi {
		return "", false
	}
	return v.String(), true
}

// Set stores a single value under key, replacing any previous value.
func (d *Desc) Set(key Key, value string) {
	d.fields[key] = Single(value)
}

// Keys returns the present keys in tag order.
func (d *Desc) Keys() []Key {
	keys := make([]Key, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of fields.
func (d *Desc) Len() int { return len(d.fields) }

// MarshalJSON writes the fields as one object, in tag order.
func (d *Desc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k.Field())
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(d.fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
