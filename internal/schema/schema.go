package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownFlag is returned when a field spec carries a flag the parser does
// not understand.
var ErrUnknownFlag = errors.New("schema: unrecognized flag")

// Field describes one column of a counter type.
type Field struct {
	Key     string `json:"key"`
	Index   int    `json:"index"`
	Event   bool   `json:"event,omitempty"`
	Control bool   `json:"control,omitempty"`
	Width   int    `json:"width,omitempty"` // 0 = 64 bits
	Mult    uint64 `json:"mult,omitempty"`  // 0 = no scaling
	Unit    string `json:"unit,omitempty"`
}

// BitWidth returns the declared width, defaulting to 64.
func (f Field) BitWidth() int {
	if f.Width <= 0 || f.Width > 64 {
		return 64
	}
	return f.Width
}

// Counter reports whether the field needs delta and rollover handling.
func (f Field) Counter() bool {
	return f.Event && !f.Control
}

// Schema is an ordered, read-only set of fields for one counter type.
type Schema struct {
	desc   string
	fields []Field
	index  map[string]int
}

// Parse builds a Schema from a whitespace separated list of field specs
// (key[,C][,E][,W=<int>][,U=<unit>]). desc is kept verbatim for comparison.
func Parse(desc string) (*Schema, error) {
	tokens := strings.Fields(desc)
	s := &Schema{
		desc:   desc,
		fields: make([]Field, 0, len(tokens)),
		index:  make(map[string]int, len(tokens)),
	}
	for i, tok := range tokens {
		f, err := parseField(i, tok)
		if err != nil {
			return nil, err
		}
		s.fields = append(s.fields, f)
		s.index[f.Key] = i
	}
	return s, nil
}

func parseField(i int, spec string) (Field, error) {
	opts := strings.Split(spec, ",")
	f := Field{Key: opts[0], Index: i}
	for _, opt := range opts[1:] {
		switch {
		case opt == "":
		case opt[0] == 'C':
			f.Control = true
		case opt[0] == 'E':
			f.Event = true
		case strings.HasPrefix(opt, "W="):
			w, err := strconv.Atoi(opt[2:])
			if err != nil {
				return Field{}, fmt.Errorf("schema: field %q: width %q: %w", spec, opt[2:], err)
			}
			f.Width = w
		case strings.HasPrefix(opt, "U="):
			j := 2
			for j < len(opt) && opt[j] >= '0' && opt[j] <= '9' {
				j++
			}
			if j > 2 {
				m, err := strconv.ParseUint(opt[2:j], 10, 64)
				if err != nil {
					return Field{}, fmt.Errorf("schema: field %q: multiplier: %w", spec, err)
				}
				f.Mult = m
			}
			if j < len(opt) {
				f.Unit = opt[j:]
			}
			if f.Unit == "KB" {
				f.Mult = 1024
				f.Unit = "B"
			}
		default:
			return Field{}, fmt.Errorf("%w %q in field %q", ErrUnknownFlag, opt, spec)
		}
	}
	return f, nil
}

// Desc returns the description the schema was parsed from.
func (s *Schema) Desc() string { return s.desc }

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// At returns the field at column i.
func (s *Schema) At(i int) Field { return s.fields[i] }

// Field looks up a field by key.
func (s *Schema) Field(key string) (Field, bool) {
	i, ok := s.index[key]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Fields returns a copy of the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Keys returns the field keys in declaration order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Key
	}
	return keys
}
