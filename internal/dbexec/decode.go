package dbexec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ValueDecoder converts raw driver text into UTF-8 strings. Legacy Firebird
// databases created with charset NONE return WIN1252 bytes.
type ValueDecoder struct {
	charset string
	enc     encoding.Encoding
}

var charsets = map[string]encoding.Encoding{
	"WIN1252":      charmap.Windows1252,
	"WINDOWS-1252": charmap.Windows1252,
	"CP1252":       charmap.Windows1252,
	"ISO8859_1":    charmap.ISO8859_1,
	"ISO-8859-1":   charmap.ISO8859_1,
	"LATIN1":       charmap.ISO8859_1,
	"ISO8859_15":   charmap.ISO8859_15,
	"ISO-8859-15":  charmap.ISO8859_15,
}

// NewValueDecoder returns a decoder for charset. An empty charset or UTF8
// only converts byte slices to strings.
func NewValueDecoder(charset string) (*ValueDecoder, error) {
	name := strings.ToUpper(strings.TrimSpace(charset))
	switch name {
	case "", "UTF8", "UTF-8", "NONE":
		return &ValueDecoder{charset: "UTF8"}, nil
	}
	enc, ok := charsets[name]
	if !ok {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return &ValueDecoder{charset: name, enc: enc}, nil
}

// Charset returns the normalized charset name.
func (d *ValueDecoder) Charset() string {
	if d == nil {
		return ""
	}
	return d.charset
}

// Decode converts []byte values to strings and re-decodes text that is not
// valid UTF-8. Other values pass through.
func (d *ValueDecoder) Decode(v any) (any, error) {
	if d == nil {
		return v, nil
	}
	switch t := v.(type) {
	case []byte:
		return d.decodeString(string(t))
	case string:
		return d.decodeString(t)
	default:
		return v, nil
	}
}

func (d *ValueDecoder) decodeString(s string) (string, error) {
	if d.enc == nil || utf8.ValidString(s) {
		return s, nil
	}
	return d.enc.NewDecoder().String(s)
}
