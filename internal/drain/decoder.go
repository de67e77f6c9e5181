package drain

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used when none is configured.
const DefaultEncoding = "utf-8"

// Decoder turns raw output bytes into text. Undecodable input is replaced
// with U+FFFD and counted; decoding never fails.
type Decoder struct {
	name     string
	utf8     bool
	dec      *encoding.Decoder
	replaced atomic.Int64
}

// NewDecoder creates a decoder for a WHATWG encoding label such as
// "utf-8", "windows-1252" or "shift_jis".
func NewDecoder(label string) (*Decoder, error) {
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	return &Decoder{
		name: name,
		utf8: name == "utf-8",
		dec:  enc.NewDecoder(),
	}, nil
}

// Name returns the canonical encoding name.
func (d *Decoder) Name() string { return d.name }

// Replaced returns how many chunks needed replacement characters.
func (d *Decoder) Replaced() int64 { return d.replaced.Load() }

// Decode converts b to a string. Not safe for concurrent use.
func (d *Decoder) Decode(b []byte) string {
	if isASCII(b) {
		return string(b)
	}
	if d.utf8 {
		if utf8.Valid(b) {
			return string(b)
		}
		d.replaced.Add(1)
		return strings.ToValidUTF8(string(b), replacement)
	}

	out, err := d.dec.Bytes(b)
	if err != nil {
		d.replaced.Add(1)
		return strings.ToValidUTF8(string(b), replacement)
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		d.replaced.Add(1)
	}
	return string(out)
}

const replacement = string(utf8.RuneError)

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
