package zipcore

import (
	"golang.org/x/text/encoding/charmap"
)

// PathCodec is the hook through which OEM/locale character-set
// translation reaches the core: probed at runtime rather than compiled
// in, so callers can substitute their own code page.
type PathCodec interface {
	// Decode turns on-disk stored_name bytes into a display string.
	Decode(stored []byte) (string, error)
	// Encode turns a display string back into on-disk bytes. It returns
	// false if the string cannot be represented in this code page.
	Encode(name string) ([]byte, bool)
}

// cp437Codec is the default PathCodec: legacy PKZIP CP-437, the encoding
// the format specifies for names that don't carry the UTF-8 flag or a
// Unicode-Path extra field. golang.org/x/text/encoding/charmap is the
// ecosystem's standard home for fixed 8-bit code pages (see ASchurman-zip,
// which pulls in golang.org/x/text for the same reason in a zip-adjacent
// tool), so the hook is wired directly to charmap.CodePage437 rather than
// hand-rolling a 256-entry translation table.
type cp437Codec struct{}

// CP437 is the default OEM PathCodec.
var CP437 PathCodec = cp437Codec{}

func (cp437Codec) Decode(stored []byte) (string, error) {
	out, err := charmap.CodePage437.NewDecoder().Bytes(stored)
	if err != nil {
		return "", wrapErr(FormatError, "", err)
	}
	return string(out), nil
}

func (cp437Codec) Encode(name string) ([]byte, bool) {
	out, err := charmap.CodePage437.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, false
	}
	return out, true
}

// utf8Codec is a PathCodec that treats stored_name as already UTF-8; it is
// used when the caller disables OEM translation entirely (e.g. archives
// known to originate from a UTF-8-flagged writer only).
type utf8Codec struct{}

// UTF8PathCodec is a pass-through PathCodec for callers who never need OEM
// translation.
var UTF8PathCodec PathCodec = utf8Codec{}

func (utf8Codec) Decode(stored []byte) (string, error) { return string(stored), nil }

func (utf8Codec) Encode(name string) ([]byte, bool) { return []byte(name), true }
