package classfile

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// decodeModifiedUTF8 decodes the JVM's modified UTF-8 (JVMS 4.4.7): NUL is
// encoded as C0 80 and supplementary characters as two three-byte surrogates.
// Unpaired surrogates cannot be represented in a Go string and are rejected.
func decodeModifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		r, n, err := decodeMUTF8Unit(b[i:])
		if err != nil {
			return "", fmt.Errorf("%w: offset %d: %v", ErrBadUTF8, i, err)
		}
		i += n
		if utf16.IsSurrogate(r) {
			if r >= 0xDC00 {
				return "", fmt.Errorf("%w: offset %d: unpaired low surrogate %U", ErrBadUTF8, i-n, r)
			}
			lo, m, err := decodeMUTF8Unit(b[i:])
			if err != nil || lo < 0xDC00 || lo > 0xDFFF {
				return "", fmt.Errorf("%w: offset %d: unpaired high surrogate %U", ErrBadUTF8, i-n, r)
			}
			i += m
			r = utf16.DecodeRune(r, lo)
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}

// decodeMUTF8Unit decodes one 1-, 2- or 3-byte unit and returns the UTF-16
// code unit it carries.
func decodeMUTF8Unit(b []byte) (rune, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("unexpected end of string")
	}
	c := b[0]
	switch {
	case c == 0:
		return 0, 0, fmt.Errorf("raw NUL byte")
	case c < 0x80:
		return rune(c), 1, nil
	case c&0xE0 == 0xC0:
		if len(b) < 2 || b[1]&0xC0 != 0x80 {
			return 0, 0, fmt.Errorf("truncated two-byte sequence")
		}
		return rune(c&0x1F)<<6 | rune(b[1]&0x3F), 2, nil
	case c&0xF0 == 0xE0:
		if len(b) < 3 || b[1]&0xC0 != 0x80 || b[2]&0xC0 != 0x80 {
			return 0, 0, fmt.Errorf("truncated three-byte sequence")
		}
		return rune(c&0x0F)<<12 | rune(b[1]&0x3F)<<6 | rune(b[2]&0x3F), 3, nil
	default:
		return 0, 0, fmt.Errorf("invalid lead byte %#x", c)
	}
}
