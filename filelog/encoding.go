package filelog

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rcowham/gorevlog/errs"
)

// maxEncodedNameLen bounds the whole encoded store path before it is
// rerouted through the hashed-prefix fallback.
// The exact platform filename limit is a tuning constant, not semantics.
const maxEncodedNameLen = 120

var reservedDeviceNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com0": true, "com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt0": true, "lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// safeByte reports whether b needs no percent-escaping in the encoded form:
// only the digits, the lowercase letters, '.' and '-' are safe; every other
// byte is escaped.
func safeByte(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b == '.' || b == '-':
		return true
	}
	return false
}

// EncodePath reversibly maps a repository path (arbitrary bytes, '/'
// separated) onto a name the host filesystem can represent:
// reserved device names get a leading '~' escape, uppercase letters become
// '_<lower>', a literal '_' doubles to '__', and bytes outside the
// conservative safe set are percent-escaped as '~<hex><hex>'. Long results
// are rerouted through a hashed-prefix fallback by the caller (see
// EncodeStorePath).
func EncodePath(path string) string {
	var out strings.Builder
	for _, seg := range strings.Split(path, "/") {
		if out.Len() > 0 {
			out.WriteByte('/')
		}
		out.WriteString(encodeSegment(seg))
	}
	return out.String()
}

func encodeSegment(seg string) string {
	lower := strings.ToLower(seg)
	base := lower
	if idx := strings.IndexByte(lower, '.'); idx >= 0 {
		base = lower[:idx]
	}
	var out strings.Builder
	if reservedDeviceNames[base] {
		out.WriteByte('~')
	}
	for i := 0; i < len(seg); i++ {
		b := seg[i]
		switch {
		case b == '_':
			out.WriteString("__")
		case b >= 'A' && b <= 'Z':
			out.WriteByte('_')
			out.WriteByte(b - 'A' + 'a')
		case safeByte(b):
			out.WriteByte(b)
		default:
			fmt.Fprintf(&out, "~%02x", b)
		}
	}
	return out.String()
}

// DecodePath reverses EncodePath.
func DecodePath(encoded string) (string, error) {
	segs := strings.Split(encoded, "/")
	out := make([]string, len(segs))
	for i, seg := range segs {
		d, err := decodeSegment(seg)
		if err != nil {
			return "", err
		}
		out[i] = d
	}
	return strings.Join(out, "/"), nil
}

func decodeSegment(seg string) (string, error) {
	if strings.HasPrefix(seg, "~") && len(seg) > 1 && !isHexEscape(seg) {
		seg = seg[1:]
	}
	var out strings.Builder
	for i := 0; i < len(seg); i++ {
		switch seg[i] {
		case '_':
			if i+1 >= len(seg) {
				return "", errs.New(errs.Integrity, "filelog.decodeSegment", "truncated escape")
			}
			if seg[i+1] == '_' {
				out.WriteByte('_')
			} else {
				out.WriteByte(seg[i+1] - 'a' + 'A')
			}
			i++
		case '~':
			if i+2 >= len(seg) {
				return "", errs.New(errs.Integrity, "filelog.decodeSegment", "truncated percent escape")
			}
			var b int
			if _, err := fmt.Sscanf(seg[i+1:i+3], "%02x", &b); err != nil {
				return "", errs.Wrap(errs.Integrity, "filelog.decodeSegment", "bad percent escape", err)
			}
			out.WriteByte(byte(b))
			i += 2
		default:
			out.WriteByte(seg[i])
		}
	}
	return out.String(), nil
}

// isHexEscape reports whether seg begins with a '~XX' percent escape rather
// than the reserved-device-name marker, so decodeSegment doesn't strip a
// leading '~' that was actually the start of a "~00"-style escape.
func isHexEscape(seg string) bool {
	if len(seg) < 3 {
		return false
	}
	return isHexDigit(seg[1]) && isHexDigit(seg[2])
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
}

// EncodeStorePath produces the final on-disk filelog basename (without
// extension) for a tracked path, rerouting through a content-hashed prefix
// when the straightforward encoding would exceed the platform filename
// limit.
func EncodeStorePath(path string) string {
	encoded := EncodePath(path)
	if len(encoded) <= maxEncodedNameLen {
		return "data/" + encoded
	}
	sum := sha1.Sum([]byte(path))
	return "dh/" + hex.EncodeToString(sum[:])
}
