package protocol

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidMetadata is returned when a trailer value contains a CR or LF
// byte, which cannot be represented in the HTTP-1 header block encoding.
var ErrInvalidMetadata = errors.New("grpcweb: metadata value contains CR or LF")

// BinHeaderSuffix marks a metadata key whose value is base64-encoded on the
// wire and raw bytes in memory.
const BinHeaderSuffix = "-bin"

// Pair is a single metadata entry. Order is preserved by PackTrailers and
// UnpackTrailers; duplicate keys are legal.
type Pair struct {
	Key   string
	Value string
}

// PackTrailers encodes pairs as an HTTP-1 header block: one
// "lowercase-key: value\r\n" line per pair, concatenated in order. Keys are
// lowercased; values containing CR or LF are rejected.
func PackTrailers(pairs []Pair) ([]byte, error) {
	var b strings.Builder
	for _, p := range pairs {
		if strings.ContainsAny(p.Value, "\r\n") {
			return nil, errors.Wrapf(ErrInvalidMetadata, "key %q", p.Key)
		}
		b.WriteString(strings.ToLower(p.Key))
		b.WriteString(": ")
		b.WriteString(p.Value)
		b.WriteString("\r\n")
	}
	return []byte(b.String()), nil
}

// UnpackTrailers splits a header block on "\r\n", ignoring a trailing blank
// line, and splits each line on the first colon. Order is preserved;
// duplicate keys are returned as separate entries.
func UnpackTrailers(data []byte) []Pair {
	var pairs []Pair

	lines := strings.Split(string(data), "\r\n")
	for _, line := range lines {
		if line == "" {
			continue
		}

		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}

		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		pairs = append(pairs, Pair{Key: key, Value: value})
	}

	return pairs
}

// EncodeBinValue base64-encodes raw bytes for transit under a "-bin" key.
func EncodeBinValue(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeBinValue decodes a base64 value received under a "-bin" key.
func DecodeBinValue(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(value)
}

// IsBinKey reports whether key carries a base64-encoded binary value.
func IsBinKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), BinHeaderSuffix)
}

// SortedKeys returns the distinct keys present in pairs, sorted, useful for
// building Access-Control-Expose-Headers style lists deterministically.
func SortedKeys(pairs []Pair) []string {
	seen := make(map[string]struct{}, len(pairs))
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		k := strings.ToLower(p.Key)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
