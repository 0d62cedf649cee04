// Package contenthash computes deterministic, domain-separated content
// hashes used for clip checksums and run-manifest provenance fields.
//
// Grounded on the teacher's internal/ir/canonical.go and internal/ir/hash.go
// (RFC 8785-flavored canonical JSON + SHA-256 with a domain prefix),
// generalized from NYSM's IRValue tree to arbitrary JSON-marshalable Go
// values: encoding/json already sorts map keys, so canonicalization here
// narrows to NFC string normalization plus the domain-separation scheme.
package contenthash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes separate hash namespaces so that two different kinds of
// content that happen to canonicalize to the same bytes never collide.
const (
	DomainVideoChecksum = "clippipe/video-checksum/v1"
	DomainDatasetHash   = "clippipe/dataset-hash/v1"
	DomainCodeHash      = "clippipe/code-hash/v1"
)

// Sum computes SHA-256(domain + 0x00 + canonicalJSON(v)) and returns the
// full hex digest. The null byte separator prevents domain/data boundary
// ambiguity (e.g. domain "ab" + data "c" colliding with domain "a" + data
// "bc").
func Sum(domain string, v any) (string, error) {
	canonical, err := marshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("contenthash: canonicalize: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Truncated computes Sum and truncates the hex digest to n characters,
// for short, human-legible checksums. n <= 0 or n beyond the digest
// length returns the full digest.
func Truncated(domain string, v any, n int) (string, error) {
	full, err := Sum(domain, v)
	if err != nil {
		return "", err
	}
	if n <= 0 || n > len(full) {
		return full, nil
	}
	return full[:n], nil
}

// SumFile hashes a file's contents under DomainVideoChecksum-compatible
// semantics (no canonicalization needed: raw bytes are already
// deterministic). chunkSize bounds memory use for large video files.
func SumFile(domain, path string, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("contenthash: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	if _, err := io.CopyBuffer(h, f, make([]byte, chunkSize)); err != nil {
		return "", fmt.Errorf("contenthash: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// marshalCanonical serializes v the way RFC 8785 canonical JSON requires
// for our purposes: stable key order (Go's encoding/json already sorts
// map[string]X keys), no HTML escaping, and NFC-normalized strings.
func marshalCanonical(v any) ([]byte, error) {
	normalized, err := normalizeStrings(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

// normalizeStrings round-trips v through JSON so arbitrary struct/map
// inputs become plain map[string]any/[]any/string/float64/bool/nil trees,
// then NFC-normalizes every string leaf in place.
func normalizeStrings(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return normalizeValue(generic), nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[norm.NFC.String(k)] = normalizeValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeValue(elem)
		}
		return out
	default:
		return v
	}
}
