// Package codec implements the canonical JSON encoding and CRC-32
// integrity check used for every persisted event record.
//
// Canonicalization rules (spec.md §4.1, §6.3): keys are sorted
// lexicographically, there is no whitespace between tokens, Unicode
// characters are preserved rather than escaped, and the crc32 field is
// forced to the empty string before the bytes are hashed.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// CRCField is the JSON object key holding the integrity checksum.
const CRCField = "crc32"

// Canonicalize produces the deterministic byte form of record: it
// round-trips record through a map so Go's map encoder sorts keys
// lexicographically, disables HTML escaping so <, > and & stay
// literal, and forces the crc32 field to "" regardless of
// its current value.
//
// record must already be JSON-marshalable (a struct with json tags, or
// a map[string]any).
func Canonicalize(record any) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal record: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("codec: unmarshal to map: %w", err)
	}
	m[CRCField] = ""

	return encodeSortedCompact(m)
}

// encodeSortedCompact marshals m with sorted keys (Go's encoding/json
// already sorts map[string]any keys, including nested maps), no
// trailing newline, and HTML escaping disabled.
func encodeSortedCompact(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("codec: encode canonical map: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CRC32Hex computes the IEEE CRC-32 of data and formats it as 8
// uppercase hex digits.
func CRC32Hex(data []byte) string {
	sum := crc32.ChecksumIEEE(data)
	return fmt.Sprintf("%08X", sum)
}

// Seal computes the canonical encoding of record with its crc32 field
// cleared, returns the checksum that should be stored in that field,
// and the final canonical bytes with the checksum filled in (ready to
// write as a line in events.ndjson).
func Seal(record any) (checksum string, sealed []byte, err error) {
	canonical, err := Canonicalize(record)
	if err != nil {
		return "", nil, err
	}
	checksum = CRC32Hex(canonical)

	raw, err := json.Marshal(record)
	if err != nil {
		return "", nil, fmt.Errorf("codec: marshal record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, fmt.Errorf("codec: unmarshal to map: %w", err)
	}
	m[CRCField] = checksum

	sealed, err = encodeSortedCompact(m)
	if err != nil {
		return "", nil, err
	}
	return checksum, sealed, nil
}

// Verify recomputes the canonical CRC-32 of record (reading its current
// crc32 field as the expected value) and reports whether it matches.
// It tolerates an absent crc32 field by treating it as a mismatch
// rather than panicking.
func Verify(record any) (bool, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("codec: marshal record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false, fmt.Errorf("codec: unmarshal to map: %w", err)
	}

	want, _ := m[CRCField].(string)

	canonical, err := Canonicalize(record)
	if err != nil {
		return false, err
	}
	got := CRC32Hex(canonical)

	return constantTimeEqual(want, got), nil
}

// VerifyMap is Verify for a decoded map[string]any, used when reading
// events.ndjson lines back off disk without a typed Event.
func VerifyMap(m map[string]any) bool {
	want, _ := m[CRCField].(string)

	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	cp[CRCField] = ""

	canonical, err := encodeSortedCompact(cp)
	if err != nil {
		return false
	}
	got := CRC32Hex(canonical)
	return constantTimeEqual(want, got)
}

// constantTimeEqual compares two short hex strings in constant time,
// tolerating unequal lengths (an absent or truncated crc32 field)
// without leaking length via early return.
func constantTimeEqual(a, b string) bool {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	var diff byte
	for i := 0; i < maxLen; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		diff |= ca ^ cb
	}
	diff |= byte(len(a) ^ len(b))
	return diff == 0
}
