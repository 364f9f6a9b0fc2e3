package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Type    string         `json:"type"`
	Actor   string         `json:"actor"`
	Payload map[string]any `json:"payload"`
	CRC32   string         `json:"crc32"`
}

// === canonical encoding ===

func TestCanonicalizeSortsKeysAndClearsCRC(t *testing.T) {
	rec := sample{Type: "PROJECT_STARTED", Actor: "orchestrator", CRC32: "DEADBEEF"}

	out, err := Canonicalize(rec)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.Index(s, `"actor"`) < strings.Index(s, `"type"`))
	assert.Contains(t, s, `"crc32":""`)
	assert.NotContains(t, s, " ")
}

func TestCanonicalizePreservesUnicode(t *testing.T) {
	rec := sample{Type: "PROJECT_STARTED", Actor: "日本語"}
	out, err := Canonicalize(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), "日本語")
}

// === CRC ===

func TestSealThenVerifyRoundTrips(t *testing.T) {
	rec := sample{Type: "PROJECT_STARTED", Actor: "orchestrator", Payload: map[string]any{"b": 1, "a": 2}}

	checksum, _, err := Seal(&rec)
	require.NoError(t, err)
	require.Len(t, checksum, 8)

	rec.CRC32 = checksum
	ok, err := Verify(&rec)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDetectsTamper(t *testing.T) {
	rec := sample{Type: "PROJECT_STARTED", Actor: "orchestrator"}
	checksum, _, err := Seal(&rec)
	require.NoError(t, err)
	rec.CRC32 = checksum

	rec.Actor = "tampered"
	ok, err := Verify(&rec)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMapToleratesMissingField(t *testing.T) {
	m := map[string]any{"type": "PROJECT_STARTED"}
	assert.False(t, VerifyMap(m))
}

func TestCRC32HexIsUppercaseEightDigits(t *testing.T) {
	hex := CRC32Hex([]byte("hello"))
	assert.Len(t, hex, 8)
	assert.Equal(t, strings.ToUpper(hex), hex)
}
