package task

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/phrazzld/sample-paper-api/internal/extraction"
)

// Fingerprint returns the deduplication key for a payload of the given kind:
// hex(sha256(kind || 0x00 || normalize(payload))).
func Fingerprint(kind extraction.InputKind, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(normalize(kind, payload))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize canonicalises text so that line-ending and trailing-whitespace
// differences do not defeat deduplication. PDF bytes are used as-is.
func normalize(kind extraction.InputKind, payload []byte) []byte {
	if kind != extraction.InputKindText {
		return payload
	}

	text := bytes.ReplaceAll(payload, []byte("\r\n"), []byte("\n"))
	lines := bytes.Split(text, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t\r\f\v")
	}
	return bytes.TrimSpace(bytes.Join(lines, []byte("\n")))
}
