package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable identifier the coordinator uses for
// idempotency and status lookups. If the message carries a caller-supplied
// idempotency tag, it is used verbatim; otherwise the fingerprint is a
// collision-resistant hash of (destination, origin, subject, body), stable
// across process restarts for the same tuple.
func Fingerprint(msg Message) string {
	if strings.TrimSpace(msg.IdempotencyTag) != "" {
		return msg.IdempotencyTag
	}

	h := sha256.New()
	for _, field := range []string{msg.Destination, msg.Origin, msg.Subject, msg.Body} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
