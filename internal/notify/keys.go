package notify

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/fundradar/radar/internal/model"
)

// MessageKey derives the idempotency key for one notification. The
// key is a pure function of (date, slot, type, subject) so retries of
// the same logical message always collide. Daily digests carry no
// subject; opportunity alerts use the item id so distinct items in
// the same slot get distinct keys.
func MessageKey(date, slot string, pushType model.PushType, subject string) string {
	s := date + ":" + slot + ":" + string(pushType)
	if subject != "" {
		s += ":" + subject
	}
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
