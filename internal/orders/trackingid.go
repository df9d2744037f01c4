package orders

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var trackingIDPattern = regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{6}$`)

// NewTrackingID returns ORD-YYYYMMDD-XXXXXX. Collisions are not re-rolled; the
// store's unique index surfaces them as an insert error.
func NewTrackingID(at time.Time) string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("tracking id entropy: %v", err))
	}
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(b[:])))
}

func IsTrackingID(s string) bool {
	return trackingIDPattern.MatchString(s)
}
