// Package taskid generates sortable job identifiers.
package taskid

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

const suffixBytes = 4

// New returns an id of the form "<unix-millis base36>-<random hex>". The
// timestamp prefix keeps ids roughly sortable by creation time; the random
// suffix breaks same-millisecond collisions.
func New(now time.Time) string {
	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is gone; fall back
		// to the nanosecond clock rather than returning an error nobody
		// can act on.
		nano := uint64(now.UnixNano())
		for i := range buf {
			buf[i] = byte(nano >> (8 * i))
		}
	}
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + hex.EncodeToString(buf)
}
