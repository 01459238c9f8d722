package scrape

import "errors"

// ErrCancelled is the distinguished cancellation outcome. It is checked at
// every suspension point and propagated unchanged up to the job executor,
// which is the only place it is translated into a terminal status.
var ErrCancelled = errors.New("operation cancelled")

// IsCancelled reports whether err is the cooperative cancellation signal,
// directly or via a wrapped context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
