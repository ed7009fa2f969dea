package lottery

import "errors"

// Error taxonomy shared by the source client, the stores, the fan-out and the
// command handlers. Callers wrap these with context and classify with errors.Is.
var (
	// ErrSourceUnavailable: the draw source could not be reached (network, timeout, non-2xx).
	ErrSourceUnavailable = errors.New("draw source unavailable")
	// ErrSourceMalformed: the draw source answered with a payload that is not a draw.
	ErrSourceMalformed = errors.New("draw source payload malformed")
	// ErrInvalidSelection: a registration did not have 5 mains + 2 stars in range.
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrNotRegistered: an on-demand check from a user without a selection.
	ErrNotRegistered = errors.New("not registered")
	// ErrDeliveryFailed: sending a notification to one recipient failed.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// IsSourceError reports whether err is one of the draw source failures.
func IsSourceError(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrSourceMalformed)
}
