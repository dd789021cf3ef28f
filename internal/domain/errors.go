package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired: the upstream rejected our credential. Fatal to the
	// current cycle only; the token source is expected to refresh before
	// the next tick.
	ErrAuthExpired = errors.New("auth expired")

	// ErrUpstreamUnavailable: network error or server-side failure on the
	// business-profile API. Retried by the next scheduled cycle, never
	// busy-retried inside one.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrGenerationFailed: the language model errored or produced unusable
	// output. Per-review; does not abort the cycle.
	ErrGenerationFailed = errors.New("reply generation failed")
)

// PostRejectedError: the upstream refused a reply submission. Permanent
// rejections (review deleted, reply not editable) are recorded as skipped
// so they are not retried forever; everything else is retried next cycle.
type PostRejectedError struct {
	Reason    string
	Permanent bool
}

func (e *PostRejectedError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("post rejected (permanent): %s", e.Reason)
	}
	return fmt.Sprintf("post rejected: %s", e.Reason)
}
