package domain

import "context"

// ReviewSource fetches the current review set for the configured location.
// No side effects; an empty result is a normal outcome.
type ReviewSource interface {
	ListReviews(ctx context.Context) ([]Review, error)
}

// ReplyPoster submits a generated reply for one review.
type ReplyPoster interface {
	PostReply(ctx context.Context, reviewID, text string) error
}

// ReplyGenerator produces a reply for a review. Pure function of the
// review content plus fixed style configuration.
type ReplyGenerator interface {
	Generate(ctx context.Context, rv Review) (string, error)
}

// ReplyStore is the durable reply log (seen-review tracker).
type ReplyStore interface {
	// IsHandled is true iff a terminal record (succeeded or skipped)
	// exists for the review.
	IsHandled(ctx context.Context, reviewID string) (bool, error)
	// Record appends a ReplyRecord. A second terminal record for the
	// same review is a no-op, not an error.
	Record(ctx context.Context, rec ReplyRecord) error
	ListReplies(ctx context.Context, limit int) ([]ReplyRecord, error)
	RecordCycle(ctx context.Context, rep CycleReport) error
	LatestCycle(ctx context.Context) (CycleReport, error)
}

// SeenCache is a best-effort fast path over the store's terminal set.
// Never authoritative; a miss or error falls through to the store.
type SeenCache interface {
	Handled(ctx context.Context, reviewID string) (bool, error)
	MarkHandled(ctx context.Context, reviewID string) error
}

// Notifier delivers the CycleReport to the operator. Delivery failures
// must never take the process down.
type Notifier interface {
	Notify(ctx context.Context, rep CycleReport) error
}
