package domain

import "time"

// Review is a customer review as the business-profile API reports it.
// Reviews are owned upstream; the bot only ever reads them.
type Review struct {
	ID            string
	Author        string
	Rating        int    // 1..5 stars
	Comment       string // may be empty (rating-only reviews)
	CreateTime    time.Time
	ExistingReply string // upstream reply text, "" when unanswered
	HasReply      bool   // upstream already shows a reply
}

// Outcome of a reply attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped marks reviews the upstream rejected permanently
	// (e.g. review deleted); they are never retried.
	OutcomeSkipped Outcome = "skipped"
)

// Terminal reports whether the outcome closes the review for good.
// Failed attempts stay open and are retried on the next cycle.
func (o Outcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeSkipped
}

// ReplyRecord is one append-only row of the reply log. At most one
// terminal record may exist per review.
type ReplyRecord struct {
	ID         int64
	ReviewID   string
	ReplyText  string
	Outcome    Outcome
	FailReason string
	CreatedAt  time.Time
}
