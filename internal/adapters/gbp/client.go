// internal/adapters/gbp/client.go
package gbp

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"replybot/internal/adapters/observability"
	"replybot/internal/domain"
)

// Client talks to the Google Business Profile (My Business v4) review API
// for a single configured location.
type Client struct {
	base     string
	hc       *http.Client
	ts       TokenSource
	rl       *rate.Limiter
	account  string
	location string
}

func New(base, account, location string, ts TokenSource, rps int, timeout time.Duration) (*Client, error) {
	if account == "" || location == "" {
		return nil, fmt.Errorf("account and location are required")
	}
	if ts == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if rps <= 0 {
		rps = 5
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		base:     strings.TrimRight(base, "/"),
		hc:       &http.Client{Timeout: timeout},
		ts:       ts,
		rl:       rate.NewLimiter(rate.Limit(rps), rps),
		account:  account,
		location: location,
	}, nil
}

// ---- wire shapes ----

type listReviewsResponse struct {
	Reviews          []reviewPayload `json:"reviews"`
	NextPageToken    string          `json:"nextPageToken"`
	TotalReviewCount int             `json:"totalReviewCount"`
}

type reviewPayload struct {
	ReviewID string `json:"reviewId"`
	Reviewer struct {
		DisplayName string `json:"displayName"`
	} `json:"reviewer"`
	StarRating  string    `json:"starRating"`
	Comment     string    `json:"comment"`
	CreateTime  time.Time `json:"createTime"`
	ReviewReply *struct {
		Comment    string    `json:"comment"`
		UpdateTime time.Time `json:"updateTime"`
	} `json:"reviewReply"`
}

// starRating arrives as an enum word; some mirrors of the API return a
// bare digit string instead, so accept both.
var starWords = map[string]int{
	"ONE": 1, "TWO": 2, "THREE": 3, "FOUR": 4, "FIVE": 5,
}

func parseStars(s string) int {
	if n, ok := starWords[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 1 && n <= 5 {
		return n
	}
	return 0
}

func (p reviewPayload) toDomain() domain.Review {
	rv := domain.Review{
		ID:         p.ReviewID,
		Author:     p.Reviewer.DisplayName,
		Rating:     parseStars(p.StarRating),
		Comment:    p.Comment,
		CreateTime: p.CreateTime,
	}
	if p.ReviewReply != nil {
		rv.HasReply = true
		rv.ExistingReply = p.ReviewReply.Comment
	}
	return rv
}

// ---- Public API ----

// ListReviews fetches every review for the location, following page
// tokens. An empty feed is a normal, non-error outcome.
func (c *Client) ListReviews(ctx context.Context) ([]domain.Review, error) {
	var (
		out   []domain.Review
		token string
	)
	for {
		u := fmt.Sprintf("%s/accounts/%s/locations/%s/reviews", c.base, c.account, c.location)
		if token != "" {
			u += "?pageToken=" + token
		}
		var page listReviewsResponse
		if err := c.do(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Reviews {
			out = append(out, p.toDomain())
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

// PostReply submits a reply for one review. The caller is expected to
// have checked the upstream reply state first; a reply that races in
// anyway surfaces as a rejection, not a duplicate.
func (c *Client) PostReply(ctx context.Context, reviewID, text string) error {
	u := fmt.Sprintf("%s/accounts/%s/locations/%s/reviews/%s/reply",
		c.base, c.account, c.location, reviewID)
	body := map[string]string{"comment": text}
	return c.do(ctx, http.MethodPut, u, body, nil)
}

// ---- Internals ----

// do performs one API call with client-side rate limiting, bounded retry
// on 429/5xx (honoring Retry-After), and maps terminal statuses onto the
// domain error taxonomy.
func (c *Client) do(ctx context.Context, method, url string, in, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	endpoint := endpointLabel(method, url)
	var lastErr error
	for i := 0; i < 4; i++ {
		tok, err := c.ts.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "replybot/1.0")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.ObserveExternal("gbp", endpoint, 0, time.Since(start))
			lastErr = fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("gbp", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			if out == nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return nil
			}
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusUnauthorized, http.StatusForbidden:
			resp.Body.Close()
			return domain.ErrAuthExpired

		case http.StatusNotFound:
			resp.Body.Close()
			// The review is gone upstream; retrying forever would never
			// succeed, so classify as a permanent rejection.
			return &domain.PostRejectedError{Reason: "review not found", Permanent: true}

		case http.StatusBadRequest, http.StatusConflict:
			msg := apiErrMessage(resp.Body)
			resp.Body.Close()
			return classifyRejection(resp.StatusCode, msg)

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("%w: remote %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("%w: status %d: %s",
				domain.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// apiErrMessage digs the human message out of a Google-style error body.
func apiErrMessage(r io.Reader) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// Known rejection reasons and whether they are worth retrying. The API
// does not publish a closed list, so unknown reasons default to
// retryable; the next cycle picks them up again.
var permanentReasonFragments = []string{
	"review not found",
	"has been deleted",
	"review is deleted",
	"cannot be replied",
	"reply not supported",
}

func classifyRejection(status int, msg string) error {
	low := strings.ToLower(msg)
	for _, frag := range permanentReasonFragments {
		if strings.Contains(low, frag) {
			return &domain.PostRejectedError{Reason: msg, Permanent: true}
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("remote %d", status)
	}
	return &domain.PostRejectedError{Reason: msg}
}

func endpointLabel(method, url string) string {
	if strings.HasSuffix(url, "/reply") {
		return method + " reply"
	}
	return method + " reviews"
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential delay (200ms, 400ms, 800ms...) with up
// to +50% jitter from crypto/rand.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
