package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"

	"replybot/internal/domain"
)

// Notifier renders CycleReports as plain-text operator mail over SMTP.
// With an empty addr it degrades to logging the summary, so a missing
// mail setup never blocks cycles.
type Notifier struct {
	addr string // host:port; "" disables delivery
	from string
	to   []string
	user string
	pass string
}

func New(addr, from, to, user, pass string) *Notifier {
	var rcpt []string
	for _, t := range strings.Split(to, ",") {
		if t = strings.TrimSpace(t); t != "" {
			rcpt = append(rcpt, t)
		}
	}
	return &Notifier{addr: addr, from: from, to: rcpt, user: user, pass: pass}
}

func (n *Notifier) Notify(ctx context.Context, rep domain.CycleReport) error {
	if n.addr == "" || len(n.to) == 0 {
		log.Info().
			Int("fetched", rep.Fetched).
			Int("replied", rep.Replied).
			Int("failed", rep.Failed).
			Bool("aborted", rep.Aborted).
			Msg("cycle report (mail disabled)")
		return nil
	}

	msg := n.message(rep)
	var auth smtp.Auth
	if n.user != "" {
		host, _, err := net.SplitHostPort(n.addr)
		if err != nil {
			host = n.addr
		}
		auth = smtp.PlainAuth("", n.user, n.pass, host)
	}
	if err := smtp.SendMail(n.addr, auth, n.from, n.to, msg); err != nil {
		return fmt.Errorf("send report mail: %w", err)
	}
	return nil
}

func (n *Notifier) message(rep domain.CycleReport) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(rep))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(Render(rep))
	return []byte(b.String())
}

// Subject summarizes the cycle in one line.
func Subject(rep domain.CycleReport) string {
	switch {
	case rep.Aborted:
		return "review replies: cycle aborted"
	case rep.Clean():
		return fmt.Sprintf("review replies: %d posted, all clean", rep.Replied)
	default:
		return fmt.Sprintf("review replies: %d posted, %d failed", rep.Replied, rep.Failed)
	}
}

// Render produces the plain-text report body.
func Render(rep domain.CycleReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %s .. %s\n\n",
		rep.StartedAt.Format("2006-01-02 15:04:05 MST"),
		rep.FinishedAt.Format("15:04:05 MST"))
	if rep.Aborted {
		fmt.Fprintf(&b, "ABORTED: %s\n", rep.AbortErr)
		return b.String()
	}
	fmt.Fprintf(&b, "Reviews fetched:  %d\n", rep.Fetched)
	fmt.Fprintf(&b, "Replies posted:   %d\n", rep.Replied)
	if rep.Adopted > 0 {
		fmt.Fprintf(&b, "Adopted upstream: %d\n", rep.Adopted)
	}
	fmt.Fprintf(&b, "Failed:           %d\n", rep.Failed)
	if rep.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped for good: %d\n", rep.Skipped)
	}
	if len(rep.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range rep.Failures {
			fmt.Fprintf(&b, "  - review %s [%s]: %s\n", f.ReviewID, f.Stage, f.Reason)
		}
	}
	return b.String()
}
