// Package notify sends alerts about failed chain runs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/nadmax/gpcheck/internal/report"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var ErrNotFailed = errors.New("run did not fail")

type sendFunc func(email *mail.SGMailV3) (int, error)

type EmailNotifier struct {
	fromName    string
	fromAddress string
	to          string
	send        sendFunc
}

func NewEmailNotifier(apiKey, fromName, fromAddress, to string) *EmailNotifier {
	client := sendgrid.NewSendClient(apiKey)

	return &EmailNotifier{
		fromName:    fromName,
		fromAddress: fromAddress,
		to:          to,
		send: func(email *mail.SGMailV3) (int, error) {
			response, err := client.Send(email)
			if err != nil {
				return 0, err
			}
			return response.StatusCode, nil
		},
	}
}

// NotifyFailure emails the outcome of a run that stopped at a failed task.
func (n *EmailNotifier) NotifyFailure(ctx context.Context, rep *report.RunReport) error {
	status := rep.Summarize()
	if status.Kind != report.StatusFailedAt {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, rep.RunID(), status)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body := BuildMessage(rep)
	from := mail.NewEmail(n.fromName, n.fromAddress)
	toEmail := mail.NewEmail("", n.to)
	email := mail.NewSingleEmail(from, subject, toEmail, body, "<pre>"+body+"</pre>")

	code, err := n.send(email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if code >= 400 {
		return fmt.Errorf("sendgrid error: status %d", code)
	}

	log.Printf("Failure alert for run %s sent to %s (status: %d)", rep.RunID(), n.to, code)
	return nil
}

// BuildMessage renders the alert subject and plain text body for a report.
func BuildMessage(rep *report.RunReport) (string, string) {
	status := rep.Summarize()
	subject := fmt.Sprintf("[gpcheck] %s: %s", rep.ChainID(), status)

	var b strings.Builder
	fmt.Fprintf(&b, "Chain: %s\n", rep.ChainID())
	fmt.Fprintf(&b, "Run: %s\n", rep.RunID())
	fmt.Fprintf(&b, "Started: %s\n", rep.CreatedAt().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Status: %s\n\n", status)

	for _, o := range rep.Outcomes() {
		switch {
		case o.Skipped:
			fmt.Fprintf(&b, "- %s: %s\n", o.TaskID, o.Reason)
		case o.Result != nil:
			fmt.Fprintf(&b, "- %s: %s\n", o.TaskID, o.Result.Summary())
		default:
			fmt.Fprintf(&b, "- %s: %s\n", o.TaskID, o.State)
		}
	}

	return subject, b.String()
}
