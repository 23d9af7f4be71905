package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/asascience/matos/internal/plugins/smtp"
	"github.com/asascience/matos/internal/plugins/tags"
)

// OwnerDirectory finds the address of a study's owner.
type OwnerDirectory interface {
	OwnerEmail(ctx context.Context, studyID string) (string, error)
}

// Notifier sends the mail that follows a saved report: an invoice to the
// reporter, then one matched or unmatched notice.
type Notifier struct {
	mail    smtp.MailService
	owners  OwnerDirectory
	admins  []string
	baseURL string
}

// NewNotifier creates a notifier. admins receive unmatched reports and a
// copy of matched ones.
func NewNotifier(mail smtp.MailService, owners OwnerDirectory, admins []string, baseURL string) *Notifier {
	if len(admins) == 0 {
		slog.Error("no admin addresses for report notices; set NOTIFY_EMAILS or approve an admin account")
	}
	return &Notifier{mail: mail, owners: owners, admins: admins, baseURL: strings.TrimRight(baseURL, "/")}
}

// Notify sends both messages. d is the matched deployment or nil.
func (n *Notifier) Notify(ctx context.Context, r *Report, d *tags.Deployment) error {
	if err := n.mail.SendMail(ctx, n.invoice(r)); err != nil {
		return fmt.Errorf("sending report invoice: %w", err)
	}

	if d == nil {
		return n.send(ctx, r, smtp.Mail{
			To:      n.admins,
			Subject: "Unmatched tag report",
			Body:    n.summary(r, "A tag report could not be matched to a deployment."),
		})
	}

	to := append([]string(nil), n.admins...)
	owner, err := n.owners.OwnerEmail(ctx, d.StudyID)
	if err != nil {
		return fmt.Errorf("finding study owner: %w", err)
	}
	if owner != "" {
		to = append(to, owner)
	}

	var intro strings.Builder
	fmt.Fprintf(&intro, "A tag report was matched to %s in study %s.\n", d.DisplayName(), d.StudyName)
	fmt.Fprintf(&intro, "Deployment: %s/deployments/%s", n.baseURL, d.ID)
	return n.send(ctx, r, smtp.Mail{
		To:      to,
		Subject: "Tag report for " + d.TagCode,
		Body:    n.summary(r, intro.String()),
	})
}

func (n *Notifier) send(ctx context.Context, r *Report, m smtp.Mail) error {
	if len(m.To) == 0 {
		slog.Error("report notice dropped, no recipients",
			slog.String("report_id", r.ID),
			slog.Bool("matched", r.Matched()),
		)
		return nil
	}
	if err := n.mail.SendMail(ctx, m); err != nil {
		return fmt.Errorf("sending report notification: %w", err)
	}
	return nil
}

func (n *Notifier) invoice(r *Report) smtp.Mail {
	return smtp.Mail{
		To:      []string{r.Email},
		Subject: "Thank you for submitting a tag report",
		Body: n.summary(r, fmt.Sprintf("Dear %s,\n\nThank you for reporting a tagged fish. "+
			"The researchers responsible for the tag will be in touch if they need more information.", r.Name)),
	}
}

func (n *Notifier) summary(r *Report, intro string) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%-14s %s\n", label+":", value)
		}
	}
	line("Internal tag", r.InputTag)
	line("External code", r.InputExternalCode)
	line("Found", FormatFound(r.Found))
	line("Species", r.Fishtype)
	line("Method", r.Method)
	if r.Length != nil {
		line("Length", fmt.Sprintf("%.2f", *r.Length))
	}
	if r.Weight != nil {
		line("Weight", fmt.Sprintf("%.2f", *r.Weight))
	}
	if r.Location != nil {
		line("Location", fmt.Sprintf("%.5f, %.5f", r.Location.Lat, r.Location.Lon))
	}
	line("City", r.City)
	line("State", r.State)
	line("Reporter", r.Name)
	line("Email", r.Email)
	line("Phone", r.Phone)
	line("Description", r.Description)
	return b.String()
}
