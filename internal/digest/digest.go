package digest

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"marketscout/internal/models"
)

// Mailer is the opaque mail boundary. The digest layer only cares about the
// boolean outcome of a send.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Group is one job's novel items inside a digest.
type Group struct {
	JobID    uint          `json:"job_id"`
	JobLabel string        `json:"job_label"`
	Items    []models.Item `json:"items"`
}

// Digest is a transient, per-user, per-run batch of novel items across that
// user's jobs. Enumerated items are capped; anything beyond the cap is
// counted but not listed, and deliberately not marked notified so it stays
// eligible for the next run.
type Digest struct {
	UserEmail string  `json:"user_email"`
	Groups    []Group `json:"groups"`
	Total     int     `json:"total"`
	Overflow  int     `json:"overflow"`
}

// Builder accumulates novel items per user during one run, preserving
// per-job grouping, and truncates to the configured maximum.
type Builder struct {
	maxItems int
	byUser   map[string]*Digest
	order    []string
}

// NewBuilder creates a builder with the given per-digest item cap.
func NewBuilder(maxItems int) *Builder {
	return &Builder{
		maxItems: maxItems,
		byUser:   make(map[string]*Digest),
	}
}

// Add appends one job's novel items to its owner's digest. Items beyond the
// cap are counted as overflow and not enumerated.
func (b *Builder) Add(userEmail string, job models.SearchJob, items []models.Item) {
	if len(items) == 0 {
		return
	}

	d, ok := b.byUser[userEmail]
	if !ok {
		d = &Digest{UserEmail: userEmail}
		b.byUser[userEmail] = d
		b.order = append(b.order, userEmail)
	}

	d.Total += len(items)

	room := b.maxItems - b.enumerated(d)
	if room <= 0 {
		d.Overflow += len(items)
		return
	}
	if len(items) > room {
		d.Overflow += len(items) - room
		items = items[:room]
	}

	d.Groups = append(d.Groups, Group{
		JobID:    job.ID,
		JobLabel: job.Label,
		Items:    items,
	})
}

func (b *Builder) enumerated(d *Digest) int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Items)
	}
	return n
}

// Digests returns the accumulated digests in first-touched user order.
func (b *Builder) Digests() []*Digest {
	out := make([]*Digest, 0, len(b.order))
	for _, email := range b.order {
		out = append(out, b.byUser[email])
	}
	return out
}

// Dispatcher renders digests and hands them to the mail collaborator.
type Dispatcher struct {
	mailer Mailer
}

// NewDispatcher creates a dispatcher over the given mailer.
func NewDispatcher(mailer Mailer) *Dispatcher {
	return &Dispatcher{mailer: mailer}
}

// Dispatch sends one digest. The caller marks items notified only when this
// returns nil; on failure nothing is marked and the items stay eligible.
func (d *Dispatcher) Dispatch(ctx context.Context, dig *Digest) error {
	subject := fmt.Sprintf("MarketScout: %d neue Treffer", dig.Total)
	if err := d.mailer.Send(ctx, dig.UserEmail, subject, Render(dig)); err != nil {
		return fmt.Errorf("digest dispatch to %s failed: %w", dig.UserEmail, err)
	}

	logrus.WithFields(logrus.Fields{
		"user":  dig.UserEmail,
		"total": dig.Total,
	}).Info("Digest dispatched")
	return nil
}

// Render formats a digest as plain text, grouped by job.
func Render(d *Digest) string {
	var b strings.Builder
	b.WriteString("Hallo,\n\nes gibt neue Treffer für deine Suchaufträge:\n")

	for _, g := range d.Groups {
		fmt.Fprintf(&b, "\n== %s ==\n", g.JobLabel)
		for _, item := range g.Items {
			b.WriteString("\n- " + item.Title + "\n")
			if item.Price != nil {
				fmt.Fprintf(&b, "  %.2f %s\n", *item.Price, item.Currency)
			} else {
				b.WriteString("  Preis auf Anfrage\n")
			}
			fmt.Fprintf(&b, "  %s\n  Quelle: %s\n", item.URL, item.Source)
		}
	}

	if d.Overflow > 0 {
		fmt.Fprintf(&b, "\n... und %d weitere Treffer.\n", d.Overflow)
	}

	b.WriteString("\nViel Erfolg!\nMarketScout\n")
	return b.String()
}
