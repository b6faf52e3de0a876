// ABOUTME: Admission coordinator - the toggle at the heart of the guest list
// ABOUTME: Routes free gatherings straight to the ledger and paid ones through checkout

package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/gather-gateway/internal/credential"
	"github.com/2389/gather-gateway/internal/mailer"
	"github.com/2389/gather-gateway/internal/notify"
	"github.com/2389/gather-gateway/internal/payment"
	"github.com/2389/gather-gateway/internal/store"
)

// Outcome is the result of an admission request. Exactly one of the three
// status fields applies: Admitted/Revoked for the free path, RedirectURL for
// the paid path.
type Outcome struct {
	Admitted    bool
	Revoked     bool
	RedirectURL string
}

// Coordinator drives the admission flow. Requesting admission for a free
// gathering toggles the ledger entry: a participant who is already on the
// guest list and requests again is removed. Paid gatherings are sent to the
// payment provider first; the provider's redirect back to Confirm completes
// the toggle on the same path.
type Coordinator struct {
	store    store.Store
	notifier *notify.Service
	mail     mailer.Sender
	provider payment.Provider
	logger   *slog.Logger
}

func NewCoordinator(st store.Store, notifier *notify.Service, mail mailer.Sender, provider payment.Provider, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    st,
		notifier: notifier,
		mail:     mail,
		provider: provider,
		logger:   logger.With("component", "admission"),
	}
}

// Request handles a participant asking for admission to a gathering. Free
// gatherings toggle immediately. Paid gatherings return a checkout redirect
// and leave the ledger untouched until the provider sends the participant
// back through Confirm.
func (c *Coordinator) Request(ctx context.Context, gatheringID, participantID string) (Outcome, error) {
	g, err := c.store.GetGathering(ctx, gatheringID)
	if err != nil {
		return Outcome{}, err
	}
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return Outcome{}, err
	}

	if g.Free() {
		return c.toggle(ctx, g, p)
	}

	if c.provider == nil {
		return Outcome{}, fmt.Errorf("paid gathering %s but no payment provider configured", g.ID)
	}
	redirect, err := c.provider.CreateCheckoutSession(ctx, payment.Session{
		GatheringID:   g.ID,
		ParticipantID: p.ID,
		AmountCents:   g.PriceCents,
		Title:         g.Title,
	})
	if err != nil {
		return Outcome{}, err
	}
	c.logger.Info("checkout session created",
		"gathering_id", g.ID,
		"participant_id", p.ID,
		"amount_cents", g.PriceCents)
	return Outcome{RedirectURL: redirect}, nil
}

// Confirm completes an admission after the payment provider redirects the
// participant back. It takes the same identifiers as Request and runs the
// same toggle; nothing here verifies that a payment actually happened, and a
// second call with the same identifiers revokes the admission.
func (c *Coordinator) Confirm(ctx context.Context, gatheringID, participantID string) (Outcome, error) {
	g, err := c.store.GetGathering(ctx, gatheringID)
	if err != nil {
		return Outcome{}, err
	}
	p, err := c.store.GetParticipant(ctx, participantID)
	if err != nil {
		return Outcome{}, err
	}
	return c.toggle(ctx, g, p)
}

func (c *Coordinator) toggle(ctx context.Context, g *store.Gathering, p *store.Participant) (Outcome, error) {
	admitted, err := c.store.ToggleAdmission(ctx, g.ID, p.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("toggling admission: %w", err)
	}

	if !admitted {
		c.logger.Info("admission revoked", "gathering_id", g.ID, "participant_id", p.ID)
		return Outcome{Revoked: true}, nil
	}

	c.logger.Info("admission granted", "gathering_id", g.ID, "participant_id", p.ID)

	// Tell the organizer, unless they admitted themselves.
	if g.OwnerID != p.ID {
		c.notifier.Notify(ctx, store.Notification{
			RecipientID: g.OwnerID,
			ActorID:     p.ID,
			ActorName:   p.DisplayName,
			Kind:        store.NotificationKindJoin,
			Body:        "joined your event: " + g.Title,
			GatheringID: g.ID,
		})
	}

	// Admission notice is best-effort; a broken mailer never blocks admission.
	if p.Email != "" {
		notice := mailer.Notice{
			To:             p.Email,
			Name:           p.DisplayName,
			GatheringTitle: g.Title,
			CredentialID:   credential.CredentialID(g.ID, p.ID),
		}
		if err := c.mail.SendAdmissionNotice(ctx, notice); err != nil {
			c.logger.Warn("failed to send admission notice",
				"participant_id", p.ID,
				"error", err)
		}
	}

	return Outcome{Admitted: true}, nil
}
