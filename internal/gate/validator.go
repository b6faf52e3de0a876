// ABOUTME: Door-side credential validation against the admission ledger
// ABOUTME: Trusts the identifier pair in a scanned token and nothing else in it

package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/gather-gateway/internal/credential"
	"github.com/2389/gather-gateway/internal/store"
)

// Decision is the outcome of scanning a credential at the door.
type Decision struct {
	Granted        bool   `json:"granted"`
	AttendeeName   string `json:"attendee_name,omitempty"`
	GatheringTitle string `json:"gathering_title,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Deny reasons surfaced to the scanner operator.
const (
	ReasonGatheringNotFound   = "gathering not found"
	ReasonParticipantNotFound = "participant not found"
	ReasonNotOnGuestList      = "not on guest list"
)

// Validator checks scanned credentials against the ledger. Only the
// gathering and participant ids in the token matter; the issued_at and
// valid fields are carried for display but never checked, so a stale or
// hand-built token with ids that are on the guest list is granted.
type Validator struct {
	store  store.Store
	logger *slog.Logger
}

func NewValidator(st store.Store, logger *slog.Logger) *Validator {
	return &Validator{
		store:  st,
		logger: logger.With("component", "gate"),
	}
}

// Validate resolves the token's identifiers and checks the ledger. A miss
// on either directory or the ledger yields a deny decision, not an error;
// errors are reserved for infrastructure failures.
func (v *Validator) Validate(ctx context.Context, tok credential.Token) (Decision, error) {
	g, err := v.store.GetGathering(ctx, tok.GatheringID)
	if errors.Is(err, store.ErrGatheringNotFound) {
		return v.deny(tok, ReasonGatheringNotFound), nil
	}
	if err != nil {
		return Decision{}, err
	}

	p, err := v.store.GetParticipant(ctx, tok.ParticipantID)
	if errors.Is(err, store.ErrParticipantNotFound) {
		return v.deny(tok, ReasonParticipantNotFound), nil
	}
	if err != nil {
		return Decision{}, err
	}

	admitted, err := v.store.IsAdmitted(ctx, tok.GatheringID, tok.ParticipantID)
	if err != nil {
		return Decision{}, err
	}
	if !admitted {
		return v.deny(tok, ReasonNotOnGuestList), nil
	}

	v.logger.Info("admission granted at gate",
		"gathering_id", g.ID,
		"participant_id", p.ID)
	return Decision{
		Granted:        true,
		AttendeeName:   p.DisplayName,
		GatheringTitle: g.Title,
	}, nil
}

func (v *Validator) deny(tok credential.Token, reason string) Decision {
	v.logger.Info("admission denied at gate",
		"gathering_id", tok.GatheringID,
		"participant_id", tok.ParticipantID,
		"reason", reason)
	return Decision{Granted: false, Reason: reason}
}
