// ABOUTME: Credential issuance for admitted participants
// ABOUTME: Produces the unsigned, transient token payload rendered as a 2-D barcode

package credential

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Token is the proof-of-admission payload. It is never persisted: a fresh
// token is derived every time the ticket view opens. Nothing in it is signed
// or bound to the ledger: the gate validator only ever reads the two
// identifiers and checks them against the ledger itself, so Valid and
// IssuedAt carry no authority.
type Token struct {
	GatheringID   string    `json:"gathering_id"`
	ParticipantID string    `json:"participant_id"`
	IssuedAt      time.Time `json:"issued_at"`
	Valid         bool      `json:"valid"`
}

// Issue derives a token for the pair at the given time. Pure function: it
// does not consult the ledger and anyone who knows the two identifiers can
// re-derive an equivalent token.
func Issue(gatheringID, participantID string, now time.Time) Token {
	return Token{
		GatheringID:   gatheringID,
		ParticipantID: participantID,
		IssuedAt:      now.UTC(),
		Valid:         true,
	}
}

// Encode renders the token as base64(JSON), the form embedded in the
// scannable barcode.
func (t Token) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encoding credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses an encoded token back into its fields. Decoding performs no
// authenticity check; the result is only as trustworthy as its identifiers.
func Decode(encoded string) (Token, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Token{}, fmt.Errorf("decoding credential: %w", err)
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, fmt.Errorf("parsing credential: %w", err)
	}
	return t, nil
}

// ShortID is the human-readable ticket id shown on the ticket view:
// the tail of the gathering id and the tail of the participant id,
// uppercased, joined by a dash.
func (t Token) ShortID() string {
	return strings.ToUpper(tail(t.GatheringID, 6) + "-" + tail(t.ParticipantID, 4))
}

// CredentialID is the full identifier included in the admission-notice mail.
func CredentialID(gatheringID, participantID string) string {
	return gatheringID + "-" + participantID
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
