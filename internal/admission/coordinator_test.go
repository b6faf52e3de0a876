// ABOUTME: Tests for the admission coordinator
// ABOUTME: Covers the free toggle, owner notifications, mail, and the paid redirect path

package admission

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gather-gateway/internal/mailer"
	"github.com/2389/gather-gateway/internal/notify"
	"github.com/2389/gather-gateway/internal/payment"
	"github.com/2389/gather-gateway/internal/store"
)

type recordingMailer struct {
	notices []mailer.Notice
	fail    bool
}

func (m *recordingMailer) SendAdmissionNotice(ctx context.Context, n mailer.Notice) error {
	if m.fail {
		return errors.New("smtp down")
	}
	m.notices = append(m.notices, n)
	return nil
}

type stubProvider struct {
	redirect string
	err      error
	sessions []payment.Session
}

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, s payment.Session) (string, error) {
	p.sessions = append(p.sessions, s)
	return p.redirect, p.err
}

type fixture struct {
	coord    *Coordinator
	store    store.Store
	mail     *recordingMailer
	provider *stubProvider
	notifier *notify.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mail := &recordingMailer{}
	provider := &stubProvider{redirect: "https://pay.example.com/session/1"}
	notifier := notify.NewService(st, slog.Default())
	return &fixture{
		coord:    NewCoordinator(st, notifier, mail, provider, slog.Default()),
		store:    st,
		mail:     mail,
		provider: provider,
		notifier: notifier,
	}
}

func (f *fixture) seed(t *testing.T, priceCents int64) (*store.Gathering, *store.Participant) {
	t.Helper()
	ctx := context.Background()
	owner := &store.Participant{ID: "owner-1", DisplayName: "Olive", Email: "olive@example.com"}
	require.NoError(t, f.store.CreateParticipant(ctx, owner))
	p := &store.Participant{ID: "part-1", DisplayName: "Ada", Email: "ada@example.com"}
	require.NoError(t, f.store.CreateParticipant(ctx, p))
	g := &store.Gathering{ID: "gath-1", OwnerID: owner.ID, Title: "Demo Night", PriceCents: priceCents}
	require.NoError(t, f.store.CreateGathering(ctx, g))
	return g, p
}

func TestRequestFreeTogglesAdmission(t *testing.T) {
	f := setup(t)
	g, p := f.seed(t, 0)
	ctx := context.Background()

	out, err := f.coord.Request(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Admitted)
	assert.False(t, out.Revoked)
	assert.Empty(t, out.RedirectURL)

	on, err := f.store.IsAdmitted(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, on)

	// Second identical request revokes.
	out, err = f.coord.Request(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Revoked)
	assert.False(t, out.Admitted)

	on, err = f.store.IsAdmitted(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestRequestNotifiesOwnerOnAdmit(t *testing.T) {
	f := setup(t)
	g, p := f.seed(t, 0)
	ctx := context.Background()

	_, err := f.coord.Request(ctx, g.ID, p.ID)
	require.NoError(t, err)

	got, err := f.notifier.List(ctx, g.OwnerID, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, store.NotificationKindJoin, got[0].Kind)
	assert.Equal(t, "joined your event: Demo Night", got[0].Body)
	assert.Equal(t, p.ID, got[0].ActorID)

	// Revocation produces no notification.
	_, err = f.coord.Request(ctx, g.ID, p.ID)
	require.NoError(t, err)
	got, err = f.notifier.List(ctx, g.OwnerID, false)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRequestSkipsSelfNotification(t *testing.T) {
	f := setup(t)
	g, _ := f.seed(t, 0)
	ctx := context.Background()

	_, err := f.coord.Request(ctx, g.ID, g.OwnerID)
	require.NoError(t, err)

	got, err := f.notifier.List(ctx, g.OwnerID, false)
	require.NoError(t, err)
	assert.Empty(t, got, "organizer admitting themselves gets no notification")
}

func TestRequestSendsAdmissionNotice(t *testing.T) {
	f := setup(t)
	g, p := f.seed(t, 0)
	ctx := context.Background()

	_, err := f.coord.Request(ctx, g.ID, p.ID)
	require.NoError(t, err)

	require.Len(t, f.mail.notices, 1)
	n := f.mail.notices[0]
	assert.Equal(t, p.Email, n.To)
	assert.Equal(t, "Demo Night", n.GatheringTitle)
	assert.Equal(t, g.ID+"-"+p.ID, n.CredentialID)
}

func TestRequestSurvivesMailFailure(t *testing.T) {
	f := setup(t)
	g, p := f.seed(t, 0)
	f.mail.fail = true

	out, err := f.coord.Request(context.Background(), g.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Admitted)
}

func TestRequestPaidRedirects(t *testing.T) {
	f := setup(t)
	g, p := f.seed(t, 2500)
	ctx := context.Background()

	out, err := f.coord.Request(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/session/1", out.RedirectURL)
	assert.False(t, out.Admitted)
	assert.False(t, out.Revoked)

	// Ledger untouched until the provider redirects back.
	on, err := f.store.IsAdmitted(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, on)

	require.Len(t, f.provider.sessions, 1)
	assert.Equal(t, int64(2500), f.provider.sessions[0].AmountCents)
	assert.Equal(t, "Demo Night", f.provider.sessions[0].Title)
}

func TestRequestPaidProviderError(t *testing.T) {
	f := setup(t)
	g, p := f.seed(t, 2500)
	f.provider.err = errors.New("provider unavailable")
	f.provider.redirect = ""

	_, err := f.coord.Request(context.Background(), g.ID, p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider unavailable")
}

func TestConfirmTogglesWithoutPaymentCheck(t *testing.T) {
	f := setup(t)
	g, p := f.seed(t, 2500)
	ctx := context.Background()

	// Confirm admits even for a paid gathering; nothing verifies the payment.
	out, err := f.coord.Confirm(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Admitted)

	on, err := f.store.IsAdmitted(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, on)

	// A replayed confirm revokes, same as the free toggle.
	out, err = f.coord.Confirm(ctx, g.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, out.Revoked)
}

func TestRequestUnknownGathering(t *testing.T) {
	f := setup(t)
	_, p := f.seed(t, 0)

	_, err := f.coord.Request(context.Background(), "nope", p.ID)
	assert.ErrorIs(t, err, store.ErrGatheringNotFound)
}

func TestRequestUnknownParticipant(t *testing.T) {
	f := setup(t)
	g, _ := f.seed(t, 0)

	_, err := f.coord.Request(context.Background(), g.ID, "nope")
	assert.ErrorIs(t, err, store.ErrParticipantNotFound)
}
