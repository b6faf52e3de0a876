// ABOUTME: HTTP API handlers for admission, credentials, gate, rooms, notifications
// ABOUTME: JSON in, JSON out; identity comes from the optional auth middleware

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/gather-gateway/internal/admission"
	"github.com/2389/gather-gateway/internal/auth"
	"github.com/2389/gather-gateway/internal/credential"
	"github.com/2389/gather-gateway/internal/store"
)

// AdmissionRequest is the JSON body for POST /api/admission/request and
// /api/admission/confirm. ParticipantID may be omitted when the caller is
// authenticated; the identity from the token is used instead.
type AdmissionRequest struct {
	GatheringID   string `json:"gathering_id"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// AdmissionResponse is the JSON response for admission operations.
type AdmissionResponse struct {
	Status      string `json:"status"` // "admitted", "revoked", or "payment_required"
	RedirectURL string `json:"redirect_url,omitempty"`
}

// GateValidateRequest is the JSON body for POST /api/gate/validate.
type GateValidateRequest struct {
	Credential string `json:"credential"`
}

// CredentialResponse is the JSON response for the ticket view.
type CredentialResponse struct {
	Credential    string    `json:"credential"`
	ShortID       string    `json:"short_id"`
	GatheringID   string    `json:"gathering_id"`
	ParticipantID string    `json:"participant_id"`
	IssuedAt      time.Time `json:"issued_at"`
}

// GatheringResponse is the JSON shape for gathering reads and creates.
type GatheringResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Category    string    `json:"category,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	PriceCents  int64     `json:"price_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateGatheringRequest is the JSON body for POST /api/gatherings.
type CreateGatheringRequest struct {
	OwnerID     string    `json:"owner_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Category    string    `json:"category,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	PriceCents  int64     `json:"price_cents"`
}

// ParticipantResponse is the JSON shape for participant reads and creates.
type ParticipantResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// CreateParticipantRequest is the JSON body for POST /api/participants.
type CreateParticipantRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// MessageResponse is the JSON shape for room history entries.
type MessageResponse struct {
	ID          string    `json:"id"`
	GatheringID string    `json:"gathering_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

// AttendeesResponse is the JSON response for GET /api/gatherings/{id}/attendees.
type AttendeesResponse struct {
	GatheringID string                `json:"gathering_id"`
	Count       int                   `json:"count"`
	Attendees   []ParticipantResponse `json:"attendees"`
}

// NotificationResponse is the JSON shape for notification feed entries.
type NotificationResponse struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id,omitempty"`
	ActorName   string    `json:"actor_name,omitempty"`
	Kind        string    `json:"kind"`
	Body        string    `json:"body"`
	GatheringID string    `json:"gathering_id,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store sentinel errors to HTTP statuses.
func (g *Gateway) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrGatheringNotFound),
		errors.Is(err, store.ErrParticipantNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateGathering):
		writeError(w, http.StatusConflict, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// resolveParticipantID prefers the authenticated identity over the value
// supplied by the client. With auth disabled the client value is trusted.
func resolveParticipantID(r *http.Request, supplied string) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return id.ParticipantID
	}
	return supplied
}

func (g *Gateway) writeAdmissionOutcome(w http.ResponseWriter, out admission.Outcome) {
	switch {
	case out.RedirectURL != "":
		writeJSON(w, http.StatusOK, AdmissionResponse{Status: "payment_required", RedirectURL: out.RedirectURL})
	case out.Revoked:
		writeJSON(w, http.StatusOK, AdmissionResponse{Status: "revoked"})
	default:
		writeJSON(w, http.StatusOK, AdmissionResponse{Status: "admitted"})
	}
}

// handleAdmissionRequest handles POST /api/admission/request.
func (g *Gateway) handleAdmissionRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AdmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	participantID := resolveParticipantID(r, req.ParticipantID)
	if req.GatheringID == "" || participantID == "" {
		writeError(w, http.StatusBadRequest, "gathering_id and participant_id are required")
		return
	}

	out, err := g.coordinator.Request(r.Context(), req.GatheringID, participantID)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	g.writeAdmissionOutcome(w, out)
}

// handleAdmissionConfirm handles the return from the payment provider. The
// provider redirects with GET and query parameters; a POST with the same JSON
// body as /request is also accepted. Either way the identifiers are taken at
// face value and the admission toggles.
func (g *Gateway) handleAdmissionConfirm(w http.ResponseWriter, r *http.Request) {
	var gatheringID, participantID string

	switch r.Method {
	case http.MethodGet:
		gatheringID = r.URL.Query().Get("gatheringId")
		participantID = r.URL.Query().Get("participantId")
	case http.MethodPost:
		var req AdmissionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		gatheringID = req.GatheringID
		participantID = resolveParticipantID(r, req.ParticipantID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if gatheringID == "" || participantID == "" {
		writeError(w, http.StatusBadRequest, "gathering_id and participant_id are required")
		return
	}

	out, err := g.coordinator.Confirm(r.Context(), gatheringID, participantID)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	g.writeAdmissionOutcome(w, out)
}

// handleGateValidate handles POST /api/gate/validate. An undecodable
// credential is a 400; a decodable one always gets a 200 with a decision,
// granted or not.
func (g *Gateway) handleGateValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req GateValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tok, err := credential.Decode(req.Credential)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable credential")
		return
	}

	decision, err := g.validator.Validate(r.Context(), tok)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleCreateGathering handles POST /api/gatherings.
func (g *Gateway) handleCreateGathering(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateGatheringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ownerID := resolveParticipantID(r, req.OwnerID)
	if req.Title == "" || ownerID == "" {
		writeError(w, http.StatusBadRequest, "title and owner_id are required")
		return
	}

	now := time.Now().UTC()
	gathering := &store.Gathering{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Category:    req.Category,
		StartsAt:    req.StartsAt,
		PriceCents:  req.PriceCents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.store.CreateGathering(r.Context(), gathering); err != nil {
		g.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGatheringResponse(gathering))
}

// handleGatheringRoutes dispatches GET /api/gatherings/{id} and its
// sub-resources: /credential, /messages, /attendees.
func (g *Gateway) handleGatheringRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/gatherings/")
	parts := strings.SplitN(rest, "/", 2)
	gatheringID := parts[0]
	if gatheringID == "" {
		writeError(w, http.StatusBadRequest, "gathering id required")
		return
	}

	if len(parts) == 1 {
		g.handleGetGathering(w, r, gatheringID)
		return
	}

	switch parts[1] {
	case "credential":
		g.handleGetCredential(w, r, gatheringID)
	case "messages":
		g.handleRoomHistory(w, r, gatheringID)
	case "attendees":
		g.handleListAttendees(w, r, gatheringID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (g *Gateway) handleGetGathering(w http.ResponseWriter, r *http.Request, gatheringID string) {
	gathering, err := g.store.GetGathering(r.Context(), gatheringID)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGatheringResponse(gathering))
}

// handleGetCredential issues a fresh credential for the ticket view. Both
// directory entries must exist, but admission status is not checked here:
// issuance is unconditional and the gate is the only check that matters.
func (g *Gateway) handleGetCredential(w http.ResponseWriter, r *http.Request, gatheringID string) {
	participantID := resolveParticipantID(r, r.URL.Query().Get("participant_id"))
	if participantID == "" {
		writeError(w, http.StatusBadRequest, "participant_id required")
		return
	}

	if _, err := g.store.GetGathering(r.Context(), gatheringID); err != nil {
		g.writeStoreError(w, err)
		return
	}
	if _, err := g.store.GetParticipant(r.Context(), participantID); err != nil {
		g.writeStoreError(w, err)
		return
	}

	tok := credential.Issue(gatheringID, participantID, time.Now())
	encoded, err := tok.Encode()
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CredentialResponse{
		Credential:    encoded,
		ShortID:       tok.ShortID(),
		GatheringID:   tok.GatheringID,
		ParticipantID: tok.ParticipantID,
		IssuedAt:      tok.IssuedAt,
	})
}

func (g *Gateway) handleRoomHistory(w http.ResponseWriter, r *http.Request, gatheringID string) {
	messages, err := g.rooms.History(r.Context(), gatheringID)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, MessageResponse{
			ID:          m.ID,
			GatheringID: m.GatheringID,
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			Body:        m.Body,
			SentAt:      m.SentAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleListAttendees(w http.ResponseWriter, r *http.Request, gatheringID string) {
	admitted, err := g.store.ListAdmitted(r.Context(), gatheringID)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	attendees := make([]ParticipantResponse, 0, len(admitted))
	for _, p := range admitted {
		attendees = append(attendees, ParticipantResponse{ID: p.ID, DisplayName: p.DisplayName})
	}
	writeJSON(w, http.StatusOK, AttendeesResponse{
		GatheringID: gatheringID,
		Count:       len(admitted),
		Attendees:   attendees,
	})
}

// handleCreateParticipant handles POST /api/participants.
func (g *Gateway) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	p := &store.Participant{
		ID:          uuid.New().String(),
		DisplayName: req.DisplayName,
		Email:       req.Email,
		CreatedAt:   time.Now().UTC(),
	}
	if err := g.store.CreateParticipant(r.Context(), p); err != nil {
		g.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ParticipantResponse{ID: p.ID, DisplayName: p.DisplayName, Email: p.Email})
}

// handleGetParticipant handles GET /api/participants/{id}.
func (g *Gateway) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/participants/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "participant id required")
		return
	}

	p, err := g.store.GetParticipant(r.Context(), id)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantResponse{ID: p.ID, DisplayName: p.DisplayName, Email: p.Email})
}

// handleListNotifications handles GET /api/notifications. Supports
// ?unread=true to filter to unread entries.
func (g *Gateway) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	recipientID := resolveParticipantID(r, r.URL.Query().Get("participant_id"))
	if recipientID == "" {
		writeError(w, http.StatusBadRequest, "participant_id required")
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifications, err := g.notifier.List(r.Context(), recipientID, unreadOnly)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}

	out := make([]NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, NotificationResponse{
			ID:          n.ID,
			ActorID:     n.ActorID,
			ActorName:   n.ActorName,
			Kind:        n.Kind,
			Body:        n.Body,
			GatheringID: n.GatheringID,
			Read:        n.Read,
			CreatedAt:   n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMarkNotificationsRead handles POST /api/notifications/read.
func (g *Gateway) handleMarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	recipientID := resolveParticipantID(r, r.URL.Query().Get("participant_id"))
	if recipientID == "" {
		writeError(w, http.StatusBadRequest, "participant_id required")
		return
	}

	updated, err := g.notifier.MarkAllRead(r.Context(), recipientID)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func toGatheringResponse(gathering *store.Gathering) GatheringResponse {
	return GatheringResponse{
		ID:          gathering.ID,
		OwnerID:     gathering.OwnerID,
		Title:       gathering.Title,
		Description: gathering.Description,
		Location:    gathering.Location,
		Category:    gathering.Category,
		StartsAt:    gathering.StartsAt,
		PriceCents:  gathering.PriceCents,
		CreatedAt:   gathering.CreatedAt,
	}
}
