package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"tourcast/internal/broadcast"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	logx "tourcast/pkg/logx"
)

type createBroadcastRequest struct {
	Title    string `json:"title" validate:"required,min=3"`
	Body     string `json:"body" validate:"required,min=10"`
	Type     string `json:"type" validate:"required,oneof=emergency alert warning info announcement"`
	Priority string `json:"priority" validate:"required,oneof=low medium high critical"`

	Audience audienceRequest `json:"audience" validate:"required"`
	Channels []string        `json:"channels" validate:"required,min=1,dive,oneof=push email sms inApp"`

	RequiresAck  bool       `json:"requires_ack"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedBy    string     `json:"created_by"`
}

type audienceRequest struct {
	Kind         string          `json:"kind" validate:"required,oneof=allTourists explicit location role"`
	RecipientIDs []string        `json:"recipient_ids"`
	Center       *model.GeoPoint `json:"center"`
	RadiusMeters float64         `json:"radius_meters"`
	Roles        []string        `json:"roles"`
}

func (a audienceRequest) toSpec() model.AudienceSpec {
	spec := model.AudienceSpec{
		Kind:         model.AudienceKind(a.Kind),
		RecipientIDs: a.RecipientIDs,
		RadiusMeters: a.RadiusMeters,
		Roles:        a.Roles,
	}
	if a.Center != nil {
		spec.Center = *a.Center
	}
	return spec
}

type ackRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
}

type receiptRequest struct {
	BroadcastID  string     `json:"broadcast_id" validate:"required"`
	RecipientID  string     `json:"recipient_id" validate:"required"`
	Channel      string     `json:"channel" validate:"required,oneof=push email sms inApp"`
	State        string     `json:"state" validate:"required,oneof=delivered read"`
	ProviderTime *time.Time `json:"provider_time"`
}

func (s *Server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createBroadcastRequest
	if !s.decode(w, r, &req) {
		return
	}

	channels := make([]model.Channel, 0, len(req.Channels))
	for _, ch := range req.Channels {
		channels = append(channels, model.Channel(ch))
	}
	b, err := s.core.CreateBroadcast(r.Context(), broadcast.NewBroadcast{
		Title:        req.Title,
		Body:         req.Body,
		Type:         model.BroadcastType(req.Type),
		Priority:     model.Priority(req.Priority),
		Audience:     req.Audience.toSpec(),
		Channels:     channels,
		RequiresAck:  req.RequiresAck,
		ScheduledFor: req.ScheduledFor,
		ExpiresAt:    req.ExpiresAt,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.Filter{
		Status: model.Status(q.Get("status")),
		Type:   model.BroadcastType(q.Get("type")),
		Search: q.Get("q"),
	}
	if f.Status != "" && !f.Status.Valid() {
		s.writeError(w, r, model.Validationf("unknown status %q", f.Status))
		return
	}
	if f.Type != "" && !f.Type.Valid() {
		s.writeError(w, r, model.Validationf("unknown broadcast type %q", f.Type))
		return
	}
	bs, err := s.core.ListBroadcasts(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"broadcasts": bs, "count": len(bs)})
}

func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	v, err := s.core.GetBroadcast(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCancelBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.core.CancelBroadcast(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.core.SubmitAcknowledgment(r.Context(), chi.URLParam(r, "id"), req.RecipientID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	var at time.Time
	if req.ProviderTime != nil {
		at = *req.ProviderTime
	}
	err := s.core.ReportReceipt(r.Context(), req.BroadcastID, req.RecipientID,
		model.Channel(req.Channel), model.AttemptState(req.State), at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handlePreviewAudience(w http.ResponseWriter, r *http.Request) {
	var req audienceRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.core.PreviewAudience(r.Context(), req.toSpec())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"recipient_ids":   res.IDs(),
		"count":           len(res.Recipients),
		"skipped_unknown": res.SkippedUnknown,
		"resolved_at":     res.ResolvedAt,
	})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.writeError(w, r, model.NotFound("channel", string(model.ChannelInApp)))
		return
	}
	msgs := s.inbox.Inbox(chi.URLParam(r, "id"))
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode parses and validates the JSON body; on failure it writes the 400
// itself and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("malformed json: "+err.Error()))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			s.writeJSON(w, http.StatusBadRequest, errorBody("invalid field "+verrs[0].Namespace()))
			return false
		}
		s.writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsValidation(err):
		status = http.StatusBadRequest
	case model.IsNotFound(err):
		status = http.StatusNotFound
	case model.IsInvalidState(err):
		status = http.StatusConflict
	case errors.Is(err, model.ErrVersionConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Err(err))
	}
	s.writeJSON(w, status, errorBody(err.Error()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("writing response failed", logx.Err(err))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
