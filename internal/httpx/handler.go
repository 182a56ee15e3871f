package httpx

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/blobstore"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/records"
	"github.com/dmitrijs2005/medkeeper/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxDocumentBody = 20 << 20

// AuthAPI is the part of *services.AuthService the handlers use.
type AuthAPI interface {
	Authorizer
	Login(ctx context.Context, userName, password string) (*services.Session, error)
	Refresh(ctx context.Context, sessionID, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, actor *auth.Claims, sessionID string) error
}

// RecordAPI is the part of *services.RecordService the handlers use.
type RecordAPI interface {
	Create(ctx context.Context, actor *auth.Claims, ownerID string, fields map[string]string) (*records.Record, error)
	Get(ctx context.Context, actor *auth.Claims, recordID string) (*records.Opened, error)
	List(ctx context.Context, actor *auth.Claims, ownerID string) ([]*records.Opened, error)
	Update(ctx context.Context, actor *auth.Claims, recordID string, changes map[string]string) (*records.Record, error)
	AttachDocument(ctx context.Context, actor *auth.Claims, recordID, contentType string, body []byte) (*models.Document, error)
	FetchDocument(ctx context.Context, actor *auth.Claims, documentID string) (*models.Document, blobstore.Object, error)
	DocumentURL(ctx context.Context, actor *auth.Claims, documentID string, ttl time.Duration) (string, error)
}

// AuditReader is the read side of *audit.Logger.
type AuditReader interface {
	Events(ctx context.Context) ([]audit.Event, error)
	CriticalAlerts(ctx context.Context) ([]audit.CriticalAlert, error)
	Stats(ctx context.Context) (audit.Summary, error)
}

type Handler struct {
	auth     AuthAPI
	records  RecordAPI
	audit    AuditReader
	validate *validator.Validate
}

func NewHandler(a AuthAPI, r RecordAPI, al AuditReader) *Handler {
	return &Handler{auth: a, records: r, audit: al, validate: validator.New()}
}

type loginRequest struct {
	UserName string `json:"userName" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	SessionID string          `json:"sessionId"`
	Tokens    *auth.TokenPair `json:"tokens"`
	Profile   auth.Profile    `json:"profile"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type openedResponse struct {
	Record           *records.Record `json:"record"`
	IntegrityWarning bool            `json:"integrityWarning"`
}

func toOpened(o *records.Opened) openedResponse {
	return openedResponse{Record: o.Record, IntegrityWarning: o.IntegrityWarning}
}

func (h *Handler) bind(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	if err := h.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.bind(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := h.auth.Login(r.Context(), req.UserName, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, Tokens: sess.Tokens, Profile: sess.Profile})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.bind(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), r.Header.Get(SessionHeader), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), ClaimsFromContext(r.Context()), r.Header.Get(SessionHeader)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if err := decodeJSON(r, &fields); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.records.Create(r.Context(), ClaimsFromContext(r.Context()), chi.URLParam(r, "ownerID"), fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	list, err := h.records.List(r.Context(), ClaimsFromContext(r.Context()), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]openedResponse, len(list))
	for i, o := range list {
		out[i] = toOpened(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	o, err := h.records.Get(r.Context(), ClaimsFromContext(r.Context()), chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOpened(o))
}

func (h *Handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	var changes map[string]string
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.records.Update(r.Context(), ClaimsFromContext(r.Context()), chi.URLParam(r, "recordID"), changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": rec.ID, "integrityDigest": rec.IntegrityDigest})
}

func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBody))
	if err != nil {
		writeError(w, common.ErrorValidation)
		return
	}
	doc, err := h.records.AttachDocument(r.Context(), ClaimsFromContext(r.Context()),
		chi.URLParam(r, "recordID"), r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) downloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, obj, err := h.records.FetchDocument(r.Context(), ClaimsFromContext(r.Context()), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Body)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Document-ID", doc.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Body)
}

func (h *Handler) documentURL(w http.ResponseWriter, r *http.Request) {
	ttl := 5 * time.Minute
	if s := r.URL.Query().Get("ttl"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 || d > time.Hour {
			writeError(w, common.ErrorValidation)
			return
		}
		ttl = d
	}
	url, err := h.records.DocumentURL(r.Context(), ClaimsFromContext(r.Context()), chi.URLParam(r, "documentID"), ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) auditEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.audit.Events(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) auditAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.audit.CriticalAlerts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) auditStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.audit.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
