package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/blobstore"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/records"
	"github.com/dmitrijs2005/medkeeper/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuth answers Login and Refresh itself and leaves authorization to the
// real service.
type fakeAuth struct {
	*services.AuthService
	session   *services.Session
	loginErr  error
	lastLogin string
}

func (f *fakeAuth) Login(_ context.Context, userName, _ string) (*services.Session, error) {
	f.lastLogin = userName
	return f.session, f.loginErr
}

func (f *fakeAuth) Refresh(_ context.Context, _, token string) (*auth.TokenPair, error) {
	if token != "good-refresh" {
		return nil, common.ErrTokenInvalid
	}
	return &auth.TokenPair{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil
}

type fakeRecords struct {
	opened  map[string]*records.Opened
	created map[string]string
	owner   string
	doc     *models.Document
	body    []byte
	lastCT  string
}

func (f *fakeRecords) Create(_ context.Context, _ *auth.Claims, ownerID string, fields map[string]string) (*records.Record, error) {
	f.owner = ownerID
	f.created = fields
	return records.New("rec-new"), nil
}

func (f *fakeRecords) Get(_ context.Context, _ *auth.Claims, id string) (*records.Opened, error) {
	o, ok := f.opened[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return o, nil
}

func (f *fakeRecords) List(_ context.Context, _ *auth.Claims, ownerID string) ([]*records.Opened, error) {
	if ownerID != "p1" {
		return nil, common.ErrInsufficientPermission
	}
	var out []*records.Opened
	for _, o := range f.opened {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeRecords) Update(_ context.Context, _ *auth.Claims, id string, _ map[string]string) (*records.Record, error) {
	if id == "tampered" {
		return nil, common.ErrIntegrityViolation
	}
	r := records.New(id)
	r.IntegrityDigest = "d2"
	return r, nil
}

func (f *fakeRecords) AttachDocument(_ context.Context, _ *auth.Claims, recordID, ct string, body []byte) (*models.Document, error) {
	f.body = body
	f.lastCT = ct
	return &models.Document{ID: "doc1", RecordID: recordID, ContentType: ct, Size: int64(len(body))}, nil
}

func (f *fakeRecords) FetchDocument(_ context.Context, _ *auth.Claims, id string) (*models.Document, blobstore.Object, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, blobstore.Object{}, common.ErrorNotFound
	}
	return f.doc, blobstore.Object{Body: f.body, ContentType: f.doc.ContentType}, nil
}

func (f *fakeRecords) DocumentURL(_ context.Context, _ *auth.Claims, id string, ttl time.Duration) (string, error) {
	return "https://s3.example/" + id + "?ttl=" + ttl.String(), nil
}

type server struct {
	*env
	auth    *fakeAuth
	records *fakeRecords
	h       http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	e := newEnv(t)

	plain := records.New("rec1")
	plain.Fields["name"] = "Jane Roe"
	plain.Sensitive["healthHistory"] = records.Plain("asthma")
	plain.LastModified = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	fa := &fakeAuth{AuthService: e.authz}
	fr := &fakeRecords{opened: map[string]*records.Opened{
		"rec1": {Record: plain},
	}}

	h := NewRouter(RouterParams{
		Verifier: e.authority,
		Handler:  NewHandler(fa, fr, e.audit),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		LoginRate: 1000,
	})
	return &server{env: e, auth: fa, records: fr, h: h}
}

func (s *server) do(t *testing.T, method, path string, role auth.Role, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, "p1", role).AccessToken)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestLogin(t *testing.T) {
	s := newServer(t)
	s.auth.session = &services.Session{
		ID:      "sess_1",
		Tokens:  &auth.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: 86400},
		Profile: auth.Profile{ID: "p1", Name: "Jane", Role: auth.RoleWorker},
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", []byte(`{"userName":"jane","password":"pw"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "jane", s.auth.lastLogin)

	var got sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "sess_1", got.SessionID)
	assert.Equal(t, "r", got.Tokens.RefreshToken)
	assert.Equal(t, auth.RoleWorker, got.Profile.Role)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestLogin_BadRequests(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", []byte(`{"userName":"jane"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Password")

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", []byte(`{"userName":"jane","password":"x","admin":true}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	s.auth.loginErr = common.ErrorUnauthorized
	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", []byte(`{"userName":"jane","password":"x"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	e := newEnv(t)
	fa := &fakeAuth{AuthService: e.authz, loginErr: common.ErrorUnauthorized}
	h := NewRouter(RouterParams{Verifier: e.authority, Handler: NewHandler(fa, &fakeRecords{}, e.audit), LoginRate: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"userName":"a","password":"b"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestRefresh(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", []byte(`{"refreshToken":"good-refresh"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"a2"`)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", []byte(`{"refreshToken":"stale"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", auth.RoleWorker, nil, SessionHeader, "sess_9")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, s.env.sessions.SaveProfile(context.Background(), "sess_p2", auth.Profile{ID: "p2", Role: auth.RoleWorker}))
	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", auth.RoleWorker, nil, SessionHeader, "sess_p2")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err := s.env.sessions.Profile(context.Background(), "sess_p2")
	assert.NoError(t, err, "another user's session survives")
}

func TestRecords(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/records/rec1", auth.RoleWorker, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["integrityWarning"])
	body := got["record"].(map[string]any)
	assert.Equal(t, "asthma", body["healthHistory"])
	assert.Equal(t, "Jane Roe", body["name"])

	rec = s.do(t, http.MethodGet, "/api/v1/records/nope", auth.RoleWorker, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/records/rec1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/patients/p1/records", auth.RoleWorker, []byte(`{"name":"Jane","allergies":"peanuts"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "p1", s.records.owner)
	assert.Equal(t, "peanuts", s.records.created["allergies"])

	rec = s.do(t, http.MethodPost, "/api/v1/patients/p1/records", auth.RoleWorker, []byte(`{"age":42}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "field values are strings")

	rec = s.do(t, http.MethodGet, "/api/v1/patients/p1/records", auth.RoleWorker, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/patients/p2/records", auth.RoleWorker, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/records/rec1", auth.RoleDoctor, []byte(`{"diagnosis":"asthma"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"integrityDigest":"d2"`)

	rec = s.do(t, http.MethodPatch, "/api/v1/records/tampered", auth.RoleDoctor, []byte(`{"diagnosis":"asthma"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDocuments(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/records/rec1/documents", auth.RoleWorker, []byte("%PDF"), "Content-Type", "application/pdf")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/pdf", s.records.lastCT)
	assert.Contains(t, rec.Body.String(), `"id":"doc1"`)

	s.records.doc = &models.Document{ID: "doc1", RecordID: "rec1", ContentType: "application/pdf"}
	rec = s.do(t, http.MethodGet, "/api/v1/documents/doc1", auth.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodGet, "/api/v1/documents/doc1/url?ttl=10m", auth.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ttl=10m0s")

	rec = s.do(t, http.MethodGet, "/api/v1/documents/doc1/url?ttl=48h", auth.RoleDoctor, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditRoutes(t *testing.T) {
	s := newServer(t)
	_, err := s.audit.LogAccess(context.Background(), "login_failed", "u9", "anonymous", nil)
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/audit/events", auth.RoleWorker, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/audit/alerts", auth.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []audit.CriticalAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.NotEmpty(t, alerts)
	assert.Equal(t, "login_failed", alerts[0].Event.Action)

	rec = s.do(t, http.MethodGet, "/api/v1/audit/stats", auth.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum audit.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Total, "the earlier denial is in the log too")

	rec = s.do(t, http.MethodGet, "/api/v1/audit/events", auth.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
