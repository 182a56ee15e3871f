package httpx

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
)

// RouterParams groups what NewRouter needs.
type RouterParams struct {
	Verifier TokenVerifier
	Handler  *Handler
	// Metrics is mounted at /metrics when set.
	Metrics    http.Handler
	Production bool
	// LoginRate caps login and refresh attempts per client IP per minute.
	LoginRate int
}

// NewRouter builds the HTTP surface: /healthz, /metrics and the /api/v1
// JSON API.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           p.Production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !p.Production,
	})

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(secureMiddleware.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	if p.Handler == nil {
		return r
	}
	h := p.Handler

	rate := p.LoginRate
	if rate <= 0 {
		rate = 10
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(pub chi.Router) {
			pub.Use(httprate.LimitByIP(rate, time.Minute))
			pub.Post("/auth/login", h.login)
			pub.Post("/auth/refresh", h.refresh)
		})

		api.Group(func(priv chi.Router) {
			priv.Use(Authenticate(p.Verifier))

			priv.Post("/auth/logout", h.logout)

			// ownership is checked by the record service
			priv.Post("/patients/{ownerID}/records", h.createRecord)
			priv.Get("/patients/{ownerID}/records", h.listRecords)
			priv.Get("/records/{recordID}", h.getRecord)
			priv.Patch("/records/{recordID}", h.updateRecord)

			priv.With(RequireAny(h.auth, auth.PermUploadDocuments)).
				Post("/records/{recordID}/documents", h.uploadDocument)
			priv.Get("/documents/{documentID}", h.downloadDocument)
			priv.Get("/documents/{documentID}/url", h.documentURL)

			priv.Route("/audit", func(ar chi.Router) {
				ar.Use(RequireAny(h.auth, auth.PermViewAuditLogs))
				ar.Get("/events", h.auditEvents)
				ar.Get("/alerts", h.auditAlerts)
				ar.Get("/stats", h.auditStats)
			})
		})
	})

	return r
}
