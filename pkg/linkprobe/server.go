// Package linkprobe serves POST /api/check-link, the server-side half of the link health check.
package linkprobe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/linkcheck"
)

// maxBodyBytes caps the request body of a probe call
const maxBodyBytes = 16 << 10

type ctxKey string

const subjectKey ctxKey = "subject"

// Checker is what the handler needs from a Prober
type Checker interface {
	Check(ctx context.Context, target string) Outcome
}

// Server is the link probe HTTP service
type Server struct {
	checker Checker
	gate    linkcheck.FeatureGate
	secret  []byte
	cfg     config.ProbeServerConfig
	log     *logrus.Entry
}

// NewServer creates a probe server. Requests need a bearer token signed with secret;
// gate must grant broken_links_check or every probe is answered with 403.
func NewServer(checker Checker, gate linkcheck.FeatureGate, secret string, cfg config.ProbeServerConfig, log *logrus.Entry) *Server {
	return &Server{checker: checker, gate: gate, secret: []byte(secret), cfg: cfg, log: log}
}

// Router builds the chi router with middleware
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/api/check-link", s.handleCheckLink)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Link probe server listening on %s", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("Shutting down link probe server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		subject, err := linkcheck.VerifyToken(s.secret, strings.TrimSpace(token))
		if err != nil {
			s.log.WithField("request_id", middleware.GetReqID(r.Context())).Debugf("Rejected token: %v", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
	})
}

func (s *Server) handleCheckLink(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil || !s.gate.HasFeature(config.FeatureBrokenLinksCheck) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "broken link checking is not enabled"})
		return
	}

	var req linkcheck.ProbeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"url\": \"...\"}"})
		return
	}

	ctx := r.Context()
	if s.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		defer cancel()
	}

	out := s.checker.Check(ctx, strings.TrimSpace(req.URL))
	resp := linkcheck.ProbeResponse{IsBroken: out.Broken, StatusCode: out.StatusCode}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	subject, _ := r.Context().Value(subjectKey).(string)
	s.log.WithFields(logrus.Fields{
		"url":     req.URL,
		"subject": subject,
		"status":  out.StatusCode,
		"broken":  out.Broken,
	}).Debug("Link probe served")
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
