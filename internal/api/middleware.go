package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"commission-engine/internal/httpx"
	"commission-engine/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type sessionKey struct{}

// sessionFrom возвращает сессию запроса
func sessionFrom(ctx context.Context) models.Session {
	s, _ := ctx.Value(sessionKey{}).(models.Session)
	return s
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("HTTP запрос",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// authenticate разбирает Bearer токен и кладет сессию в контекст
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		session, err := s.sessions.Parse(strings.TrimSpace(token))
		if err != nil {
			httpx.WriteError(w, s.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r.Context()).IsAdmin() {
			httpx.WriteError(w, s.logger, models.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireSelf пропускает только владельца данных реферера или администратора
func (s *Server) requireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r.Context()).CanAccess(chi.URLParam(r, "id")) {
			httpx.WriteError(w, s.logger, models.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// programGate отклоняет операции программы, пока она выключена
func (s *Server) programGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enabled, err := s.toggle.Enabled(r.Context())
		if err != nil {
			httpx.WriteError(w, s.logger, err)
			return
		}
		if !enabled {
			httpx.WriteError(w, s.logger, models.ErrProgramDisabled)
			return
		}
		next.ServeHTTP(w, r)
	})
}
