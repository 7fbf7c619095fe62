// Package api содержит HTTP API движка реферальных комиссий
package api

import (
	"context"
	"net/http"

	"commission-engine/internal/metrics"
	"commission-engine/internal/payout"
	"commission-engine/internal/scheduler"
	"commission-engine/internal/webhook"
	"commission-engine/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ReferralService операции жизненного цикла рефералов
type ReferralService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResult, error)
	Dashboard(ctx context.Context, referrerID string) (*models.Dashboard, error)
	SubmitSocialVerification(ctx context.Context, referrerID string, req models.VerificationRequest) (*models.SocialVerification, error)
	ReviewVerification(ctx context.Context, id, action, reviewer, note string) (*models.SocialVerification, error)
	ReviewReferral(ctx context.Context, id string, action models.ReferralAction, reviewer, reason string) (*models.Referral, error)
	ListReferrals(ctx context.Context, filter models.ReferralFilter) ([]*models.Referral, error)
}

// PayoutService операции с выплатами
type PayoutService interface {
	SetupPayoutAccount(ctx context.Context, referrerID string, method models.PayoutMethod) (*payout.AccountSetup, error)
	RequestPayout(ctx context.Context, referrerID string, req models.PayoutRequest) (*models.Payout, error)
	ReviewPayout(ctx context.Context, id string, action models.PayoutAction, reviewer, reason string) (*models.Payout, error)
	ExecutePayout(ctx context.Context, id string) (*models.Payout, error)
	ListPayouts(ctx context.Context, filter models.PayoutFilter) ([]*models.Payout, error)
}

// SessionParser разбирает токен доступа в сессию
type SessionParser interface {
	Parse(token string) (models.Session, error)
}

// ProgramToggle глобальный переключатель программы
type ProgramToggle interface {
	Enabled(ctx context.Context) (bool, error)
	Set(ctx context.Context, enabled bool) error
}

// VerificationRunner однократный прогон проверки испытательного срока
type VerificationRunner interface {
	RunOnce(ctx context.Context) (scheduler.Summary, error)
}

// Server HTTP сервер API
type Server struct {
	referrals    ReferralService
	payouts      PayoutService
	sessions     SessionParser
	toggle       ProgramToggle
	verification VerificationRunner
	tracking     *webhook.TrackingHandler
	metrics      *metrics.Handler
	logger       *zap.Logger
}

// NewServer создает HTTP сервер API
func NewServer(
	referrals ReferralService,
	payouts PayoutService,
	sessions SessionParser,
	toggle ProgramToggle,
	verification VerificationRunner,
	tracking *webhook.TrackingHandler,
	metricsHandler *metrics.Handler,
	logger *zap.Logger,
) *Server {
	return &Server{
		referrals:    referrals,
		payouts:      payouts,
		sessions:     sessions,
		toggle:       toggle,
		verification: verification,
		tracking:     tracking,
		metrics:      metricsHandler,
		logger:       logger,
	}
}

// Router собирает маршруты API
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.metrics.HealthHandler)
	r.Handle("/metrics", s.metrics.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		// Переключатель программы доступен и при выключенной программе
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate, s.requireAdmin)
			r.Get("/admin/program", s.getProgram)
			r.Put("/admin/program", s.setProgram)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.programGate)

			r.Post("/referrers", s.register)
			r.Method(http.MethodPost, "/referrals/track", s.tracking)

			r.Route("/referrers/{id}", func(r chi.Router) {
				r.Use(s.authenticate, s.requireSelf)
				r.Get("/dashboard", s.dashboard)
				r.Post("/social-verifications", s.submitVerification)
				r.Post("/payout-account", s.setupPayoutAccount)
				r.Post("/payouts", s.requestPayout)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.authenticate, s.requireAdmin)
				r.Post("/referrals/{id}/review", s.reviewReferral)
				r.Post("/verifications/{id}/review", s.reviewVerification)
				r.Get("/payouts", s.listPayouts)
				r.Post("/payouts/{id}/review", s.reviewPayout)
				r.Post("/payouts/{id}/execute", s.executePayout)
				r.Get("/export", s.export)
				r.Post("/verification/run", s.runVerification)
			})
		})
	})

	return r
}
