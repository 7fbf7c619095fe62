package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"commission-engine/internal/export"
	"commission-engine/internal/httpx"
	"commission-engine/pkg/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type programState struct {
	Enabled bool `json:"enabled"`
}

type payoutAccountRequest struct {
	Method models.PayoutMethod `json:"method"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	result, err := s.referrals.Register(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, result)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.referrals.Dashboard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (s *Server) submitVerification(w http.ResponseWriter, r *http.Request) {
	var req models.VerificationRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	v, err := s.referrals.SubmitSocialVerification(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, v)
}

func (s *Server) setupPayoutAccount(w http.ResponseWriter, r *http.Request) {
	var req payoutAccountRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	setup, err := s.payouts.SetupPayoutAccount(r.Context(), chi.URLParam(r, "id"), req.Method)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, setup)
}

func (s *Server) requestPayout(w http.ResponseWriter, r *http.Request) {
	var req models.PayoutRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	p, err := s.payouts.RequestPayout(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) reviewReferral(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	reviewer := sessionFrom(r.Context()).SubjectID
	ref, err := s.referrals.ReviewReferral(r.Context(), chi.URLParam(r, "id"), models.ReferralAction(req.Action), reviewer, req.Reason)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ref)
}

func (s *Server) reviewVerification(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	reviewer := sessionFrom(r.Context()).SubjectID
	v, err := s.referrals.ReviewVerification(r.Context(), chi.URLParam(r, "id"), req.Action, reviewer, req.Reason)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) reviewPayout(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	reviewer := sessionFrom(r.Context()).SubjectID
	p, err := s.payouts.ReviewPayout(r.Context(), chi.URLParam(r, "id"), models.PayoutAction(req.Action), reviewer, req.Reason)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// executePayout отдает 200 и для неуспешного перевода: статус failed и код причины в теле
func (s *Server) executePayout(w http.ResponseWriter, r *http.Request) {
	p, err := s.payouts.ExecutePayout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) listPayouts(w http.ResponseWriter, r *http.Request) {
	filter, err := payoutFilter(r)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	payouts, err := s.payouts.ListPayouts(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payouts)
}

// export выгружает рефералы или выплаты в CSV
func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")

	var write func(w http.ResponseWriter) error
	switch kind {
	case "referrals":
		filter, err := referralFilter(r)
		if err != nil {
			httpx.WriteError(w, s.logger, err)
			return
		}
		referrals, err := s.referrals.ListReferrals(r.Context(), filter)
		if err != nil {
			httpx.WriteError(w, s.logger, err)
			return
		}
		write = func(w http.ResponseWriter) error { return export.WriteReferrals(w, referrals) }
	case "payouts":
		filter, err := payoutFilter(r)
		if err != nil {
			httpx.WriteError(w, s.logger, err)
			return
		}
		payouts, err := s.payouts.ListPayouts(r.Context(), filter)
		if err != nil {
			httpx.WriteError(w, s.logger, err)
			return
		}
		write = func(w http.ResponseWriter) error { return export.WritePayouts(w, payouts) }
	default:
		httpx.WriteError(w, s.logger, models.ErrInvalidInput.WithMessage("kind должен быть referrals или payouts"))
		return
	}

	filename := fmt.Sprintf("%s-%s.csv", kind, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := write(w); err != nil {
		s.logger.Error("ошибка выгрузки CSV", zap.String("kind", kind), zap.Error(err))
	}
}

func (s *Server) getProgram(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.toggle.Enabled(r.Context())
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, programState{Enabled: enabled})
}

func (s *Server) setProgram(w http.ResponseWriter, r *http.Request) {
	var req programState
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	if err := s.toggle.Set(r.Context(), req.Enabled); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	s.logger.Info("администратор переключил программу",
		zap.Bool("enabled", req.Enabled),
		zap.String("admin", sessionFrom(r.Context()).SubjectID))
	httpx.WriteJSON(w, http.StatusOK, req)
}

// runVerification запускает проверку испытательного срока вне расписания
func (s *Server) runVerification(w http.ResponseWriter, r *http.Request) {
	summary, err := s.verification.RunOnce(r.Context())
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

func payoutFilter(r *http.Request) (models.PayoutFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return models.PayoutFilter{}, err
	}
	q := r.URL.Query()
	return models.PayoutFilter{
		ReferrerID: q.Get("referrer_id"),
		Status:     models.PayoutStatus(q.Get("status")),
		Limit:      limit,
	}, nil
}

func referralFilter(r *http.Request) (models.ReferralFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return models.ReferralFilter{}, err
	}
	q := r.URL.Query()
	return models.ReferralFilter{
		ReferrerID: q.Get("referrer_id"),
		Status:     models.ReferralStatus(q.Get("status")),
		Limit:      limit,
	}, nil
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0, models.ErrInvalidInput.WithMessage("limit должен быть неотрицательным числом")
	}
	return limit, nil
}
