package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/adapter"
	"premium-entitlement/internal/usecase"
)

type AdminService interface {
	SetOverride(ctx context.Context, actor, userID string, forced bool) error
	Inspect(ctx context.Context, userID string) (*usecase.UserReport, error)
	Decide(ctx context.Context, userID string, at time.Time) (model.AccessDecision, error)
	FetchMandate(ctx context.Context, mandateID string) (adapter.Mandate, error)
	ReconciliationReport(ctx context.Context, w adapter.Window) (*usecase.ReconciliationReport, error)
	ReloadConfig(ctx context.Context, actor string) error
}

type overrideRequest struct {
	Forced *bool `json:"forced"`
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Forced == nil {
		writeError(w, domain.NewValidationError("forced", "is required"))
		return
	}
	if err := s.admin.SetOverride(r.Context(), Principal(r.Context()), chi.URLParam(r, "userID"), *req.Forced); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decisionDTO struct {
	Category            string     `json:"category"`
	RealCategory        string     `json:"real_category"`
	AccessActive        bool       `json:"access_active"`
	AccessEndsAt        *time.Time `json:"access_ends_at,omitempty"`
	ShouldPromptAutopay bool       `json:"should_prompt_autopay"`
}

func toDecisionDTO(d model.AccessDecision) decisionDTO {
	return decisionDTO{
		Category:            d.Category.String(),
		RealCategory:        d.RealCategory.String(),
		AccessActive:        d.AccessActive,
		AccessEndsAt:        d.AccessEndsAt,
		ShouldPromptAutopay: d.ShouldPromptAutopay,
	}
}

type paymentDTO struct {
	ID               string      `json:"id"`
	SubscriptionID   *string     `json:"subscription_id,omitempty"`
	GatewayPaymentID *string     `json:"gateway_payment_id,omitempty"`
	GatewayOrderID   *string     `json:"gateway_order_id,omitempty"`
	Status           string      `json:"status"`
	Amount           int64       `json:"amount"`
	Currency         string      `json:"currency"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	FailureReason    string      `json:"failure_reason,omitempty"`
	Refunds          []refundDTO `json:"refunds,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

type refundDTO struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type userReportResponse struct {
	UserID                 string             `json:"user_id"`
	HasPaidVerificationFee bool               `json:"has_paid_verification_fee"`
	VerificationFeePaidAt  *time.Time         `json:"verification_fee_paid_at,omitempty"`
	AdminForcedPremium     bool               `json:"admin_forced_premium"`
	Decision               decisionDTO        `json:"decision"`
	Subscriptions          []*subscriptionDTO `json:"subscriptions"`
	Payments               []paymentDTO       `json:"payments"`
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	rep, err := s.admin.Inspect(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := userReportResponse{
		UserID:                 rep.User.ID,
		HasPaidVerificationFee: rep.User.HasPaidVerificationFee,
		VerificationFeePaidAt:  rep.User.VerificationFeePaidAt,
		AdminForcedPremium:     rep.User.AdminForcedPremium,
		Decision:               toDecisionDTO(rep.Decision),
		Subscriptions:          make([]*subscriptionDTO, 0, len(rep.Subscriptions)),
		Payments:               make([]paymentDTO, 0, len(rep.Payments)),
	}
	for _, sub := range rep.Subscriptions {
		out.Subscriptions = append(out.Subscriptions, toSubscriptionDTO(sub))
	}
	for _, p := range rep.Payments {
		dto := paymentDTO{
			ID:               p.ID,
			SubscriptionID:   p.SubscriptionID,
			GatewayPaymentID: p.GatewayPaymentID,
			GatewayOrderID:   p.GatewayOrderID,
			Status:           string(p.Status),
			Amount:           p.Amount,
			Currency:         p.Currency,
			PaidAt:           p.PaidAt,
			FailureReason:    p.FailureReason,
			CreatedAt:        p.CreatedAt,
		}
		for _, rf := range p.Refunds() {
			dto.Refunds = append(dto.Refunds, refundDTO{ID: rf.ID, Amount: rf.Amount, Status: rf.Status})
		}
		out.Payments = append(out.Payments, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var at time.Time
	if err := runtime.BindQueryParameter("form", true, false, "at", r.URL.Query(), &at); err != nil {
		writeError(w, domain.NewValidationError("at", err.Error()))
		return
	}
	d, err := s.admin.Decide(r.Context(), chi.URLParam(r, "userID"), at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(d))
}

func (s *Server) handleFetchMandate(w http.ResponseWriter, r *http.Request) {
	m, err := s.admin.FetchMandate(r.Context(), chi.URLParam(r, "mandateID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID           string            `json:"id"`
		PlanID       string            `json:"plan_id"`
		Status       string            `json:"status"`
		CurrentStart *time.Time        `json:"current_start,omitempty"`
		CurrentEnd   *time.Time        `json:"current_end,omitempty"`
		ChargeAt     *time.Time        `json:"charge_at,omitempty"`
		Notes        map[string]string `json:"notes,omitempty"`
	}{m.ID, m.PlanID, m.Status, m.CurrentStart, m.CurrentEnd, m.ChargeAt, m.Notes})
}

type mismatchDTO struct {
	Kind             string `json:"kind"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	LocalPaymentID   string `json:"local_payment_id,omitempty"`
	GatewayStatus    string `json:"gateway_status,omitempty"`
	LocalStatus      string `json:"local_status,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type reconciliationResponse struct {
	From            time.Time     `json:"from"`
	To              time.Time     `json:"to"`
	GatewayPayments int           `json:"gateway_payments"`
	LocalPayments   int           `json:"local_payments"`
	Matched         int           `json:"matched"`
	Mismatches      []mismatchDTO `json:"mismatches"`
	Settlements     struct {
		Count  int   `json:"count"`
		Amount int64 `json:"amount"`
		Fees   int64 `json:"fees"`
		Tax    int64 `json:"tax"`
	} `json:"settlements"`
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "from", q, &from); err != nil {
		writeError(w, domain.NewValidationError("from", err.Error()))
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "to", q, &to); err != nil {
		writeError(w, domain.NewValidationError("to", err.Error()))
		return
	}
	rep, err := s.admin.ReconciliationReport(r.Context(), adapter.Window{From: from.UTC(), To: to.UTC()})
	if err != nil {
		writeError(w, err)
		return
	}
	out := reconciliationResponse{
		From:            rep.Window.From,
		To:              rep.Window.To,
		GatewayPayments: rep.GatewayPayments,
		LocalPayments:   rep.LocalPayments,
		Matched:         rep.Matched,
		Mismatches:      make([]mismatchDTO, 0, len(rep.Mismatches)),
	}
	for _, m := range rep.Mismatches {
		out.Mismatches = append(out.Mismatches, mismatchDTO{
			Kind:             m.Kind,
			GatewayPaymentID: m.GatewayPaymentID,
			LocalPaymentID:   m.LocalPaymentID,
			GatewayStatus:    m.GatewayStatus,
			LocalStatus:      string(m.LocalStatus),
			Amount:           m.Amount,
			Currency:         m.Currency,
		})
	}
	out.Settlements.Count = rep.Settlements.Count
	out.Settlements.Amount = rep.Settlements.Amount
	out.Settlements.Fees = rep.Settlements.Fees
	out.Settlements.Tax = rep.Settlements.Tax
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.ReloadConfig(r.Context(), Principal(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
