package http

import (
	"context"
	"net/http"
	"time"

	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/usecase"
)

// LifecycleService is the client facing subscription lifecycle.
type LifecycleService interface {
	Subscribe(ctx context.Context, c usecase.Customer, planID string) (*usecase.LifecycleResult, error)
	Cancel(ctx context.Context, userID, reason string) (*usecase.LifecycleResult, error)
	EnableAutopay(ctx context.Context, userID string) (*usecase.LifecycleResult, error)
	DisableAutopay(ctx context.Context, userID string) (*usecase.LifecycleResult, error)
	RetryPayment(ctx context.Context, userID string) (*usecase.LifecycleResult, error)
	VerifyPayment(ctx context.Context, userID, mandateID, paymentID, signature string) (*usecase.LifecycleResult, error)
}

type AccessService interface {
	Get(ctx context.Context, userID string) (*usecase.AccessView, error)
	MarkAutopayPrompted(ctx context.Context, userID string) error
}

type subscriptionDTO struct {
	ID                 string     `json:"id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	AutoRenew          bool       `json:"auto_renew"`
	IsTrial            bool       `json:"is_trial"`
	StartsAt           *time.Time `json:"starts_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CheckoutFlow       string     `json:"checkout_flow,omitempty"`
}

func toSubscriptionDTO(s *model.Subscription) *subscriptionDTO {
	if s == nil {
		return nil
	}
	return &subscriptionDTO{
		ID:                 s.ID,
		PlanID:             s.PlanID,
		Status:             string(s.Status),
		AutoRenew:          s.AutoRenew,
		IsTrial:            s.IsTrial,
		StartsAt:           s.StartsAt,
		EndsAt:             s.EndsAt,
		TrialEndsAt:        s.TrialEndsAt,
		CancelledAt:        s.CancelledAt,
		CancellationReason: s.CancellationReason,
		CheckoutFlow:       string(s.CheckoutFlow),
	}
}

type lifecycleResponse struct {
	Subscription   *subscriptionDTO `json:"subscription"`
	Flow           string           `json:"flow"`
	SkipIntro      bool             `json:"skip_intro_charge"`
	CheckoutKey    string           `json:"checkout_key"`
	SubscriptionID string           `json:"gateway_subscription_id,omitempty"`
	ShortURL       string           `json:"short_url,omitempty"`
}

func toLifecycleResponse(res *usecase.LifecycleResult) lifecycleResponse {
	return lifecycleResponse{
		Subscription:   toSubscriptionDTO(res.Subscription),
		Flow:           string(res.Flow),
		SkipIntro:      res.Flow == model.FlowReenable,
		CheckoutKey:    res.CheckoutKey,
		SubscriptionID: res.MandateID,
		ShortURL:       res.ShortURL,
	}
}

type accessResponse struct {
	UserID                 string        `json:"user_id"`
	Category               string        `json:"category"`
	RealCategory           string        `json:"real_category"`
	AccessActive           bool          `json:"access_active"`
	AccessEndsAt           *time.Time    `json:"access_ends_at,omitempty"`
	ShouldPromptAutopay    bool          `json:"should_prompt_autopay"`
	HasPaidVerificationFee bool          `json:"has_paid_verification_fee"`
	SubscriptionStatus     string        `json:"subscription_status,omitempty"`
	NextBillingDate        *time.Time    `json:"next_billing_date,omitempty"`
	AutoRenew              bool          `json:"auto_renew"`
	Pricing                pricingFields `json:"pricing"`
}

type pricingFields struct {
	IntroAmount     int64  `json:"intro_amount"`
	IntroLabel      string `json:"intro_label"`
	RecurringAmount int64  `json:"recurring_amount"`
	Currency        string `json:"currency"`
}

func (s *Server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	v, err := s.access.Get(r.Context(), Principal(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		UserID:                 v.UserID,
		Category:               v.Decision.Category.String(),
		RealCategory:           v.Decision.RealCategory.String(),
		AccessActive:           v.Decision.AccessActive,
		AccessEndsAt:           v.Decision.AccessEndsAt,
		ShouldPromptAutopay:    v.Decision.ShouldPromptAutopay,
		HasPaidVerificationFee: v.HasPaidVerificationFee,
		SubscriptionStatus:     string(v.SubscriptionStatus),
		NextBillingDate:        v.NextBillingDate,
		AutoRenew:              v.AutoRenew,
		Pricing: pricingFields{
			IntroAmount:     v.Pricing.IntroAmount,
			IntroLabel:      v.Pricing.IntroLabel,
			RecurringAmount: v.Pricing.RecurringAmount,
			Currency:        v.Pricing.Currency,
		},
	})
}

func (s *Server) handleMarkPrompted(w http.ResponseWriter, r *http.Request) {
	if err := s.access.MarkAutopayPrompted(r.Context(), Principal(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subscribeRequest struct {
	PlanID string `json:"plan_id"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.lifecycle.Subscribe(r.Context(), usecase.Customer{
		UserID: Principal(r.Context()),
		Email:  req.Email,
		Phone:  req.Phone,
	}, req.PlanID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Flow == model.FlowExisting {
		status = http.StatusOK
	}
	writeJSON(w, status, toLifecycleResponse(res))
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	res, err := s.lifecycle.Cancel(r.Context(), Principal(r.Context()), req.Reason)
	s.respondLifecycle(w, res, err)
}

func (s *Server) handleEnableAutopay(w http.ResponseWriter, r *http.Request) {
	res, err := s.lifecycle.EnableAutopay(r.Context(), Principal(r.Context()))
	s.respondLifecycle(w, res, err)
}

func (s *Server) handleDisableAutopay(w http.ResponseWriter, r *http.Request) {
	res, err := s.lifecycle.DisableAutopay(r.Context(), Principal(r.Context()))
	s.respondLifecycle(w, res, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.lifecycle.RetryPayment(r.Context(), Principal(r.Context()))
	s.respondLifecycle(w, res, err)
}

type verifyRequest struct {
	SubscriptionID string `json:"razorpay_subscription_id"`
	PaymentID      string `json:"razorpay_payment_id"`
	Signature      string `json:"razorpay_signature"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.lifecycle.VerifyPayment(r.Context(), Principal(r.Context()), req.SubscriptionID, req.PaymentID, req.Signature)
	s.respondLifecycle(w, res, err)
}

func (s *Server) respondLifecycle(w http.ResponseWriter, res *usecase.LifecycleResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLifecycleResponse(res))
}
