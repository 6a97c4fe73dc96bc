package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/ports/adapter"
)

var _ adapter.BillingGateway = (*NoopGateway)(nil)

// NoopGateway is an in-memory gateway for local runs and tests. Mandates
// start in "created" and only change through CancelMandate or SetStatus.
type NoopGateway struct {
	mu          sync.Mutex
	seq         int64
	secret      string
	mandates    map[string]adapter.Mandate
	payments    []adapter.GatewayPayment
	settlements []adapter.Settlement
}

func NewNoopGateway(secret string) *NoopGateway {
	return &NoopGateway{
		secret:   secret,
		mandates: make(map[string]adapter.Mandate),
	}
}

func (g *NoopGateway) Name() string        { return "noop" }
func (g *NoopGateway) CheckoutKey() string { return "noop_key" }

func (g *NoopGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop%d", prefix, g.seq)
}

func (g *NoopGateway) CreateMandate(ctx context.Context, req adapter.MandateRequest) (adapter.Mandate, error) {
	if err := ctx.Err(); err != nil {
		return adapter.Mandate{}, fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	if req.PlanGatewayID == "" {
		return adapter.Mandate{}, domain.NewValidationError("plan", "gateway plan id is empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next("sub")
	notes := make(map[string]string, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	m := adapter.Mandate{
		ID:       id,
		PlanID:   req.PlanGatewayID,
		Status:   "created",
		ShortURL: "https://example.test/checkout/" + id,
		Notes:    notes,
	}
	g.mandates[id] = m
	return m, nil
}

func (g *NoopGateway) FetchMandate(ctx context.Context, mandateID string) (adapter.Mandate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.mandates[mandateID]
	if !ok {
		return adapter.Mandate{}, fmt.Errorf("%w: mandate %s not found", domain.ErrGatewayRejected, mandateID)
	}
	return m, nil
}

func (g *NoopGateway) CancelMandate(ctx context.Context, mandateID string, atCycleEnd bool) (adapter.Mandate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.mandates[mandateID]
	if !ok {
		return adapter.Mandate{}, fmt.Errorf("%w: mandate %s not found", domain.ErrGatewayRejected, mandateID)
	}
	if !atCycleEnd {
		m.Status = "cancelled"
	}
	g.mandates[mandateID] = m
	return m, nil
}

// SetStatus lets tests and local tooling move a mandate along.
func (g *NoopGateway) SetStatus(mandateID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.mandates[mandateID]; ok {
		m.Status = status
		g.mandates[mandateID] = m
	}
}

// AddPayment and AddSettlement seed the listing endpoints.
func (g *NoopGateway) AddPayment(p adapter.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments = append(g.payments, p)
}

func (g *NoopGateway) AddSettlement(s adapter.Settlement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.settlements = append(g.settlements, s)
}

func (g *NoopGateway) VerifySignature(mandateID, paymentID, signature string) (bool, error) {
	return verifyCheckoutSignature(g.secret, mandateID, paymentID, signature)
}

func (g *NoopGateway) ListPayments(ctx context.Context, w adapter.Window) ([]adapter.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []adapter.GatewayPayment
	for _, p := range g.payments {
		if inWindow(p.CreatedAt, w) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *NoopGateway) ListSettlements(ctx context.Context, w adapter.Window) ([]adapter.Settlement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []adapter.Settlement
	for _, s := range g.settlements {
		if inWindow(s.CreatedAt, w) {
			out = append(out, s)
		}
	}
	return out, nil
}

func inWindow(t time.Time, w adapter.Window) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// SignCheckout produces the signature the checkout widget returns for a
// mandate payment.
func SignCheckout(secret, mandateID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(paymentID + "|" + mandateID))
	return hex.EncodeToString(mac.Sum(nil))
}
