// File: internal/infra/adapters/gateway/razorpay_gateway.go
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/ports/adapter"
	"premium-entitlement/internal/infra/metrics"
)

var _ adapter.BillingGateway = (*RazorpayGateway)(nil)

const (
	providerRazorpay = "razorpay"
	pageSize         = 100
	maxPages         = 50
)

// RazorpayGateway implements adapter.BillingGateway over the Razorpay REST API.
// Every call is bounded by the configured timeout and the outbound rate limit.
type RazorpayGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
	limiter   *rate.Limiter
}

func NewRazorpayGateway(cfg config.GatewayConfig) (*RazorpayGateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, fmt.Errorf("%w: razorpay key id and secret are required", domain.ErrConfiguration)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid gateway base url: %v", domain.ErrConfiguration, err)
	}
	return &RazorpayGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}, nil
}

func (g *RazorpayGateway) Name() string        { return providerRazorpay }
func (g *RazorpayGateway) CheckoutKey() string { return g.keyID }

type rzAddonItem struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type rzAddon struct {
	Item rzAddonItem `json:"item"`
}

type rzSubscription struct {
	ID           string          `json:"id"`
	PlanID       string          `json:"plan_id"`
	Status       string          `json:"status"`
	ShortURL     string          `json:"short_url"`
	CurrentStart *int64          `json:"current_start"`
	CurrentEnd   *int64          `json:"current_end"`
	ChargeAt     *int64          `json:"charge_at"`
	Notes        json.RawMessage `json:"notes"`
}

func (s rzSubscription) toMandate() adapter.Mandate {
	return adapter.Mandate{
		ID:           s.ID,
		PlanID:       s.PlanID,
		Status:       s.Status,
		ShortURL:     s.ShortURL,
		CurrentStart: unixPtr(s.CurrentStart),
		CurrentEnd:   unixPtr(s.CurrentEnd),
		ChargeAt:     unixPtr(s.ChargeAt),
		Notes:        decodeNotes(s.Notes),
	}
}

// CreateMandate creates a recurring subscription. The verification fee is
// attached as an upfront addon unless the request skips it.
func (g *RazorpayGateway) CreateMandate(ctx context.Context, req adapter.MandateRequest) (adapter.Mandate, error) {
	if req.PlanGatewayID == "" {
		return adapter.Mandate{}, domain.NewValidationError("plan", "gateway plan id is empty")
	}
	body := map[string]any{
		"plan_id":         req.PlanGatewayID,
		"customer_notify": 1,
	}
	if req.TotalCount > 0 {
		body["total_count"] = req.TotalCount
	}
	if !req.SkipIntroCharge && req.IntroAmount > 0 {
		body["addons"] = []rzAddon{{Item: rzAddonItem{
			Name:     "Verification fee",
			Amount:   req.IntroAmount,
			Currency: req.IntroCurrency,
		}}}
	}
	notes := map[string]string{}
	for k, v := range req.Notes {
		notes[k] = v
	}
	if req.CustomerEmail != "" {
		notes["email"] = req.CustomerEmail
	}
	if req.CustomerPhone != "" {
		notes["contact"] = req.CustomerPhone
	}
	body["notes"] = notes

	var out rzSubscription
	if err := g.do(ctx, "create_mandate", http.MethodPost, "/subscriptions", body, &out); err != nil {
		return adapter.Mandate{}, err
	}
	if out.ID == "" {
		return adapter.Mandate{}, fmt.Errorf("%w: empty subscription id", domain.ErrGatewayRejected)
	}
	return out.toMandate(), nil
}

func (g *RazorpayGateway) FetchMandate(ctx context.Context, mandateID string) (adapter.Mandate, error) {
	if mandateID == "" {
		return adapter.Mandate{}, domain.NewValidationError("mandate_id", "must not be empty")
	}
	var out rzSubscription
	if err := g.do(ctx, "fetch_mandate", http.MethodGet, "/subscriptions/"+url.PathEscape(mandateID), nil, &out); err != nil {
		return adapter.Mandate{}, err
	}
	return out.toMandate(), nil
}

func (g *RazorpayGateway) CancelMandate(ctx context.Context, mandateID string, atCycleEnd bool) (adapter.Mandate, error) {
	if mandateID == "" {
		return adapter.Mandate{}, domain.NewValidationError("mandate_id", "must not be empty")
	}
	flag := 0
	if atCycleEnd {
		flag = 1
	}
	var out rzSubscription
	path := "/subscriptions/" + url.PathEscape(mandateID) + "/cancel"
	if err := g.do(ctx, "cancel_mandate", http.MethodPost, path, map[string]any{"cancel_at_cycle_end": flag}, &out); err != nil {
		return adapter.Mandate{}, err
	}
	return out.toMandate(), nil
}

// VerifySignature checks the checkout handler signature, an HMAC-SHA256 of
// "payment_id|subscription_id" keyed with the API secret.
func (g *RazorpayGateway) VerifySignature(mandateID, paymentID, signature string) (bool, error) {
	return verifyCheckoutSignature(g.keySecret, mandateID, paymentID, signature)
}

func verifyCheckoutSignature(secret, mandateID, paymentID, signature string) (bool, error) {
	if secret == "" {
		return false, fmt.Errorf("%w: gateway key secret not configured", domain.ErrConfiguration)
	}
	if mandateID == "" || paymentID == "" || signature == "" {
		return false, nil
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false, nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(paymentID + "|" + mandateID))
	return hmac.Equal(mac.Sum(nil), got), nil
}

type rzPayment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt int64           `json:"created_at"`
	Notes     json.RawMessage `json:"notes"`
}

type rzSettlement struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Fees      int64  `json:"fees"`
	Tax       int64  `json:"tax"`
	Status    string `json:"status"`
	UTR       string `json:"utr"`
	CreatedAt int64  `json:"created_at"`
}

type rzCollection[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

func (g *RazorpayGateway) ListPayments(ctx context.Context, w adapter.Window) ([]adapter.GatewayPayment, error) {
	items, err := listAll[rzPayment](ctx, g, "list_payments", "/payments", w)
	if err != nil {
		return nil, err
	}
	out := make([]adapter.GatewayPayment, 0, len(items))
	for _, p := range items {
		out = append(out, adapter.GatewayPayment{
			ID:        p.ID,
			OrderID:   p.OrderID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Status:    p.Status,
			CreatedAt: time.Unix(p.CreatedAt, 0).UTC(),
			Notes:     decodeNotes(p.Notes),
		})
	}
	return out, nil
}

func (g *RazorpayGateway) ListSettlements(ctx context.Context, w adapter.Window) ([]adapter.Settlement, error) {
	items, err := listAll[rzSettlement](ctx, g, "list_settlements", "/settlements", w)
	if err != nil {
		return nil, err
	}
	out := make([]adapter.Settlement, 0, len(items))
	for _, s := range items {
		out = append(out, adapter.Settlement{
			ID:        s.ID,
			Amount:    s.Amount,
			Fees:      s.Fees,
			Tax:       s.Tax,
			Status:    s.Status,
			UTR:       s.UTR,
			CreatedAt: time.Unix(s.CreatedAt, 0).UTC(),
		})
	}
	return out, nil
}

// listAll pages through a collection endpoint until a short page.
func listAll[T any](ctx context.Context, g *RazorpayGateway, op, path string, w adapter.Window) ([]T, error) {
	if !w.To.After(w.From) {
		return nil, domain.NewValidationError("window", "to must be after from")
	}
	var all []T
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("from", strconv.FormatInt(w.From.Unix(), 10))
		// the gateway treats "to" as inclusive
		q.Set("to", strconv.FormatInt(w.To.Unix()-1, 10))
		q.Set("count", strconv.Itoa(pageSize))
		q.Set("skip", strconv.Itoa(page*pageSize))

		var out rzCollection[T]
		if err := g.do(ctx, op, http.MethodGet, path+"?"+q.Encode(), nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Items...)
		if len(out.Items) < pageSize {
			return all, nil
		}
	}
	return all, fmt.Errorf("%w: %s exceeded %d pages", domain.ErrGatewayRejected, op, maxPages)
}

type rzError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveGatewayCall(providerRazorpay, op, resultLabel(err), time.Since(start))
	}()

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrGatewayTimeout, op, err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s: %v", domain.ErrGatewayTimeout, op, err)
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", domain.ErrGatewayUnavailable, op, err)
	}
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: http %d", domain.ErrGatewayUnavailable, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		var e rzError
		_ = json.Unmarshal(raw, &e)
		return fmt.Errorf("%w: %s: http %d %s %s", domain.ErrGatewayRejected, op, resp.StatusCode, e.Error.Code, e.Error.Description)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", domain.ErrGatewayRejected, op, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrGatewayTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func unixPtr(v *int64) *time.Time {
	if v == nil || *v == 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

// decodeNotes accepts the gateway's notes object. An empty notes value is
// serialized as [] by the gateway, which decodes to an empty map.
func decodeNotes(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		}
	}
	return out
}
