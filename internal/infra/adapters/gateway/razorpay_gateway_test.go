//go:build !integration

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/ports/adapter"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *RazorpayGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewRazorpayGateway(config.GatewayConfig{
		BaseURL:   srv.URL,
		KeyID:     "rzp_test_key",
		KeySecret: "secret",
		Timeout:   200 * time.Millisecond,
		RPS:       100,
		Burst:     10,
	})
	require.NoError(t, err)
	return g
}

func TestCreateMandate_SendsIntroAddonAndNotes(t *testing.T) {
	var body map[string]any
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/subscriptions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"sub_1","plan_id":"plan_gw","status":"created","short_url":"https://rzp.io/i/x","notes":{"user_id":"u1"}}`))
	})

	m, err := g.CreateMandate(context.Background(), adapter.MandateRequest{
		PlanGatewayID: "plan_gw",
		TotalCount:    12,
		IntroAmount:   100,
		IntroCurrency: "INR",
		Notes:         map[string]string{"user_id": "u1", "subscription_id": "sub_local"},
	})

	require.NoError(t, err)
	assert.Equal(t, "sub_1", m.ID)
	assert.Equal(t, "u1", m.Notes["user_id"])
	assert.Nil(t, m.CurrentEnd)
	assert.Equal(t, "plan_gw", body["plan_id"])
	assert.EqualValues(t, 12, body["total_count"])
	addons, ok := body["addons"].([]any)
	require.True(t, ok, "expected addons in request")
	assert.Len(t, addons, 1)
	notes := body["notes"].(map[string]any)
	assert.Equal(t, "sub_local", notes["subscription_id"])
}

func TestCreateMandate_SkipIntroOmitsAddon(t *testing.T) {
	var body map[string]any
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":"sub_2","status":"created","notes":[]}`))
	})

	m, err := g.CreateMandate(context.Background(), adapter.MandateRequest{
		PlanGatewayID:   "plan_gw",
		SkipIntroCharge: true,
		IntroAmount:     100,
		IntroCurrency:   "INR",
	})

	require.NoError(t, err)
	assert.Empty(t, m.Notes)
	_, has := body["addons"]
	assert.False(t, has, "expected no addons when intro is skipped")
}

func TestDo_MapsFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "4xx is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"bad plan"}}`))
			},
			want: domain.ErrGatewayRejected,
		},
		{
			name:    "5xx is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    domain.ErrGatewayUnavailable,
		},
		{
			name: "slow response times out",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(500 * time.Millisecond)
			},
			want: domain.ErrGatewayTimeout,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGateway(t, tc.handler)
			_, err := g.FetchMandate(context.Background(), "sub_1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, errors.Is(err, domain.ErrGateway))
			assert.True(t, domain.IsRetryable(err))
		})
	}
}

func TestFetchMandate_ParsesPeriod(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub_9", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"sub_9","status":"active","current_start":1700000000,"current_end":1702592000,"charge_at":null}`))
	})

	m, err := g.FetchMandate(context.Background(), "sub_9")

	require.NoError(t, err)
	require.NotNil(t, m.CurrentEnd)
	assert.Equal(t, time.Unix(1702592000, 0).UTC(), *m.CurrentEnd)
	assert.Nil(t, m.ChargeAt)
}

func TestCancelMandate_AtCycleEnd(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub_3/cancel", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 1, body["cancel_at_cycle_end"])
		_, _ = w.Write([]byte(`{"id":"sub_3","status":"active"}`))
	})

	_, err := g.CancelMandate(context.Background(), "sub_3", true)
	require.NoError(t, err)
}

func TestListPayments_Paginates(t *testing.T) {
	calls := 0
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		n := pageSize
		if r.URL.Query().Get("skip") != "0" {
			n = 1
		}
		items := make([]rzPayment, n)
		for i := range items {
			items[i] = rzPayment{ID: "pay", Amount: 100, Currency: "INR", Status: "captured", CreatedAt: 1700000000}
		}
		_ = json.NewEncoder(w).Encode(rzCollection[rzPayment]{Count: n, Items: items})
	})

	from := time.Unix(1690000000, 0)
	out, err := g.ListPayments(context.Background(), adapter.Window{From: from, To: from.Add(30 * 24 * time.Hour)})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, out, pageSize+1)
}

func TestListSettlements_RejectsEmptyWindow(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected call")
	})
	now := time.Now()
	_, err := g.ListSettlements(context.Background(), adapter.Window{From: now, To: now})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestVerifySignature(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	good := SignCheckout("secret", "sub_1", "pay_1")

	ok, err := g.VerifySignature("sub_1", "pay_1", good)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.VerifySignature("sub_1", "pay_2", good)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.VerifySignature("sub_1", "pay_1", "not-hex")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = NewNoopGateway("").VerifySignature("sub_1", "pay_1", good)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.GatewayConfig{Provider: "paypal"})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
