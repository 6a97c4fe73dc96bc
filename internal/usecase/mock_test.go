//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"premium-entitlement/internal/config"
	"premium-entitlement/internal/domain"
	"premium-entitlement/internal/domain/model"
	"premium-entitlement/internal/domain/ports/adapter"
	"premium-entitlement/internal/domain/ports/repository"
	"premium-entitlement/internal/infra/logging"
	"premium-entitlement/internal/usecase"
)

// =============================
// Repositories
// =============================

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	byID map[string]*model.User

	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	SavePaymentFlagsFunc func(ctx context.Context, tx repository.Tx, u *model.User) error
	FlagWrites           int
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}}
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[u.ID]; ok {
		cur.Email, cur.Phone, cur.UpdatedAt, cur.DeletedAt = u.Email, u.Phone, u.UpdatedAt, u.DeletedAt
		return nil
	}
	cp := model.User{ID: u.ID, Email: u.Email, Phone: u.Phone, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
	r.byID[u.ID] = &cp
	return nil
}

// SavePaymentFlags mirrors the SQL: the flag only rises, the first time wins.
func (r *MockUserRepo) SavePaymentFlags(ctx context.Context, tx repository.Tx, u *model.User) error {
	if r.SavePaymentFlagsFunc != nil {
		return r.SavePaymentFlagsFunc(ctx, tx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[u.ID]
	if !ok {
		return domain.ErrNotFound
	}
	r.FlagWrites++
	cur.HasPaidVerificationFee = cur.HasPaidVerificationFee || u.HasPaidVerificationFee
	if cur.VerificationFeePaidAt == nil && u.VerificationFeePaidAt != nil {
		t := *u.VerificationFeePaidAt
		cur.VerificationFeePaidAt = &t
	}
	return nil
}

func (r *MockUserRepo) SetAdminOverride(ctx context.Context, tx repository.Tx, id string, forced bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.AdminForcedPremium = forced
	return nil
}

func (r *MockUserRepo) TouchAutopayPrompt(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.LastAutopayPromptAt = &at
	return nil
}

// Put seeds a user row as-is, flags included.
func (r *MockUserRepo) Put(u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.byID[u.ID] = &cp
}

func (r *MockUserRepo) Get(id string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Subscription

	SaveFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	Saves    int
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{byID: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.HasMandate() {
		for id, other := range r.byID {
			if id != s.ID && other.MandateID() == s.MandateID() {
				return fmt.Errorf("%w: duplicate gateway subscription id", domain.ErrConflict)
			}
		}
	}
	r.Saves++
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindByGatewayID(ctx context.Context, tx repository.Tx, gatewayID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.MandateID() == gatewayID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindLatestByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	list, _ := r.ListByUser(ctx, tx, userID, 1)
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return list[0], nil
}

func (r *MockSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.byID {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockSubscriptionRepo) Put(s *model.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.byID[s.ID] = &cp
}

func (r *MockSubscriptionRepo) Get(id string) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (r *MockSubscriptionRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Payment

	SaveFunc func(ctx context.Context, tx repository.Tx, p *model.Payment) error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{byID: map[string]*model.Payment{}}
}

func clonePayment(p *model.Payment) *model.Payment {
	cp := *p
	cp.Metadata = make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// Save enforces the same uniqueness as the schema.
func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, other := range r.byID {
		if id == p.ID {
			continue
		}
		if p.GatewayPaymentID != nil && other.GatewayPaymentID != nil && *p.GatewayPaymentID == *other.GatewayPaymentID {
			return fmt.Errorf("%w: duplicate gateway payment id", domain.ErrConflict)
		}
	}
	r.byID[p.ID] = clonePayment(p)
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		return clonePayment(p), nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByGatewayPaymentID(ctx context.Context, tx repository.Tx, gatewayPaymentID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.GatewayPaymentID != nil && *p.GatewayPaymentID == gatewayPaymentID {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Payment
	for _, p := range r.byID {
		if p.GatewayOrderID != nil && *p.GatewayOrderID == gatewayOrderID {
			if best == nil || p.CreatedAt.Before(best.CreatedAt) {
				best = p
			}
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return clonePayment(best), nil
}

func (r *MockPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byID {
		if p.UserID == userID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) ListCreatedBetween(ctx context.Context, tx repository.Tx, from, to time.Time) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byID {
		if !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (r *MockPaymentRepo) Put(p *model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = clonePayment(p)
}

func (r *MockPaymentRepo) All() []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Payment, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, clonePayment(p))
	}
	return out
}

// ---- Mock PlanRepository ----

type MockPlanRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Plan
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo(plans ...*model.Plan) *MockPlanRepo {
	r := &MockPlanRepo{byID: map[string]*model.Plan{}}
	for _, p := range plans {
		cp := *p
		r.byID[p.ID] = &cp
	}
	return r
}

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Plan
	for _, p := range r.byID {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock TransactionManager ----

// MockTxManager serializes transactions, standing in for the user row lock.
type MockTxManager struct {
	mu         sync.Mutex
	Calls      int
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- Mock BillingGateway ----

type MockGateway struct {
	mu       sync.Mutex
	seq      int
	Requests []adapter.MandateRequest
	Cancels  []string

	CreateMandateFunc   func(ctx context.Context, req adapter.MandateRequest) (adapter.Mandate, error)
	CancelMandateFunc   func(ctx context.Context, id string, atCycleEnd bool) (adapter.Mandate, error)
	VerifySignatureFunc func(mandateID, paymentID, signature string) (bool, error)
	ListPaymentsFunc    func(ctx context.Context, w adapter.Window) ([]adapter.GatewayPayment, error)
	ListSettlementsFunc func(ctx context.Context, w adapter.Window) ([]adapter.Settlement, error)
}

var _ adapter.BillingGateway = (*MockGateway)(nil)

func (g *MockGateway) Name() string        { return "mock" }
func (g *MockGateway) CheckoutKey() string { return "key_mock" }

func (g *MockGateway) CreateMandate(ctx context.Context, req adapter.MandateRequest) (adapter.Mandate, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	g.seq++
	id := fmt.Sprintf("sub_gw_%d", g.seq)
	g.mu.Unlock()
	if g.CreateMandateFunc != nil {
		return g.CreateMandateFunc(ctx, req)
	}
	return adapter.Mandate{ID: id, PlanID: req.PlanGatewayID, Status: "created", ShortURL: "https://pay.test/" + id, Notes: req.Notes}, nil
}

func (g *MockGateway) FetchMandate(ctx context.Context, id string) (adapter.Mandate, error) {
	return adapter.Mandate{ID: id, Status: "active"}, nil
}

func (g *MockGateway) CancelMandate(ctx context.Context, id string, atCycleEnd bool) (adapter.Mandate, error) {
	g.mu.Lock()
	g.Cancels = append(g.Cancels, id)
	g.mu.Unlock()
	if g.CancelMandateFunc != nil {
		return g.CancelMandateFunc(ctx, id, atCycleEnd)
	}
	return adapter.Mandate{ID: id, Status: "active"}, nil
}

func (g *MockGateway) VerifySignature(mandateID, paymentID, signature string) (bool, error) {
	if g.VerifySignatureFunc != nil {
		return g.VerifySignatureFunc(mandateID, paymentID, signature)
	}
	return signature == "good", nil
}

func (g *MockGateway) ListPayments(ctx context.Context, w adapter.Window) ([]adapter.GatewayPayment, error) {
	if g.ListPaymentsFunc != nil {
		return g.ListPaymentsFunc(ctx, w)
	}
	return nil, nil
}

func (g *MockGateway) ListSettlements(ctx context.Context, w adapter.Window) ([]adapter.Settlement, error) {
	if g.ListSettlementsFunc != nil {
		return g.ListSettlementsFunc(ctx, w)
	}
	return nil, nil
}

func (g *MockGateway) RequestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", fmt.Errorf("%w: %s is busy", domain.ErrConflict, key)
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// ---- Mock RateLimiter ----

type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

var _ adapter.RateLimiter = (*MockRateLimiter)(nil)

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

// =============================
// Fixture
// =============================

const (
	testPlanID   = "plan-monthly"
	testUserID   = "user-1"
	testCurrency = "INR"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{MaxTxRetry: 3},
		Gateway:  config.GatewayConfig{Timeout: time.Second, TotalCount: 12},
		Entitlement: config.EntitlementConfig{
			GraceWindow:          7 * 24 * time.Hour,
			PromptCooldown:       30 * 24 * time.Hour,
			VerificationCurrency: testCurrency,
		},
		Pricing:   config.PricingConfig{IntroAmount: 100, RecurringAmount: 49900, Currency: testCurrency},
		RateLimit: config.RateLimitConfig{LifecycleLimit: 10, LifecycleWindow: time.Minute},
	}
}

// fixture wires every use case against the in-memory adapters.
type fixture struct {
	users    *MockUserRepo
	subs     *MockSubscriptionRepo
	payments *MockPaymentRepo
	plans    *MockPlanRepo
	tm       *MockTxManager
	gateway  *MockGateway
	locker   *MockLocker
	limiter  *MockRateLimiter
	cfg      *config.Holder

	reconciler *usecase.Reconciler
	lifecycle  *usecase.LifecycleUseCase
	access     *usecase.AccessUseCase
	admin      *usecase.AdminUseCase
}

func newFixture() *fixture {
	f := &fixture{
		users:    NewMockUserRepo(),
		subs:     NewMockSubscriptionRepo(),
		payments: NewMockPaymentRepo(),
		plans: NewMockPlanRepo(&model.Plan{
			ID: testPlanID, Name: "Monthly", GatewayPlanID: "plan_gw_monthly",
			Active: true, Amount: 49900, Currency: testCurrency, IntervalDays: 30,
		}),
		tm:      NewMockTxManager(),
		gateway: &MockGateway{},
		locker:  NewMockLocker(),
		limiter: &MockRateLimiter{},
		cfg:     config.NewHolder(testConfig()),
	}
	log := logging.Discard()
	f.reconciler = usecase.NewReconciler(f.users, f.subs, f.payments, f.tm, f.cfg, log)
	f.lifecycle = usecase.NewLifecycleUseCase(f.users, f.subs, f.plans, f.tm, f.gateway, f.locker, f.limiter, f.reconciler, f.cfg, log)
	f.access = usecase.NewAccessUseCase(f.users, f.subs, f.cfg, log)
	f.admin = usecase.NewAdminUseCase(f.users, f.subs, f.payments, f.gateway, f.cfg, log)
	return f
}

func (f *fixture) seedUser(id string) *model.User {
	u, _ := model.NewUser(id, id+"@example.com", "")
	f.users.Put(u)
	return u
}

func (f *fixture) seedPaidUser(id string, paidAt time.Time) *model.User {
	u, _ := model.NewUser(id, id+"@example.com", "")
	u.HasPaidVerificationFee = true
	u.VerificationFeePaidAt = &paidAt
	f.users.Put(u)
	return u
}

// seedMandate stores a subscription that already reached the gateway.
func (f *fixture) seedMandate(userID, mandateID string, status model.SubscriptionStatus, autoRenew bool) *model.Subscription {
	s, _ := model.NewSubscription(userID, testPlanID, model.FlowNew)
	s.AttachMandate(mandateID)
	s.Status = status
	s.AutoRenew = autoRenew
	f.subs.Put(s)
	return s
}
