package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/decision"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/risk"
	"github.com/alanyoungcy/copytraderbot/internal/source"
)

// --------------------------------------------------------------------------
// In-memory fakes
// --------------------------------------------------------------------------

type memGuardrails struct {
	cfg domain.GuardrailConfig
	err error
}

func (m *memGuardrails) Resolve(context.Context, string, domain.OrderSide) (domain.GuardrailConfig, error) {
	return m.cfg, m.err
}

func (m *memGuardrails) Upsert(context.Context, domain.GuardrailConfig) error { return nil }

type memPositions struct {
	mu   sync.Mutex
	open map[string]domain.Position // token -> position
}

func newMemPositions() *memPositions {
	return &memPositions{open: make(map[string]domain.Position)}
}

func (m *memPositions) GetOpenByCondition(_ context.Context, conditionID string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.open {
		if p.ConditionID == conditionID || (p.ConditionID == "" && p.TokenID == conditionID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositions) GetOpenByToken(_ context.Context, tokenID string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.open[tokenID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPositions) CountOpenConditions(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open), nil
}

func (m *memPositions) ApplyFill(_ context.Context, fill domain.PaperFill, price decimal.Decimal, conditionID, outcome string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.open[fill.TokenID]
	if !ok {
		p = domain.Position{
			ID:          "pos-" + fill.TokenID,
			TokenID:     fill.TokenID,
			ConditionID: conditionID,
			Outcome:     outcome,
			OpenedAt:    time.Now(),
		}
	}
	if fill.Side == domain.SideBuy {
		p.Size = p.Size.Add(fill.Size)
		p.CostBasis = p.CostBasis.Add(fill.Size.Mul(price))
	} else {
		p.Size = p.Size.Sub(fill.Size)
		p.CostBasis = p.CostBasis.Sub(fill.Size.Mul(price))
	}
	m.open[fill.TokenID] = p
	return p, nil
}

func (m *memPositions) ListHistory(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type memPaper struct {
	mu      sync.Mutex
	intents []domain.PaperIntent
	fills   []domain.PaperFill
}

func (m *memPaper) CreateIntent(_ context.Context, intent domain.PaperIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = append(m.intents, intent)
	return nil
}

func (m *memPaper) CreateFill(_ context.Context, fill domain.PaperFill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, fill)
	return nil
}

func (m *memPaper) ListRecentIntents(context.Context, int) ([]domain.PaperIntent, error) {
	return nil, nil
}

func (m *memPaper) intentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intents)
}

func (m *memPaper) intentSnapshot() []domain.PaperIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PaperIntent, len(m.intents))
	copy(out, m.intents)
	return out
}

type memPnL struct {
	mu    sync.Mutex
	snaps []domain.PnLSnapshot
}

func (m *memPnL) CreateSnapshot(_ context.Context, snap domain.PnLSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

type memFillLog struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memFillLog) RecordFill(_ context.Context, ev domain.LeaderFillEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[ev.DedupeKey] {
		return domain.ErrAlreadyExists
	}
	m.seen[ev.DedupeKey] = true
	return nil
}

func (m *memFillLog) ListByDay(context.Context, string) ([]domain.LeaderFillEvent, error) {
	return nil, nil
}

// memLocks provides the same per-key mutual exclusion as the redis manager,
// blocking contenders until the holder releases.
type memLocks struct {
	mu       sync.Mutex
	keys     map[string]*sync.Mutex
	acquired int
	released int
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	if m.keys == nil {
		m.keys = make(map[string]*sync.Mutex)
	}
	km, ok := m.keys[key]
	if !ok {
		km = &sync.Mutex{}
		m.keys[key] = km
	}
	m.mu.Unlock()

	km.Lock()
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.released++
			m.mu.Unlock()
			km.Unlock()
		})
	}, nil
}

type memRiskState struct {
	mu    sync.Mutex
	spent decimal.Decimal
	cap   decimal.Decimal
}

func (m *memRiskState) Reserve(_ context.Context, _ string, amount, cap decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	headroom := cap.Sub(m.spent)
	if !headroom.IsPositive() {
		return decimal.Zero, domain.ErrDayCapReached
	}
	if amount.GreaterThan(headroom) {
		amount = headroom
	}
	m.spent = m.spent.Add(amount)
	return amount, nil
}

func (m *memRiskState) Get(context.Context, string) (domain.RiskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.RiskState{SpentUsdc: m.spent}, nil
}

type allHealthy struct{}

func (allHealthy) SourceHealthy(domain.FillSourceKind) bool { return true }
func (allHealthy) HasSource(domain.FillSourceKind) bool     { return true }

// memBook serves one fixed quote for every token.
type memBook struct {
	mu      sync.Mutex
	quote   *domain.Quote
	tracked []string
}

func (m *memBook) Track(_ context.Context, tokenIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked = append(m.tracked, tokenIDs...)
	return nil
}

func (m *memBook) GetQuote(string) (domain.Quote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quote == nil {
		return domain.Quote{}, false
	}
	return *m.quote, true
}

func (m *memBook) IsHealthy() bool { return true }

func (m *memBook) QuoteAge(string) domain.QuoteAge { return domain.QuoteFresh }

// --------------------------------------------------------------------------

type harness struct {
	processor *Processor
	paper     *memPaper
	positions *memPositions
	pnl       *memPnL
	fillLog   *memFillLog
	locks     *memLocks
	book      *memBook
}

func newHarness(t *testing.T, quote *domain.Quote) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		paper:     &memPaper{},
		positions: newMemPositions(),
		pnl:       &memPnL{},
		fillLog:   &memFillLog{},
		locks:     &memLocks{},
		book:      &memBook{quote: quote},
	}

	riskEngine := risk.New(source.TriggerBoth, true, allHealthy{}, h.book, h.positions, logger)
	decider := decision.New(h.positions, &memRiskState{cap: decimal.NewFromInt(250)}, logger)

	h.processor = NewProcessor(ProcessorDeps{
		Guardrails: &memGuardrails{cfg: domain.DefaultGuardrails("whale", domain.SideBuy)},
		RiskEngine: riskEngine,
		Decider:    decider,
		Simulator:  decision.NewSimulator(),
		Book:       h.book,
		Positions:  h.positions,
		Paper:      h.paper,
		PnL:        h.pnl,
		FillLog:    h.fillLog,
		Locks:      h.locks,
	}, logger)
	return h
}

func leaderBuy(key string) domain.LeaderFillEvent {
	return domain.LeaderFillEvent{
		Leader:      domain.Leader{ID: "whale", Wallet: "0xabc"},
		Source:      domain.FillSourceOnChain,
		DedupeKey:   key,
		TokenID:     "tok",
		ConditionID: "cond",
		Side:        domain.SideBuy,
		Role:        domain.RoleTaker,
		Price:       decimal.RequireFromString("0.50"),
		Size:        decimal.NewFromInt(2000),
		UsdcSize:    decimal.NewFromInt(1000),
		FillTs:      time.Now(),
		DetectedAt:  time.Now(),
	}
}

func TestHandleFill_TradePath(t *testing.T) {
	quote := &domain.Quote{
		TokenID:    "tok",
		BidPrice:   decimal.RequireFromString("0.48"),
		AskPrice:   decimal.RequireFromString("0.50"),
		BidSize:    decimal.NewFromInt(500),
		AskSize:    decimal.NewFromInt(500),
		CapturedAt: time.Now(),
	}
	h := newHarness(t, quote)

	require.NoError(t, h.processor.HandleFill(context.Background(), leaderBuy("0xtx:0")))

	require.Len(t, h.paper.intents, 1)
	intent := h.paper.intents[0]
	assert.Equal(t, domain.DecisionTrade, intent.Decision)
	assert.True(t, intent.TargetUsdc.Equal(decimal.NewFromInt(10)), intent.TargetUsdc.String())

	require.Len(t, h.paper.fills, 1)
	fill := h.paper.fills[0]
	assert.True(t, fill.Filled)
	assert.True(t, fill.MatchSamePrice, "fill at the leader's exact price")

	pos, err := h.positions.GetOpenByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, pos.Size.Equal(decimal.NewFromInt(20)), pos.Size.String())

	require.Len(t, h.pnl.snaps, 1)
	assert.Contains(t, h.book.tracked, "tok")
	assert.Equal(t, h.locks.acquired, h.locks.released, "exposure lock is always released")
}

func TestHandleFill_DuplicateAcrossRestarts(t *testing.T) {
	h := newHarness(t, nil)
	ev := leaderBuy("0xtx:0")

	require.NoError(t, h.processor.HandleFill(context.Background(), ev))
	require.NoError(t, h.processor.HandleFill(context.Background(), ev))

	assert.Len(t, h.paper.intents, 1, "the durable fill log backstops the in-memory window")
}

func TestHandleFill_RiskRejectionPersistsSkip(t *testing.T) {
	h := newHarness(t, nil)

	ev := leaderBuy("0xtx:0")
	ev.Role = domain.RoleMaker

	require.NoError(t, h.processor.HandleFill(context.Background(), ev))

	require.Len(t, h.paper.intents, 1)
	intent := h.paper.intents[0]
	assert.Equal(t, domain.DecisionSkip, intent.Decision)
	assert.Equal(t, "SKIP_MAKER_TRADE", intent.DecisionReason)
	assert.Empty(t, h.paper.fills, "skips are never simulated")
}

func TestHandleFill_NoQuoteTradeRestsUnfilled(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.processor.HandleFill(context.Background(), leaderBuy("0xtx:0")))

	require.Len(t, h.paper.intents, 1)
	assert.Equal(t, domain.DecisionTrade, h.paper.intents[0].Decision)

	require.Len(t, h.paper.fills, 1)
	assert.False(t, h.paper.fills[0].Filled)
	assert.Empty(t, h.pnl.snaps, "unfilled orders touch no position")
}

func TestHandleFill_GuardrailStoreErrorSkips(t *testing.T) {
	h := newHarness(t, nil)
	h.processor.guardrails = &memGuardrails{err: errors.New("connection reset")}

	require.NoError(t, h.processor.HandleFill(context.Background(), leaderBuy("0xtx:0")))

	require.Len(t, h.paper.intents, 1)
	assert.Equal(t, domain.DecisionSkip, h.paper.intents[0].Decision)
	assert.Equal(t, "SKIP_STORE_ERROR", h.paper.intents[0].DecisionReason)
}

func TestHandleFill_DayCapExhaustionSkips(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 30; i++ {
		ev := leaderBuy(domain.OnChainDedupeKey("0xtx", uint(i)))
		ev.UsdcSize = decimal.NewFromInt(5000) // 50 USDC mirrored, 25 after the trade clamp
		require.NoError(t, h.processor.HandleFill(context.Background(), ev))
	}

	var traded, capped int
	for _, intent := range h.paper.intents {
		switch {
		case intent.Decision == domain.DecisionTrade:
			traded++
		case intent.DecisionReason == "SKIP_DAY_CAP":
			capped++
		}
	}
	assert.Equal(t, 10, traded, "250 USDC cap / 25 per trade")
	assert.Equal(t, 20, capped)
}

func TestHandleFill_ConcurrentExposureNeverExceedsCap(t *testing.T) {
	quote := &domain.Quote{
		TokenID:    "tok",
		BidPrice:   decimal.RequireFromString("0.48"),
		AskPrice:   decimal.RequireFromString("0.50"),
		BidSize:    decimal.NewFromInt(5000),
		AskSize:    decimal.NewFromInt(5000),
		CapturedAt: time.Now(),
	}
	h := newHarness(t, quote)

	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)
	cfg.MaxUsdcPerEvent = decimal.NewFromInt(80)
	cfg.MirrorRatio = decimal.RequireFromString("0.02")
	h.processor.guardrails = &memGuardrails{cfg: cfg}

	// Eight simultaneous fills of 20 USDC mirrored each, all on one
	// condition: only four fit under the 80 cap, however they interleave.
	const fills = 8
	errs := make(chan error, fills)
	var wg sync.WaitGroup
	for i := 0; i < fills; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := leaderBuy(domain.OnChainDedupeKey("0xtx", uint(i)))
			errs <- h.processor.HandleFill(context.Background(), ev)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	intents := h.paper.intentSnapshot()
	require.Len(t, intents, fills, "every fill is decided exactly once")

	var traded, rejected int
	for _, intent := range intents {
		switch {
		case intent.Decision == domain.DecisionTrade:
			traded++
		case intent.DecisionReason == "SKIP_MAX_EVENT_EXPOSURE":
			rejected++
		default:
			t.Fatalf("unexpected outcome %s/%s", intent.Decision, intent.DecisionReason)
		}
	}
	assert.Equal(t, 4, traded, "80 USDC cap / 20 per fill")
	assert.Equal(t, fills-4, rejected)

	open, err := h.positions.GetOpenByCondition(context.Background(), "cond")
	require.NoError(t, err)
	basis := decimal.Zero
	for _, p := range open {
		basis = basis.Add(p.CostBasis)
	}
	assert.False(t, basis.GreaterThan(cfg.MaxUsdcPerEvent),
		"combined cost basis %s stays within the cap", basis.String())

	h.locks.mu.Lock()
	defer h.locks.mu.Unlock()
	assert.Equal(t, h.locks.acquired, h.locks.released, "exposure lock is always released")
}
