// Package decision sizes mirrored orders for admitted leader fills and emits
// the PaperIntent record the simulator and stores act on.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// sizeScale is the decimal precision for token quantities.
const sizeScale = 6

var hundred = decimal.NewFromInt(100)

// PositionReader is the held-size lookup the SELL path needs.
type PositionReader interface {
	GetOpenByToken(ctx context.Context, tokenID string) (domain.Position, error)
}

// Engine turns an admitted fill into a PaperIntent. Sizing is deterministic
// over (event, config, risk state, quote); the only mutation is the daily
// spend reservation, committed just before a TRADE decision is emitted.
type Engine struct {
	positions PositionReader
	riskState domain.RiskStateStore
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// New builds an Engine.
func New(positions PositionReader, riskState domain.RiskStateStore, logger *slog.Logger) *Engine {
	return &Engine{
		positions: positions,
		riskState: riskState,
		logger:    logger.With(slog.String("component", "decision_engine")),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Decide computes the mirrored order for an admitted fill. quote may be nil
// when no book data exists for the instrument. A non-nil error always pairs
// with a SKIP intent carrying ReasonStoreError; callers must never treat an
// errored decision as tradeable.
func (e *Engine) Decide(ctx context.Context, ev domain.LeaderFillEvent, cfg domain.GuardrailConfig, quote *domain.Quote) (domain.PaperIntent, error) {
	intent := e.baseIntent(ev, cfg)

	// Per-trade clamp. The day cap is reserved last so a fill skipped on a
	// later check never consumes daily headroom.
	target := ev.UsdcSize.Mul(cfg.MirrorRatio)
	if target.GreaterThan(cfg.MaxUsdcPerTrade) {
		target = cfg.MaxUsdcPerTrade
	}
	if !target.IsPositive() {
		return e.skip(intent, domain.ReasonDayCap), nil
	}

	limit, ok := limitPrice(ev, cfg, quote)
	if !ok {
		return e.skip(intent, domain.ReasonPriceMoved), nil
	}
	intent.LimitPrice = limit

	size := target.DivRound(limit, sizeScale)

	if ev.Side == domain.SideSell {
		held, err := e.heldSize(ctx, ev.TokenID)
		if err != nil {
			return e.skip(intent, domain.ReasonStoreError), err
		}
		if !held.IsPositive() {
			return e.skip(intent, domain.ReasonZeroPosition), nil
		}
		if size.GreaterThan(held) {
			size = held
			target = size.Mul(limit)
		}
	}

	granted, err := e.riskState.Reserve(ctx, e.today(), target, cfg.MaxUsdcPerDay)
	if err != nil {
		if errors.Is(err, domain.ErrDayCapReached) {
			return e.skip(intent, domain.ReasonDayCap), nil
		}
		return e.skip(intent, domain.ReasonStoreError), fmt.Errorf("decision: reserve day spend: %w", err)
	}
	if !granted.IsPositive() {
		return e.skip(intent, domain.ReasonDayCap), nil
	}
	if granted.LessThan(target) {
		target = granted
		size = target.DivRound(limit, sizeScale)
	}

	intent.Decision = domain.DecisionTrade
	intent.TargetUsdc = target
	intent.Size = size
	return intent, nil
}

// baseIntent fills the identity fields shared by every outcome.
func (e *Engine) baseIntent(ev domain.LeaderFillEvent, cfg domain.GuardrailConfig) domain.PaperIntent {
	return domain.PaperIntent{
		ID:          e.newID(),
		LeaderID:    ev.Leader.ID,
		DedupeKey:   ev.DedupeKey,
		TokenID:     ev.TokenID,
		ConditionID: ev.ConditionID,
		Side:        ev.Side,
		LeaderPrice: ev.Price,
		LeaderUsdc:  ev.UsdcSize,
		MirrorRatio: cfg.MirrorRatio,
		CreatedAt:   e.now(),
	}
}

func (e *Engine) skip(intent domain.PaperIntent, reason string) domain.PaperIntent {
	intent.Decision = domain.DecisionSkip
	intent.DecisionReason = reason
	intent.TargetUsdc = decimal.Zero
	intent.Size = decimal.Zero
	return intent
}

// heldSize returns the open size held in a token, zero when no position
// exists.
func (e *Engine) heldSize(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	pos, err := e.positions.GetOpenByToken(ctx, tokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("decision: read held position: %w", err)
	}
	return pos.Size, nil
}

func (e *Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

// limitPrice picks the order's limit. With no usable quote the leader's fill
// price is used as-is. With a quote, the limit chases the best price on the
// opposite side of the book, but only while that price stays within the
// slippage tolerance of the leader's price; beyond it the mirror is
// abandoned.
func limitPrice(ev domain.LeaderFillEvent, cfg domain.GuardrailConfig, quote *domain.Quote) (decimal.Decimal, bool) {
	tol := cfg.SlippageTolerancePct.Div(hundred)

	switch ev.Side {
	case domain.SideBuy:
		if quote == nil || !quote.HasAsk() {
			return ev.Price, true
		}
		bound := ev.Price.Mul(decimal.NewFromInt(1).Add(tol))
		if quote.AskPrice.GreaterThan(bound) {
			return decimal.Zero, false
		}
		return quote.AskPrice, true

	case domain.SideSell:
		if quote == nil || !quote.HasBid() {
			return ev.Price, true
		}
		bound := ev.Price.Mul(decimal.NewFromInt(1).Sub(tol))
		if quote.BidPrice.LessThan(bound) {
			return decimal.Zero, false
		}
		return quote.BidPrice, true
	}

	return ev.Price, true
}
