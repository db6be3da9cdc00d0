// Package pipeline connects the fill sources to the risk, decision, and
// simulation stages and persists every outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copytraderbot/internal/decision"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/notify"
	"github.com/alanyoungcy/copytraderbot/internal/risk"
)

const (
	// intentChannel and intentStream announce decided intents to external
	// consumers over the signal bus.
	intentChannel = "copytrader:intents"
	intentStream  = "copytrader:intents:stream"

	// exposureLockTTL bounds how long a crashed holder can block a
	// condition's exposure lock.
	exposureLockTTL = 15 * time.Second

	lockRetries    = 5
	lockRetryDelay = 200 * time.Millisecond
)

// BookAccess is the quote surface the processor consumes.
type BookAccess interface {
	Track(ctx context.Context, tokenIDs ...string) error
	GetQuote(tokenID string) (domain.Quote, bool)
}

// Processor runs one leader fill through admission, sizing, simulation, and
// persistence. Every fill that reaches it produces exactly one PaperIntent
// row; errors downgrade the decision, they never abort silently.
type Processor struct {
	guardrails domain.GuardrailStore
	riskEngine *risk.Engine
	decider    *decision.Engine
	simulator  *decision.Simulator

	book      BookAccess
	positions domain.PositionStore
	paper     domain.PaperStore
	pnl       domain.PnLStore
	fillLog   domain.FillLogStore
	locks     domain.LockManager
	bus       domain.SignalBus
	notifier  *notify.Notifier

	logger *slog.Logger
}

// ProcessorDeps bundles the processor's constructor dependencies. bus,
// notifier, fillLog, and pnl may be nil; the corresponding steps are skipped.
type ProcessorDeps struct {
	Guardrails domain.GuardrailStore
	RiskEngine *risk.Engine
	Decider    *decision.Engine
	Simulator  *decision.Simulator
	Book       BookAccess
	Positions  domain.PositionStore
	Paper      domain.PaperStore
	PnL        domain.PnLStore
	FillLog    domain.FillLogStore
	Locks      domain.LockManager
	Bus        domain.SignalBus
	Notifier   *notify.Notifier
}

// NewProcessor creates a Processor.
func NewProcessor(deps ProcessorDeps, logger *slog.Logger) *Processor {
	return &Processor{
		guardrails: deps.Guardrails,
		riskEngine: deps.RiskEngine,
		decider:    deps.Decider,
		simulator:  deps.Simulator,
		book:       deps.Book,
		positions:  deps.Positions,
		paper:      deps.Paper,
		pnl:        deps.PnL,
		fillLog:    deps.FillLog,
		locks:      deps.Locks,
		bus:        deps.Bus,
		notifier:   deps.Notifier,
		logger:     logger.With(slog.String("component", "pipeline")),
	}
}

// HandleFill processes one deduplicated leader fill end to end. The returned
// error reports persistence trouble for logging; by then the skip has
// already been recorded where possible.
func (p *Processor) HandleFill(ctx context.Context, ev domain.LeaderFillEvent) error {
	log := p.logger.With(
		slog.String("dedupe_key", ev.DedupeKey),
		slog.String("leader_id", ev.Leader.ID),
		slog.String("token_id", ev.TokenID),
	)

	if p.fillLog != nil {
		if err := p.fillLog.RecordFill(ctx, ev); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				// Seen in a previous process lifetime; the in-memory window
				// has no record of it but the decision already happened.
				log.Debug("fill already recorded, skipping")
				return nil
			}
			log.Warn("fill audit record failed", slog.String("error", err.Error()))
		}
	}

	if p.book != nil {
		if err := p.book.Track(ctx, ev.TokenID); err != nil {
			log.Warn("token tracking failed", slog.String("error", err.Error()))
		}
	}

	cfg, err := p.guardrails.Resolve(ctx, ev.Leader.ID, ev.Side)
	if err != nil {
		return p.recordSkip(ctx, ev, domain.DefaultGuardrails(ev.Leader.ID, ev.Side), domain.ReasonStoreError, log)
	}

	// The exposure read, the decision, and the exposure write must not
	// interleave with another fill on the same condition.
	unlock, err := p.acquireExposureLock(ctx, ev.ExposureKey())
	if err != nil {
		log.Warn("exposure lock unavailable", slog.String("error", err.Error()))
		return p.recordSkip(ctx, ev, cfg, domain.ReasonStoreError, log)
	}
	defer unlock()

	verdict, err := p.riskEngine.Evaluate(ctx, ev, cfg)
	if err != nil {
		log.Warn("risk evaluation failed", slog.String("error", err.Error()))
		return p.recordSkip(ctx, ev, cfg, verdict.Reason, log)
	}
	if !verdict.Approved {
		return p.recordSkip(ctx, ev, cfg, verdict.Reason, log)
	}

	var quote *domain.Quote
	if p.book != nil {
		if q, ok := p.book.GetQuote(ev.TokenID); ok {
			quote = &q
		}
	}

	intent, err := p.decider.Decide(ctx, ev, cfg, quote)
	if err != nil {
		log.Warn("decision failed", slog.String("error", err.Error()))
	}

	if err := p.paper.CreateIntent(ctx, intent); err != nil {
		return fmt.Errorf("pipeline: persist intent %s: %w", intent.ID, err)
	}

	var fill *domain.PaperFill
	if intent.Decision == domain.DecisionTrade {
		f := p.simulator.Simulate(intent, quote)
		fill = &f

		if err := p.paper.CreateFill(ctx, f); err != nil {
			return fmt.Errorf("pipeline: persist fill %s: %w", f.ID, err)
		}

		if f.Filled {
			if err := p.applyFill(ctx, ev, fill); err != nil {
				log.Error("position update failed", slog.String("error", err.Error()))
				return err
			}
		}
	}

	log.Info("fill decided",
		slog.String("decision", string(intent.Decision)),
		slog.String("reason", intent.DecisionReason),
		slog.String("target_usdc", intent.TargetUsdc.String()),
	)

	p.announce(ctx, intent, fill)
	return nil
}

// acquireExposureLock takes the per-condition lock, retrying briefly when
// another fill on the same condition holds it.
func (p *Processor) acquireExposureLock(ctx context.Context, key string) (func(), error) {
	var lastErr error
	for attempt := 0; attempt < lockRetries; attempt++ {
		unlock, err := p.locks.Acquire(ctx, "exposure:"+key, exposureLockTTL)
		if err == nil {
			return unlock, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return nil, fmt.Errorf("pipeline: exposure lock %s: %w", key, lastErr)
}

// recordSkip persists and announces a SKIP intent for a rejected fill.
func (p *Processor) recordSkip(ctx context.Context, ev domain.LeaderFillEvent, cfg domain.GuardrailConfig, reason string, log *slog.Logger) error {
	if reason == "" {
		reason = domain.ReasonStoreError
	}

	intent := domain.PaperIntent{
		ID:             uuid.NewString(),
		LeaderID:       ev.Leader.ID,
		DedupeKey:      ev.DedupeKey,
		TokenID:        ev.TokenID,
		ConditionID:    ev.ConditionID,
		Side:           ev.Side,
		Decision:       domain.DecisionSkip,
		DecisionReason: reason,
		LeaderPrice:    ev.Price,
		LeaderUsdc:     ev.UsdcSize,
		MirrorRatio:    cfg.MirrorRatio,
		CreatedAt:      time.Now().UTC(),
	}

	log.Info("fill skipped", slog.String("reason", reason))

	if err := p.paper.CreateIntent(ctx, intent); err != nil {
		return fmt.Errorf("pipeline: persist skip intent %s: %w", intent.ID, err)
	}

	p.announce(ctx, intent, nil)
	return nil
}

// applyFill folds a simulated execution into the position and snapshots PnL.
func (p *Processor) applyFill(ctx context.Context, ev domain.LeaderFillEvent, fill *domain.PaperFill) error {
	pos, err := p.positions.ApplyFill(ctx, *fill, fill.FillPrice, ev.ConditionID, ev.Outcome)
	if err != nil {
		return fmt.Errorf("pipeline: apply fill %s: %w", fill.ID, err)
	}

	if p.pnl == nil {
		return nil
	}

	snap := domain.PnLSnapshot{
		ID:            uuid.NewString(),
		PositionID:    pos.ID,
		TokenID:       pos.TokenID,
		Size:          pos.Size,
		CostBasis:     pos.CostBasis,
		MarkPrice:     fill.FillPrice,
		RealizedPnL:   pos.RealizedPnL,
		UnrealizedPnL: pos.Size.Mul(fill.FillPrice).Sub(pos.CostBasis),
		CapturedAt:    time.Now().UTC(),
	}
	if err := p.pnl.CreateSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("pipeline: pnl snapshot for %s: %w", pos.ID, err)
	}
	return nil
}

// intentAnnouncement is the wire shape published for each decided intent.
type intentAnnouncement struct {
	Intent domain.PaperIntent `json:"intent"`
	Fill   *domain.PaperFill  `json:"fill,omitempty"`
}

// announce publishes the outcome to the signal bus and the notifier. Both
// are best effort.
func (p *Processor) announce(ctx context.Context, intent domain.PaperIntent, fill *domain.PaperFill) {
	if p.bus != nil {
		payload, err := json.Marshal(intentAnnouncement{Intent: intent, Fill: fill})
		if err == nil {
			if err := p.bus.Publish(ctx, intentChannel, payload); err != nil {
				p.logger.Debug("intent publish failed", slog.String("error", err.Error()))
			}
			if err := p.bus.StreamAppend(ctx, intentStream, payload); err != nil {
				p.logger.Debug("intent stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	if p.notifier != nil {
		title, message := notify.PaperTradeMessage(intent, fill)
		if err := p.notifier.Notify(ctx, notify.EventPaperTrade, title, message); err != nil {
			p.logger.Debug("notification failed", slog.String("error", err.Error()))
		}
	}
}
