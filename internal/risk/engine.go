// Package risk implements the admission gate evaluated for every candidate
// leader fill before any sizing happens. The checks are pure reads of current
// state; the engine mutates nothing.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/source"
)

// Verdict is the outcome of one admission evaluation. Reason is empty when
// Approved is true.
type Verdict struct {
	Approved bool
	Reason   string

	// SoftStaleQuote flags an approved fill whose quote passed staleness but
	// is past the fresh threshold.
	SoftStaleQuote bool
}

func approve() Verdict             { return Verdict{Approved: true} }
func reject(reason string) Verdict { return Verdict{Reason: reason} }

// SourceHealth is the merged health view the coordinator exposes.
type SourceHealth interface {
	SourceHealthy(kind domain.FillSourceKind) bool
	HasSource(kind domain.FillSourceKind) bool
}

// BookView is the quote-state surface the engine consumes.
type BookView interface {
	IsHealthy() bool
	QuoteAge(tokenID string) domain.QuoteAge
}

// PositionReader is the exposure-state subset of the position store.
type PositionReader interface {
	GetOpenByCondition(ctx context.Context, conditionID string) ([]domain.Position, error)
	CountOpenConditions(ctx context.Context) (int, error)
}

// Engine runs the short-circuiting admission checks. All dependencies are
// injected at construction; book may be nil when no book store is deployed,
// in which case book-health and quote-staleness checks always pass.
type Engine struct {
	triggerMode   source.TriggerMode
	bookStreaming bool

	sources   SourceHealth
	book      BookView
	positions PositionReader
	logger    *slog.Logger
}

// New builds an Engine. bookStreaming states whether the deployed book mode
// includes a streaming path, which makes book health mandatory.
func New(triggerMode source.TriggerMode, bookStreaming bool, sources SourceHealth, book BookView, positions PositionReader, logger *slog.Logger) *Engine {
	return &Engine{
		triggerMode:   triggerMode,
		bookStreaming: bookStreaming,
		sources:       sources,
		book:          book,
		positions:     positions,
		logger:        logger.With(slog.String("component", "risk_engine")),
	}
}

// Evaluate runs the admission checks in order and returns the first
// rejection, or approval. The error return is reserved for store failures;
// callers must treat it as a skip, never an approval.
func (e *Engine) Evaluate(ctx context.Context, ev domain.LeaderFillEvent, cfg domain.GuardrailConfig) (Verdict, error) {
	if v := e.checkMakerRole(ev, cfg); !v.Approved {
		return v, nil
	}

	v, err := e.checkExposure(ctx, ev, cfg)
	if err != nil {
		return reject(domain.ReasonStoreError), err
	}
	if !v.Approved {
		return v, nil
	}

	if v := e.checkDataHealth(ev); !v.Approved {
		return v, nil
	}

	return e.checkQuoteFreshness(ev), nil
}

// checkMakerRole rejects maker-side fills unless the guardrails opt in.
// Polling fills have no known role and always pass.
func (e *Engine) checkMakerRole(ev domain.LeaderFillEvent, cfg domain.GuardrailConfig) Verdict {
	if ev.Role == domain.RoleMaker && cfg.SkipMakerTrades {
		return reject(domain.ReasonMakerTrade)
	}
	return approve()
}

// checkExposure enforces the per-condition cost-basis cap and the global
// open-position count. Both caps are inclusive bounds. Adding to an
// already-open condition bypasses the count cap.
func (e *Engine) checkExposure(ctx context.Context, ev domain.LeaderFillEvent, cfg domain.GuardrailConfig) (Verdict, error) {
	open, err := e.positions.GetOpenByCondition(ctx, ev.ExposureKey())
	if err != nil {
		return Verdict{}, fmt.Errorf("risk: read open positions: %w", err)
	}

	basis := decimal.Zero
	for _, p := range open {
		basis = basis.Add(p.CostBasis)
	}

	target := ev.UsdcSize.Mul(cfg.MirrorRatio)
	if basis.Add(target).GreaterThan(cfg.MaxUsdcPerEvent) {
		return reject(domain.ReasonMaxEventExposure), nil
	}

	if len(open) == 0 {
		count, err := e.positions.CountOpenConditions(ctx)
		if err != nil {
			return Verdict{}, fmt.Errorf("risk: count open conditions: %w", err)
		}
		if count >= cfg.MaxOpenPositions {
			return reject(domain.ReasonMaxPositions), nil
		}
	}

	return approve(), nil
}

// checkDataHealth gates on the health of the data paths the configured modes
// depend on. In TriggerBoth an unhealthy on-chain source degrades instead of
// blocking: polling-derived fills keep flowing, with a warning.
func (e *Engine) checkDataHealth(ev domain.LeaderFillEvent) Verdict {
	if e.bookStreaming && (e.book == nil || !e.book.IsHealthy()) {
		return reject(domain.ReasonBookStoreUnhealthy)
	}

	switch e.triggerMode {
	case source.TriggerOnChain:
		if !e.sources.SourceHealthy(domain.FillSourceOnChain) {
			return reject(domain.ReasonPolygonUnhealthy)
		}
	case source.TriggerBoth:
		if e.sources.HasSource(domain.FillSourceOnChain) && !e.sources.SourceHealthy(domain.FillSourceOnChain) {
			e.logger.Warn("onchain source unhealthy, relying on polling detection",
				slog.String("dedupe_key", ev.DedupeKey),
			)
		}
	}

	return approve()
}

// checkQuoteFreshness rejects hard-stale instruments and flags soft-stale
// ones. Deployments without a book store pass unconditionally.
func (e *Engine) checkQuoteFreshness(ev domain.LeaderFillEvent) Verdict {
	if e.book == nil {
		return approve()
	}

	switch e.book.QuoteAge(ev.TokenID) {
	case domain.QuoteHardStale:
		return reject(domain.ReasonQuoteStale)
	case domain.QuoteSoftStale:
		e.logger.Warn("mirroring against soft-stale quote",
			slog.String("token_id", ev.TokenID),
			slog.String("dedupe_key", ev.DedupeKey),
		)
		v := approve()
		v.SoftStaleQuote = true
		return v
	default:
		return approve()
	}
}
