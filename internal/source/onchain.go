package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polygon"
	"github.com/shopspring/decimal"
)

// usdcAssetID identifies the collateral side of an exchange fill. When the
// maker asset is USDC the maker is buying tokens; when the taker asset is
// USDC the taker is buying.
const usdcAssetID = "0"

// collateralDecimals is the fixed-point scale of both USDC and outcome-token
// amounts in exchange logs.
const collateralDecimals = 6

// OnChainSource detects leader fills from CTF Exchange OrderFilled logs on
// Polygon. Events carry full chain identity, so dedupe keys are derived from
// (tx hash, log index) and are collision-proof.
type OnChainSource struct {
	watcher  *polygon.Watcher
	exchange string
	logger   *slog.Logger

	// byWallet indexes followed leaders by lower-cased wallet address.
	byWallet map[string]domain.Leader

	health  *health
	emitter *emitter

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewOnChainSource creates an OnChainSource following the given leaders.
func NewOnChainSource(watcher *polygon.Watcher, exchangeAddr string, leaders []domain.Leader, logger *slog.Logger) *OnChainSource {
	byWallet := make(map[string]domain.Leader, len(leaders))
	for _, l := range leaders {
		byWallet[strings.ToLower(l.Wallet)] = l
	}

	s := &OnChainSource{
		watcher:  watcher,
		exchange: exchangeAddr,
		logger:   logger.With(slog.String("component", "onchain_source")),
		byWallet: byWallet,
		// Unhealthy until the first subscription is live.
		health:  newHealth("onchain", false),
		emitter: newEmitter(),
		done:    make(chan struct{}),
	}

	watcher.OnFill(s.handleLog)
	watcher.OnStateChange(func(connected bool) {
		s.health.setHealthy(connected)
		if !connected {
			s.health.recordError()
		}
	})

	return s
}

// Kind implements FillSource.
func (s *OnChainSource) Kind() domain.FillSourceKind { return domain.FillSourceOnChain }

// Start launches the log watcher. The source reports unhealthy until the
// subscription is established and again whenever it drops; the watcher
// redials on its own.
func (s *OnChainSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("onchain source: already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		if err := s.watcher.Run(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("watcher exited", slog.String("error", err.Error()))
		}
		s.health.setHealthy(false)
	}()

	s.logger.Info("onchain source started", slog.Int("leaders", len(s.byWallet)))
	return nil
}

// Stop cancels the watcher and waits for it to exit. No handler is invoked
// after Stop returns.
func (s *OnChainSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-s.done
	}
	s.emitter.close()
	s.health.setHealthy(false)
	s.logger.Info("onchain source stopped")
	return nil
}

// IsHealthy implements FillSource.
func (s *OnChainSource) IsHealthy() bool { return s.health.isHealthy() }

// HealthSummary implements FillSource.
func (s *OnChainSource) HealthSummary() domain.HealthSummary { return s.health.summary() }

// OnFill implements FillSource.
func (s *OnChainSource) OnFill(h FillHandler) func() { return s.emitter.subscribe(h) }

// Poll implements FillSource. The on-chain source is purely subscription
// driven and has no catch-up sweep.
func (s *OnChainSource) Poll(ctx context.Context) (int, error) {
	return 0, nil
}

// handleLog normalizes a decoded exchange log into a LeaderFillEvent when
// either side of the fill is a followed leader, and emits it.
func (s *OnChainSource) handleLog(ev polygon.OrderFilledEvent) {
	leader, role, ok := s.matchLeader(ev)
	if !ok {
		return
	}

	fill, err := s.normalize(ev, leader, role)
	if err != nil {
		s.health.recordError()
		s.logger.Warn("dropping malformed fill log",
			slog.String("tx", ev.TxHash),
			slog.String("error", err.Error()),
		)
		return
	}

	s.emitter.emit(fill)
	s.health.recordEvent(fill.DetectedAt)
}

// matchLeader returns the followed leader participating in the fill, if any,
// together with its role.
func (s *OnChainSource) matchLeader(ev polygon.OrderFilledEvent) (domain.Leader, domain.LeaderRole, bool) {
	if l, ok := s.byWallet[strings.ToLower(ev.Maker)]; ok {
		return l, domain.RoleMaker, true
	}
	if l, ok := s.byWallet[strings.ToLower(ev.Taker)]; ok {
		return l, domain.RoleTaker, true
	}
	return domain.Leader{}, domain.RoleUnknown, false
}

// normalize converts a decoded log into a LeaderFillEvent with full chain
// identity.
func (s *OnChainSource) normalize(ev polygon.OrderFilledEvent, leader domain.Leader, role domain.LeaderRole) (domain.LeaderFillEvent, error) {
	makerAsset := ev.MakerAssetID.String()
	takerAsset := ev.TakerAssetID.String()

	// Exactly one side of a fill is collateral.
	if (makerAsset == usdcAssetID) == (takerAsset == usdcAssetID) {
		return domain.LeaderFillEvent{}, fmt.Errorf("no collateral leg (maker asset %s, taker asset %s)", makerAsset, takerAsset)
	}

	makerAmt := decimal.NewFromBigInt(ev.MakerAmountFilled, -collateralDecimals)
	takerAmt := decimal.NewFromBigInt(ev.TakerAmountFilled, -collateralDecimals)

	var (
		tokenID            string
		usdcSize, tokenQty decimal.Decimal
		makerSide          domain.OrderSide
	)
	if makerAsset == usdcAssetID {
		tokenID = takerAsset
		usdcSize, tokenQty = makerAmt, takerAmt
		makerSide = domain.SideBuy
	} else {
		tokenID = makerAsset
		usdcSize, tokenQty = takerAmt, makerAmt
		makerSide = domain.SideSell
	}
	if !tokenQty.IsPositive() {
		return domain.LeaderFillEvent{}, fmt.Errorf("zero token quantity in %s", ev.TxHash)
	}

	side := makerSide
	if role == domain.RoleTaker {
		if makerSide == domain.SideBuy {
			side = domain.SideSell
		} else {
			side = domain.SideBuy
		}
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return domain.LeaderFillEvent{}, fmt.Errorf("marshal raw log: %w", err)
	}

	now := time.Now()
	return domain.LeaderFillEvent{
		Leader:    leader,
		Source:    domain.FillSourceOnChain,
		DedupeKey: domain.OnChainDedupeKey(ev.TxHash, ev.LogIndex),
		Chain: &domain.ChainIdentity{
			Exchange:    s.exchange,
			BlockNumber: ev.BlockNumber,
			TxHash:      ev.TxHash,
			LogIndex:    ev.LogIndex,
			OrderHash:   ev.OrderHash,
			Maker:       ev.Maker,
			Taker:       ev.Taker,
		},
		Role:       role,
		TokenID:    tokenID,
		Side:       side,
		Price:      usdcSize.DivRound(tokenQty, 8),
		Size:       tokenQty,
		UsdcSize:   usdcSize,
		FillTs:     now,
		DetectedAt: now,
		Raw:        raw,
	}, nil
}
