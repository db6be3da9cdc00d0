package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func TestPaperTradeMessage_Skip(t *testing.T) {
	intent := domain.PaperIntent{
		LeaderID:       "whale",
		TokenID:        "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		Side:           domain.SideBuy,
		Decision:       domain.DecisionSkip,
		DecisionReason: "SKIP_MAKER_TRADE",
	}

	title, message := PaperTradeMessage(intent, nil)

	assert.Contains(t, title, "Skipped BUY")
	assert.Contains(t, title, "…", "long token IDs are shortened")
	assert.Contains(t, message, "SKIP_MAKER_TRADE")
}

func TestPaperTradeMessage_FilledTrade(t *testing.T) {
	intent := domain.PaperIntent{
		LeaderID:    "whale",
		TokenID:     "tok",
		Side:        domain.SideBuy,
		Decision:    domain.DecisionTrade,
		TargetUsdc:  decimal.NewFromInt(10),
		LimitPrice:  decimal.RequireFromString("0.50"),
		MirrorRatio: decimal.RequireFromString("0.01"),
	}
	fill := &domain.PaperFill{
		Filled:         true,
		MatchSamePrice: true,
		FillPrice:      decimal.RequireFromString("0.50"),
		Size:           decimal.NewFromInt(20),
	}

	title, message := PaperTradeMessage(intent, fill)

	assert.Equal(t, "Paper BUY tok", title)
	assert.Contains(t, message, "target 10 USDC")
	assert.Contains(t, message, "filled 20 @ 0.5")
	assert.Contains(t, message, "leader's price")
}

func TestPaperTradeMessage_UnfilledTrade(t *testing.T) {
	intent := domain.PaperIntent{
		LeaderID:    "whale",
		TokenID:     "tok",
		Side:        domain.SideSell,
		Decision:    domain.DecisionTrade,
		TargetUsdc:  decimal.NewFromInt(10),
		LimitPrice:  decimal.RequireFromString("0.50"),
		MirrorRatio: decimal.RequireFromString("0.01"),
	}

	_, message := PaperTradeMessage(intent, &domain.PaperFill{})
	assert.Contains(t, message, "unfilled")
}

func TestNotifier_EventFilter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, []string{EventPaperTrade}, logger)

	require.NoError(t, n.Notify(context.Background(), EventPaperTrade, "t", "m"))
	require.NoError(t, n.Notify(context.Background(), EventSourceUnhealthy, "t", "m"))

	assert.Equal(t, 1, sender.sent, "events outside the allow-list are dropped")
}

func TestNotifier_NotifyAllBypassesFilter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, []string{EventPaperTrade}, logger)

	require.NoError(t, n.NotifyAll(context.Background(), "t", "m"))

	assert.Equal(t, 1, sender.sent, "critical alerts ignore the allow-list")
}

type recordingSender struct {
	sent int
}

func (r *recordingSender) Send(context.Context, string, string) error {
	r.sent++
	return nil
}

func (r *recordingSender) Name() string { return "recording" }
