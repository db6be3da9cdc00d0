package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Event types emitted by the pipeline. The configured allow-list filters on
// these values.
const (
	EventPaperTrade      = "paper_trade"
	EventSourceUnhealthy = "source_unhealthy"
	EventError           = "error"
)

// PaperTradeMessage renders the notification for a decided fill. Skips are
// summarized in one line; trades include sizing and simulated execution.
func PaperTradeMessage(intent domain.PaperIntent, fill *domain.PaperFill) (title, message string) {
	short := intent.TokenID
	if len(short) > 12 {
		short = short[:12] + "…"
	}

	if intent.Decision == domain.DecisionSkip {
		title = fmt.Sprintf("Skipped %s %s", intent.Side, short)
		message = fmt.Sprintf("leader %s, reason %s", intent.LeaderID, intent.DecisionReason)
		return title, message
	}

	var b strings.Builder
	fmt.Fprintf(&b, "leader %s mirrored at ratio %s\n", intent.LeaderID, intent.MirrorRatio.String())
	fmt.Fprintf(&b, "target %s USDC, limit %s", intent.TargetUsdc.String(), intent.LimitPrice.String())

	if fill != nil {
		if fill.Filled {
			fmt.Fprintf(&b, "\nfilled %s @ %s", fill.Size.String(), fill.FillPrice.String())
			if fill.MatchSamePrice {
				b.WriteString(" (leader's price)")
			}
		} else {
			b.WriteString("\nunfilled: no crossing liquidity")
		}
	}

	return fmt.Sprintf("Paper %s %s", intent.Side, short), b.String()
}

// SourceUnhealthyMessage renders the alert for a detection source or the
// book store going unhealthy.
func SourceUnhealthyMessage(sum domain.HealthSummary) (title, message string) {
	title = fmt.Sprintf("Source unhealthy: %s", sum.Name)
	message = fmt.Sprintf("events %d, errors %d, last event %s",
		sum.EventsProcessed, sum.ErrorCount, sum.LastEventAt.Format("15:04:05 MST"))
	return title, message
}
