// Package polygon watches the Polymarket CTF Exchange contract on Polygon
// for OrderFilled log events over a WebSocket RPC endpoint.
package polygon

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	// reconnectDelay is the base delay before redialing the RPC endpoint.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for redials.
	maxReconnectDelay = 60 * time.Second

	// dialTimeout bounds each RPC dial attempt.
	dialTimeout = 15 * time.Second
)

// exchangeABIJSON is the fragment of the CTF Exchange ABI needed to decode
// OrderFilled events.
const exchangeABIJSON = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true,  "name": "orderHash",         "type": "bytes32"},
		{"indexed": true,  "name": "maker",             "type": "address"},
		{"indexed": true,  "name": "taker",             "type": "address"},
		{"indexed": false, "name": "makerAssetId",      "type": "uint256"},
		{"indexed": false, "name": "takerAssetId",      "type": "uint256"},
		{"indexed": false, "name": "makerAmountFilled", "type": "uint256"},
		{"indexed": false, "name": "takerAmountFilled", "type": "uint256"},
		{"indexed": false, "name": "fee",               "type": "uint256"}
	],
	"name": "OrderFilled",
	"type": "event"
}]`

// OrderFilledEvent is a decoded CTF Exchange fill log.
type OrderFilledEvent struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	OrderHash   string
	Maker       string
	Taker       string

	MakerAssetID      *big.Int
	TakerAssetID      *big.Int
	MakerAmountFilled *big.Int
	TakerAmountFilled *big.Int
	Fee               *big.Int
}

// FillHandler receives each decoded OrderFilled event.
type FillHandler func(OrderFilledEvent)

// StateHandler is called on subscription state transitions, true when the
// log subscription is live and false when it drops.
type StateHandler func(connected bool)

// Watcher maintains an eth_subscribe log subscription on the exchange
// contract, decoding OrderFilled events and redialing with capped
// exponential backoff when the connection drops.
type Watcher struct {
	rpcURL   string
	exchange common.Address
	abi      abi.ABI
	topic    common.Hash
	logger   *slog.Logger

	handlerMu     sync.RWMutex
	fillHandlers  []FillHandler
	stateHandlers []StateHandler
}

// NewWatcher creates a Watcher for the given WebSocket RPC URL and exchange
// contract address.
func NewWatcher(rpcWsURL, exchangeAddr string, logger *slog.Logger) (*Watcher, error) {
	parsed, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("polygon: parse exchange abi: %w", err)
	}
	if !common.IsHexAddress(exchangeAddr) {
		return nil, fmt.Errorf("polygon: invalid exchange address %q", exchangeAddr)
	}

	return &Watcher{
		rpcURL:   rpcWsURL,
		exchange: common.HexToAddress(exchangeAddr),
		abi:      parsed,
		topic:    parsed.Events["OrderFilled"].ID,
		logger:   logger.With(slog.String("component", "polygon_watcher")),
	}, nil
}

// OnFill registers a handler for decoded fill events.
func (w *Watcher) OnFill(h FillHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.fillHandlers = append(w.fillHandlers, h)
}

// OnStateChange registers a handler for subscription state transitions.
func (w *Watcher) OnStateChange(h StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.stateHandlers = append(w.stateHandlers, h)
}

// Run blocks, maintaining the log subscription until the context is
// cancelled. Connection loss is not fatal: the watcher flips its state to
// disconnected and redials with backoff.
func (w *Watcher) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		err := w.subscribeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.notifyState(false)
		w.logger.Warn("log subscription dropped, redialing",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// subscribeOnce dials, subscribes, and consumes logs until the subscription
// fails or the context is cancelled. A successful subscription resets the
// caller's backoff by returning only on failure.
func (w *Watcher) subscribeOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	client, err := ethclient.DialContext(dialCtx, w.rpcURL)
	cancel()
	if err != nil {
		return fmt.Errorf("polygon: dial %s: %w", w.rpcURL, err)
	}
	defer client.Close()

	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.exchange},
		Topics:    [][]common.Hash{{w.topic}},
	}

	logs := make(chan types.Log, 256)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("polygon: subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	w.notifyState(true)
	w.logger.Info("subscribed to exchange fill logs",
		slog.String("exchange", w.exchange.Hex()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("polygon: subscription: %w", err)
		case lg := <-logs:
			if lg.Removed {
				// Reorged-out log; the canonical fill arrives again.
				continue
			}
			ev, err := w.decode(lg)
			if err != nil {
				w.logger.Warn("dropping undecodable fill log",
					slog.String("tx", lg.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			w.dispatch(ev)
		}
	}
}

// decode unpacks a raw log into an OrderFilledEvent.
func (w *Watcher) decode(lg types.Log) (OrderFilledEvent, error) {
	if len(lg.Topics) != 4 {
		return OrderFilledEvent{}, fmt.Errorf("expected 4 topics, got %d", len(lg.Topics))
	}

	values, err := w.abi.Events["OrderFilled"].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return OrderFilledEvent{}, fmt.Errorf("unpack data: %w", err)
	}
	if len(values) != 5 {
		return OrderFilledEvent{}, fmt.Errorf("expected 5 data fields, got %d", len(values))
	}

	ev := OrderFilledEvent{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		OrderHash:   lg.Topics[1].Hex(),
		Maker:       common.HexToAddress(lg.Topics[2].Hex()).Hex(),
		Taker:       common.HexToAddress(lg.Topics[3].Hex()).Hex(),
	}

	var ok bool
	if ev.MakerAssetID, ok = values[0].(*big.Int); !ok {
		return OrderFilledEvent{}, fmt.Errorf("makerAssetId: unexpected type %T", values[0])
	}
	if ev.TakerAssetID, ok = values[1].(*big.Int); !ok {
		return OrderFilledEvent{}, fmt.Errorf("takerAssetId: unexpected type %T", values[1])
	}
	if ev.MakerAmountFilled, ok = values[2].(*big.Int); !ok {
		return OrderFilledEvent{}, fmt.Errorf("makerAmountFilled: unexpected type %T", values[2])
	}
	if ev.TakerAmountFilled, ok = values[3].(*big.Int); !ok {
		return OrderFilledEvent{}, fmt.Errorf("takerAmountFilled: unexpected type %T", values[3])
	}
	if ev.Fee, ok = values[4].(*big.Int); !ok {
		return OrderFilledEvent{}, fmt.Errorf("fee: unexpected type %T", values[4])
	}

	return ev, nil
}

// dispatch forwards a decoded event to all registered fill handlers.
func (w *Watcher) dispatch(ev OrderFilledEvent) {
	w.handlerMu.RLock()
	handlers := w.fillHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// notifyState forwards a state transition to all registered state handlers.
func (w *Watcher) notifyState(connected bool) {
	w.handlerMu.RLock()
	handlers := w.stateHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(connected)
	}
}
