package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSSource streams ticker prices over a websocket and serves the latest tick
// per token from a cache. It is a secondary source: the feed falls through to
// it when the on-chain read fails, or ahead of it when listed first.
type WSSource struct {
	url     string
	dialer  *websocket.Dialer
	symbols map[common.Address]string // token -> stream symbol
	log     *zap.Logger

	mu    sync.RWMutex
	cache map[common.Address]Price
}

type wsTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TsMs   int64   `json:"ts_ms"`
}

func NewWSSource(url string, symbols map[common.Address]string, log *zap.Logger) *WSSource {
	return &WSSource{
		url: strings.TrimRight(url, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
		symbols: symbols,
		log:     log,
		cache:   make(map[common.Address]Price, len(symbols)),
	}
}

// Run connects, subscribes to every configured symbol and pumps ticks into
// the cache until ctx is done. Reconnects with a flat backoff.
func (s *WSSource) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.stream(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("pricefeed ws: stream ended, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *WSSource) stream(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})

	byToken := make(map[string]common.Address, len(s.symbols))
	params := make([]string, 0, len(s.symbols))
	for token, sym := range s.symbols {
		params = append(params, strings.ToUpper(sym))
		byToken[strings.ToUpper(sym)] = token
	}
	sub := struct {
		ID     int      `json:"id"`
		Method string   `json:"method"`
		Params []string `json:"params"`
	}{ID: 1, Method: "SUBSCRIBE", Params: params}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingStop:
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var tick wsTick
		if json.Unmarshal(data, &tick) != nil || tick.Price <= 0 {
			continue
		}
		token, ok := byToken[strings.ToUpper(tick.Symbol)]
		if !ok {
			continue
		}
		ts := time.Now()
		if tick.TsMs > 0 {
			ts = time.UnixMilli(tick.TsMs)
		}
		s.mu.Lock()
		s.cache[token] = Price{Value: tick.Price, Ts: ts}
		s.mu.Unlock()
	}
}

func (s *WSSource) Latest(_ context.Context, token common.Address) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[token]
	if !ok {
		return Price{}, fmt.Errorf("no tick yet for %s", token.Hex())
	}
	return p, nil
}
