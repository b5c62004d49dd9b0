package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slide-labs/slide-socialfi/internal/logging"
)

const (
	websocketReadLimitBytes = 1 << 20
	websocketWriteTimeout   = 5 * time.Second
	maxSlotStreamBackoff    = 30 * time.Second
)

// SlotStream follows the validator's slotSubscribe feed and forwards slot
// numbers. It reconnects with backoff until its context ends.
type SlotStream struct {
	endpoint       string
	reconnectDelay time.Duration
	logger         *slog.Logger
}

func NewSlotStream(endpoint string, logger *slog.Logger) *SlotStream {
	return &SlotStream{
		endpoint:       endpoint,
		reconnectDelay: time.Second,
		logger:         logging.OrDiscard(logger),
	}
}

type slotSubscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
}

type slotMessage struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Slot   uint64 `json:"slot"`
			Parent uint64 `json:"parent"`
			Root   uint64 `json:"root"`
		} `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Run blocks until ctx is done. Slots are sent without blocking; a full
// channel drops the update since consumers only care about the latest one.
func (s *SlotStream) Run(ctx context.Context, slots chan<- uint64) error {
	backoff := s.reconnectDelay
	for {
		err := s.consume(ctx, slots)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("slot stream disconnected", "endpoint", s.endpoint, "err", err, "retry_in", backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = nextBackoff(backoff, s.reconnectDelay)
	}
}

func (s *SlotStream) consume(ctx context.Context, slots chan<- uint64) error {
	conn, _, err := dialWebsocket(ctx, s.endpoint)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}
	defer conn.Close()
	stopClose := closeConnOnContextDone(ctx, conn)
	defer stopClose()

	if err := writeWebsocketJSON(conn, slotSubscribeRequest{JSONRPC: "2.0", ID: 1, Method: "slotSubscribe"}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("slot stream connected", "endpoint", s.endpoint)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var msg slotMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("slot subscription rejected: %d %s", msg.Error.Code, msg.Error.Message)
		}
		if msg.Method != "slotNotification" || msg.Params.Result.Slot == 0 {
			continue
		}

		select {
		case slots <- msg.Params.Result.Slot:
		default:
		}
	}
}

func dialWebsocket(ctx context.Context, endpoint string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadLimit(websocketReadLimitBytes)
	return conn, resp, nil
}

func writeWebsocketJSON(conn *websocket.Conn, value any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(value)
}

func closeConnOnContextDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
	}
}

func nextBackoff(current, floor time.Duration) time.Duration {
	if floor <= 0 {
		floor = time.Second
	}
	if current < floor {
		current = floor
	}
	next := current * 2
	if next > maxSlotStreamBackoff {
		return maxSlotStreamBackoff
	}
	return next
}
