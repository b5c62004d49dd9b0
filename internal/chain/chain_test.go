package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"

	"github.com/slide-labs/slide-socialfi/internal/config"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// newRPCServer answers JSON-RPC calls with the result produced by respond.
func newRPCServer(t *testing.T, respond func(method string) (any, time.Duration)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, delay := respond(req.Method)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestLedger(url string, timeout time.Duration) *RPCLedger {
	env := config.Environment{RPCURL: url, Commitment: rpc.CommitmentConfirmed}
	return NewRPCLedger(env, timeout, config.TxConfig{}, nil)
}

func TestRPCLedgerGetSlot(t *testing.T) {
	srv := newRPCServer(t, func(method string) (any, time.Duration) {
		if method != "getSlot" {
			t.Errorf("method = %q", method)
		}
		return 321, 0
	})

	slot, err := newTestLedger(srv.URL, time.Second).GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 321 {
		t.Fatalf("slot = %d", slot)
	}
}

func TestRPCLedgerDeadlineIsTransportError(t *testing.T) {
	srv := newRPCServer(t, func(string) (any, time.Duration) {
		return 1, 2 * time.Second
	})

	_, err := newTestLedger(srv.URL, 50*time.Millisecond).GetSlot(context.Background())
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestRPCLedgerGetMultipleAccounts(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	srv := newRPCServer(t, func(method string) (any, time.Duration) {
		return map[string]any{
			"context": map[string]any{"slot": 99},
			"value": []any{
				nil,
				map[string]any{
					"lamports":   7,
					"owner":      owner.String(),
					"data":       []string{"AQID", "base64"},
					"executable": false,
					"rentEpoch":  0,
				},
			},
		}, 0
	})

	keys := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	batch, err := newTestLedger(srv.URL, time.Second).GetMultipleAccounts(context.Background(), keys)
	if err != nil {
		t.Fatalf("GetMultipleAccounts: %v", err)
	}
	if batch.Slot != 99 {
		t.Errorf("slot = %d", batch.Slot)
	}
	if batch.Accounts[0] != nil {
		t.Errorf("missing account decoded as %+v", batch.Accounts[0])
	}
	got := batch.Accounts[1]
	if got == nil || !got.Owner.Equals(owner) || got.Lamports != 7 || string(got.Data) != "\x01\x02\x03" {
		t.Fatalf("account = %+v", got)
	}
}

func TestRPCLedgerGetAccountNotFound(t *testing.T) {
	srv := newRPCServer(t, func(string) (any, time.Duration) {
		return map[string]any{"context": map[string]any{"slot": 5}, "value": nil}, 0
	})

	_, err := newTestLedger(srv.URL, time.Second).GetAccount(context.Background(), solana.NewWallet().PublicKey())
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestKeypairSignerSignsForPayer(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey: %v", err)
	}
	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	body, _ := json.Marshal(raw)
	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write keypair: %v", err)
	}

	signer, err := LoadKeypairSigner(path)
	if err != nil {
		t.Fatalf("LoadKeypairSigner: %v", err)
	}
	if !signer.PublicKey().Equals(key.PublicKey()) {
		t.Fatalf("public key = %s, want %s", signer.PublicKey(), key.PublicKey())
	}

	ix := solana.NewInstruction(
		solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"),
		solana.AccountMetaSlice{solana.NewAccountMeta(signer.PublicKey(), true, true)},
		[]byte("hi"),
	)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if err := signer.SignTransaction(context.Background(), tx); err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	if len(tx.Signatures) != 1 {
		t.Fatalf("signatures = %d", len(tx.Signatures))
	}
	if err := tx.VerifySignatures(); err != nil {
		t.Fatalf("VerifySignatures: %v", err)
	}
}

func TestSlotStreamForwardsNotifications(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req slotSubscribeRequest
		if err := conn.ReadJSON(&req); err != nil || req.Method != "slotSubscribe" {
			return
		}
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "result": 3, "id": req.ID})
		for _, slot := range []uint64{10, 11} {
			_ = conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "slotNotification",
				"params": map[string]any{
					"result":       map[string]any{"slot": slot, "parent": slot - 1, "root": slot - 32},
					"subscription": 3,
				},
			})
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slots := make(chan uint64, 4)
	stream := NewSlotStream("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, slots) }()

	for _, want := range []uint64{10, 11} {
		select {
		case got := <-slots:
			if got != want {
				t.Fatalf("slot = %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for slot %d", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(time.Second, time.Second); got != 2*time.Second {
		t.Fatalf("got %s", got)
	}
	if got := nextBackoff(time.Minute, time.Second); got != maxSlotStreamBackoff {
		t.Fatalf("got %s", got)
	}
}
