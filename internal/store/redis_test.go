package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

type seenCmd struct {
	args   string
	ctxErr error
}

// downHook fails every command without touching the network and records
// what was sent.
type downHook struct {
	mu   sync.Mutex
	cmds []seenCmd
}

func (h *downHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *downHook) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		h.cmds = append(h.cmds, seenCmd{args: strings.TrimSpace(fmt.Sprintln(cmd.Args()...)), ctxErr: ctx.Err()})
		h.mu.Unlock()
		err := errors.New("redis: connection refused")
		cmd.SetErr(err)
		return err
	}
}

func (h *downHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *downHook) seen() []seenCmd {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]seenCmd(nil), h.cmds...)
}

func newDownClient(t *testing.T) (*redis.Client, *downHook) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	hook := &downHook{}
	rdb.AddHook(hook)
	t.Cleanup(func() { rdb.Close() })
	return rdb, hook
}

// cancelAfterCommit cancels the caller's context as soon as the primary
// commit returns, like a client that disconnects right after its order.
type cancelAfterCommit struct {
	store.Store
	cancel context.CancelFunc
}

func (c cancelAfterCommit) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := c.Store.WithTx(ctx, fn)
	c.cancel()
	return err
}

func TestCachedStore_InvalidatesAfterCallerCancels(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", "alice")
	rdb, hook := newDownClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cs := store.NewCachedStore(cancelAfterCommit{Store: ms, cancel: cancel}, rdb, time.Minute)

	err := cs.WithTx(ctx, func(tx store.Tx) error {
		return tx.SavePosition(ctx, &model.Position{UserID: "u1", Ticker: "AAPL", Shares: d(1), CostBasis: d(10)})
	})
	if err != nil {
		t.Fatalf("a failed invalidation must not fail a committed tx: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("expected caller context to be cancelled")
	}

	cmds := hook.seen()
	if len(cmds) != 1 {
		t.Fatalf("expected one command, got %+v", cmds)
	}
	if cmds[0].args != "del positions:u1" {
		t.Errorf("expected del positions:u1, got %q", cmds[0].args)
	}
	if cmds[0].ctxErr != nil {
		t.Errorf("invalidation ran on a cancelled context: %v", cmds[0].ctxErr)
	}

	if _, err := ms.GetPosition(context.Background(), "u1", "AAPL"); err != nil {
		t.Errorf("expected committed position: %v", err)
	}
}

func TestCachedStore_ListFallsBackToPrimary(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1", "alice")
	ctx := context.Background()
	if err := ms.WithTx(ctx, func(tx store.Tx) error {
		return tx.SavePosition(ctx, &model.Position{UserID: "u1", Ticker: "MSFT", Shares: d(2), CostBasis: d(800)})
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	rdb, _ := newDownClient(t)
	cs := store.NewCachedStore(ms, rdb, time.Minute)

	positions, err := cs.ListPositions(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(positions) != 1 || positions[0].Ticker != "MSFT" {
		t.Errorf("expected MSFT from primary, got %+v", positions)
	}
}
