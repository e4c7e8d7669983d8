package audit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLogUserCommandAndSnapshot(t *testing.T) {
	cfg := DefaultConfig("test-server", time.Now())
	l := New(cfg, nil, nil)
	ctx := context.Background()
	now := time.Now()

	if err := l.LogUserCommand(ctx, 1, now, "u1", CmdAdd); err != nil {
		t.Fatalf("log user command: %v", err)
	}

	snap := l.Snapshot("u1")
	if len(snap) != 1 || snap[0].Command != CmdAdd {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestEmitRejectsBadTransactionNum(t *testing.T) {
	cfg := DefaultConfig("test-server", time.Now())
	l := New(cfg, nil, nil)

	err := l.LogUserCommand(context.Background(), 0, time.Now(), "u1", CmdAdd)
	if err == nil {
		t.Fatal("expected validation error for transactionNum <= 0")
	}
}

func TestEmitRejectsTimestampOutsideWindow(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig("test-server", now)
	l := New(cfg, nil, nil)

	farFuture := now.Add(2 * 365 * 24 * time.Hour)
	err := l.LogUserCommand(context.Background(), 1, farFuture, "u1", CmdAdd)
	if err == nil {
		t.Fatal("expected validation error for out-of-window timestamp")
	}
}

func TestEmitRejectsOversizedStockSymbol(t *testing.T) {
	cfg := DefaultConfig("test-server", time.Now())
	l := New(cfg, nil, nil)

	err := l.LogQuoteServerHit(context.Background(), 1, time.Now(), "u1", "TOOLONG", "10.00", time.Now().UnixMilli(), "key")
	if err == nil {
		t.Fatal("expected validation error for a stock symbol over 3 characters")
	}
}

func TestWriteDumplogProducesWellFormedXML(t *testing.T) {
	cfg := DefaultConfig("test-server", time.Now())
	l := New(cfg, nil, nil)
	ctx := context.Background()
	now := time.Now()

	_ = l.LogUserCommand(ctx, 1, now, "u1", CmdBuy)
	_ = l.LogErrorEvent(ctx, 2, now, "u1", CmdSell, "insufficient shares")

	dir := t.TempDir()
	path, err := l.WriteDumplog(ctx, dir, "dumplog", "u1", now)
	if err != nil {
		t.Fatalf("write dumplog: %v", err)
	}
	if !strings.HasSuffix(path, ".xml") {
		t.Fatalf("expected .xml suffix, got %s", path)
	}
}
