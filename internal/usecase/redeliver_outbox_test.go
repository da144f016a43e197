package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
)

func queuedOutbox(t *testing.T, n int) *fakeOutbox {
	t.Helper()
	signer := crypto.NewService()
	key := testKey(t)
	outbox := &fakeOutbox{}
	for i := 0; i < n; i++ {
		record := sampleRecord()
		record.Seq = uint64(i)
		env, err := signer.SignRecord(record, key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if err := outbox.Enqueue(context.Background(), env, errors.New("boom")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	return outbox
}

func TestRedeliverDrainsInOrder(t *testing.T) {
	outbox := queuedOutbox(t, 3)
	ids := []string{outbox.entries[0].ID, outbox.entries[1].ID, outbox.entries[2].ID}
	fwd := &fakeForwarder{}
	ledger := &fakeLedger{}
	uc := &RedeliverOutbox{Outbox: outbox, Forwarder: fwd, Ledger: ledger}

	stats, err := uc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Delivered != 3 || len(outbox.entries) != 0 {
		t.Fatalf("unexpected stats %+v, remaining %d", stats, len(outbox.entries))
	}
	for i, id := range ids {
		if outbox.acked[i] != id {
			t.Fatalf("entry %d acked out of order: %s", i, outbox.acked[i])
		}
		if ledger.updates[id] != domain.DeliveryStatusDelivered {
			t.Fatalf("ledger not updated for %s", id)
		}
	}
}

func TestRedeliverStopsAtFirstFailure(t *testing.T) {
	outbox := queuedOutbox(t, 2)
	fwd := &fakeForwarder{err: errors.New("still down")}
	uc := &RedeliverOutbox{Outbox: outbox, Forwarder: fwd}

	stats, err := uc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Failed != 1 || len(fwd.calls) != 1 {
		t.Fatalf("expected a single failed attempt, got %+v with %d calls", stats, len(fwd.calls))
	}
	if outbox.entries[0].Attempts != 2 || outbox.entries[1].Attempts != 1 {
		t.Fatalf("unexpected attempts: %d %d", outbox.entries[0].Attempts, outbox.entries[1].Attempts)
	}
}

func TestRedeliverDeadLetters(t *testing.T) {
	outbox := queuedOutbox(t, 2)
	outbox.maxTries = 2
	dead := outbox.entries[0].ID
	ledger := &fakeLedger{}
	fwd := &fakeForwarder{err: errors.New("rejected")}
	uc := &RedeliverOutbox{Outbox: outbox, Forwarder: fwd, Ledger: ledger}

	stats, err := uc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Dead != 2 {
		t.Fatalf("expected both entries dead-lettered, got %+v", stats)
	}
	if ledger.updates[dead] != domain.DeliveryStatusDead {
		t.Fatalf("ledger should mark %s dead, got %s", dead, ledger.updates[dead])
	}
}

func TestRedeliverRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uc := &RedeliverOutbox{Outbox: &fakeOutbox{}, Forwarder: &fakeForwarder{}}
	if err := uc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
