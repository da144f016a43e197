package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
)

const (
	pendingPrefix = "pending/"
	deadPrefix    = "dead/"
	indexPrefix   = "index/"
)

// Outbox keeps envelopes that could not be delivered. The canonical payload is
// stored byte for byte so the redelivered signature still verifies.
type Outbox struct {
	db          *badger.DB
	maxAttempts int
	now         func() time.Time
}

type entry struct {
	ID         string    `json:"id"`
	Canonical  []byte    `json:"canonical"`
	Signature  string    `json:"signature"`
	KID        string    `json:"kid"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Options struct {
	Dir         string
	InMemory    bool
	MaxAttempts int
	Now         func() time.Time
}

func Open(opts Options) (*Outbox, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Dir) != "":
		bopts = badger.DefaultOptions(opts.Dir)
	default:
		return nil, errors.New("outbox dir is required")
	}
	bopts.Logger = nil
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Outbox{db: db, maxAttempts: opts.MaxAttempts, now: now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func pendingKey(enqueuedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", pendingPrefix, enqueuedAt.UnixNano(), id))
}

func indexKey(id string) []byte {
	return []byte(indexPrefix + id)
}

func (o *Outbox) Enqueue(_ context.Context, env domain.SignedEnvelope, cause error) error {
	if env.ID() == "" {
		return errors.New("envelope id is required")
	}
	e := entry{
		ID:         env.ID(),
		Canonical:  env.CanonicalPayload(),
		Signature:  env.Signature(),
		KID:        env.KeyID(),
		Attempts:   1,
		EnqueuedAt: o.now().UTC(),
	}
	if cause != nil {
		e.LastError = cause.Error()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := pendingKey(e.EnqueuedAt, e.ID)
	return o.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(indexKey(e.ID)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, payload); err != nil {
			return err
		}
		return txn.Set(indexKey(e.ID), key)
	})
}

// Pending returns up to limit entries, oldest first.
func (o *Outbox) Pending(_ context.Context, limit int) ([]domain.PendingDelivery, error) {
	var out []domain.PendingDelivery
	err := o.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(pendingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var e entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			env, err := crypto.RestoreEnvelope(e.ID, e.Canonical, e.Signature, e.KID)
			if err != nil {
				return fmt.Errorf("outbox entry %s: %w", e.ID, err)
			}
			out = append(out, domain.PendingDelivery{
				ID:         e.ID,
				Envelope:   env,
				Attempts:   e.Attempts,
				LastError:  e.LastError,
				EnqueuedAt: e.EnqueuedAt,
			})
		}
		return nil
	})
	return out, err
}

func (o *Outbox) Ack(_ context.Context, id string) error {
	return o.db.Update(func(txn *badger.Txn) error {
		key, err := lookup(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
}

// MarkAttempt records a failed redelivery. It reports true when the entry
// exhausted its attempts and was moved to the dead-letter prefix.
func (o *Outbox) MarkAttempt(_ context.Context, id string, cause error) (bool, error) {
	dead := false
	err := o.db.Update(func(txn *badger.Txn) error {
		key, err := lookup(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var e entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return err
		}
		e.Attempts++
		if cause != nil {
			e.LastError = cause.Error()
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if o.maxAttempts > 0 && e.Attempts >= o.maxAttempts {
			dead = true
			deadKey := []byte(deadPrefix + strings.TrimPrefix(string(key), pendingPrefix))
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(indexKey(id)); err != nil {
				return err
			}
			return txn.Set(deadKey, payload)
		}
		return txn.Set(key, payload)
	})
	return dead, err
}

func (o *Outbox) Len(_ context.Context) (int, error) {
	return o.count(pendingPrefix)
}

func (o *Outbox) DeadLen(_ context.Context) (int, error) {
	return o.count(deadPrefix)
}

func (o *Outbox) count(prefix string) (int, error) {
	n := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func lookup(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
