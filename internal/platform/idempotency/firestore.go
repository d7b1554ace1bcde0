package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection   = "checkout_idempotency"
	defaultTxAttempts   = 5
	defaultPurgeBatches = 100
)

// FirestoreStore shares keys across API instances through a Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// FirestoreOption customises FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding keys.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// NewFirestoreStore constructs a Firestore-backed Store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{client: client, collection: defaultCollection, attempts: defaultTxAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type firestoreEntry struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header"`
	Body        []byte              `firestore:"body"`
	CreatedAt   time.Time           `firestore:"created_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (e firestoreEntry) entry() Entry {
	return Entry{
		Key:         e.Key,
		Fingerprint: e.Fingerprint,
		State:       State(e.State),
		Status:      e.Status,
		Header:      e.Header,
		Body:        e.Body,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID(key))
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref := s.doc(key)

	var claim Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fresh := firestoreEntry{
			Key:         key,
			Fingerprint: fingerprint,
			State:       string(StateInFlight),
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			claim = Claim{Outcome: OutcomeAcquired, Entry: fresh.entry()}
			return tx.Set(ref, fresh)
		}
		if err != nil {
			return err
		}

		var stored firestoreEntry
		if err := snap.DataTo(&stored); err != nil {
			return err
		}
		existing := stored.entry()
		switch {
		case existing.expired(now):
			claim = Claim{Outcome: OutcomeAcquired, Entry: fresh.entry()}
			return tx.Set(ref, fresh)
		case existing.Fingerprint != fingerprint:
			return ErrKeyReuse
		case existing.State == StateDone:
			claim = Claim{Outcome: OutcomeReplay, Entry: existing}
		default:
			claim = Claim{Outcome: OutcomeBusy, Entry: existing}
		}
		return nil
	}, firestore.MaxAttempts(s.attempts))
	return claim, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Captured, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref := s.doc(key)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stored := firestoreEntry{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrKeyReuse
			}
		}
		stored.State = string(StateDone)
		stored.Status = resp.Status
		stored.Header = storableHeader(resp.Header)
		stored.Body = append([]byte(nil), resp.Body...)
		stored.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, stored)
	}, firestore.MaxAttempts(s.attempts))
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeBatches
	}
	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}
