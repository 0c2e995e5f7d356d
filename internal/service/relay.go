// Package service contains the relay application service that sits between
// the transport and the durable code store.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mkrivosheev/passrelay/internal/ingest"
	"github.com/mkrivosheev/passrelay/internal/queue"
	"github.com/mkrivosheev/passrelay/internal/repository"
)

// Relay coordinates the durable store and its in-memory mirror. This is the
// interface the ingestion side calls and the sessions serve from.
type Relay struct {
	store  repository.CodeStore
	mirror *queue.Mirror
	log    *zap.Logger
}

// NewRelay constructs the relay service.
func NewRelay(store repository.CodeStore, mirror *queue.Mirror, log *zap.Logger) *Relay {
	return &Relay{store: store, mirror: mirror, log: log}
}

// Warm repopulates the in-memory mirror from the store. Called once at startup.
func (r *Relay) Warm(ctx context.Context) error {
	if err := r.store.ForEachCode(ctx, func(code string) error {
		r.mirror.Warm(code)
		return nil
	}); err != nil {
		return err
	}
	r.log.Info("mirror warmed", zap.Int("codes", r.mirror.Len()))
	return nil
}

// PutCode normalizes and stores an inbound code, returning the normalized
// form. Duplicates are a no-op; storage failures are surfaced, never dropped.
func (r *Relay) PutCode(ctx context.Context, code string) (string, error) {
	code = ingest.Normalize(code)
	added, err := r.mirror.Put(ctx, code)
	if err != nil {
		r.log.Error("insert code failed", zap.String("code", code), zap.Error(err))
		return "", err
	}
	if added {
		r.log.Debug("insert code", zap.String("code", code))
	}
	return code, nil
}

// MarkCode updates the fully-redeemed/other flags of a stored code. A flagged
// code is evicted from the mirror: it is no longer servable, so the legacy
// fetch path must not hand it out either.
func (r *Relay) MarkCode(ctx context.Context, code string, fullyRedeemed, other bool) error {
	code = ingest.Normalize(code)
	if err := r.store.MarkCode(ctx, code, fullyRedeemed, other); err != nil {
		r.log.Error("mark code failed", zap.String("code", code), zap.Error(err))
		return err
	}
	if fullyRedeemed || other {
		r.mirror.Remove(code)
	}
	return nil
}

// RequestNext advances the client's cursor and returns the next code, or
// errs.ErrNoCode when the walk is exhausted.
func (r *Relay) RequestNext(ctx context.Context, clientID string) (string, error) {
	return r.store.RequestNextCode(ctx, clientID)
}

// FetchHead exposes the head of the legacy FIFO queue without removing it.
func (r *Relay) FetchHead() (string, error) {
	return r.mirror.Peek()
}

// PopHead removes the previously fetched head and deletes it from the store.
func (r *Relay) PopHead(ctx context.Context) (string, error) {
	return r.mirror.Pop(ctx)
}
