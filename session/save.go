package session

import (
	"context"
	"errors"

	"github.com/creastat/voiceflow"
)

// Save writes turns as the history for key, creating the record if needed.
// A concurrent writer is resolved by retrying once against the fresh
// version, so the last writer wins.
func Save(ctx context.Context, store Store, key Key, turns []voiceflow.Turn) error {
	err := save(ctx, store, key, turns)
	if errors.Is(err, voiceflow.ErrVersionConflict) || errors.Is(err, voiceflow.ErrNotFound) {
		err = save(ctx, store, key, turns)
	}
	return err
}

func save(ctx context.Context, store Store, key Key, turns []voiceflow.Turn) error {
	rec, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return store.Create(ctx, &Record{Key: key, Turns: turns})
	}
	rec.Turns = turns
	return store.Update(ctx, rec)
}

// Load returns the stored turns for key, or nil when there are none.
func Load(ctx context.Context, store Store, key Key) ([]voiceflow.Turn, error) {
	rec, err := store.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Turns, nil
}
