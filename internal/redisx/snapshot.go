package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/rockband-pos/internal/board"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore shares the kitchen board with the terminal API so GET
// /board does not hit the backend on every call.
type SnapshotStore struct {
	rdb redis.Cmdable
}

func NewSnapshotStore(rdb redis.Cmdable) *SnapshotStore {
	return &SnapshotStore{rdb: rdb}
}

func (s *SnapshotStore) Save(ctx context.Context, snap board.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, KeyBoardSnapshot, b, TTLBoardSnapshot).Err(); err != nil {
		return fmt.Errorf("save board snapshot: %w", err)
	}
	return nil
}

// Load reports false when no snapshot is cached.
func (s *SnapshotStore) Load(ctx context.Context) (board.Snapshot, bool, error) {
	var snap board.Snapshot
	b, err := s.rdb.Get(ctx, KeyBoardSnapshot).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("load board snapshot: %w", err)
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, false, fmt.Errorf("decode board snapshot: %w", err)
	}
	return snap, true, nil
}
