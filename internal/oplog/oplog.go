// Package oplog is the durable queue of not-yet-acknowledged mutations. The
// whole queue is serialized as one JSON blob and rewritten after every
// mutating call, so a crash can never leave a partially written queue.
package oplog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/family-sync/internal/types"
)

// StorageKey is the fixed blob key the queue persists under.
const StorageKey = "sync.pending_operations"

// MaxRetries is the ceiling after which a repeatedly failing operation is
// dropped. Dropping is a deliberate data-loss tradeoff: a permanently invalid
// operation must not grow the queue forever.
const MaxRetries = 5

// BlobStore is the slice of the record store the log needs for persistence.
type BlobStore interface {
	Blob(ctx context.Context, key string) ([]byte, error)
	PutBlob(ctx context.Context, key string, data []byte) error
}

// Log is the pending-operation queue. All methods are safe for concurrent
// use; every mutation persists the full queue before returning.
type Log struct {
	mu     sync.Mutex
	blobs  BlobStore
	ops    []types.PendingOperation
	logger zerolog.Logger
}

// Open rehydrates the queue from storage. Corrupt or missing storage yields
// an empty log, never an error: losing the queue is recoverable, refusing to
// start is not.
func Open(ctx context.Context, blobs BlobStore, logger zerolog.Logger) *Log {
	l := &Log{blobs: blobs, logger: logger}

	data, err := blobs.Blob(ctx, StorageKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read pending operations; starting empty")
		return l
	}
	if len(data) == 0 {
		return l
	}
	if err := json.Unmarshal(data, &l.ops); err != nil {
		logger.Warn().Err(err).Msg("corrupt pending operations blob; starting empty")
		l.ops = nil
	}
	queueDepth.Set(float64(len(l.ops)))
	return l
}

// Enqueue appends an operation and persists the queue.
func (l *Log) Enqueue(ctx context.Context, op types.PendingOperation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
	return l.persist(ctx)
}

// Dequeue removes the operation with the given id, if present.
func (l *Log) Dequeue(ctx context.Context, opID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, op := range l.ops {
		if op.ID == opID {
			l.ops = append(l.ops[:i], l.ops[i+1:]...)
			break
		}
	}
	return l.persist(ctx)
}

// MarkFailed increments the retry counter for an operation. Once the counter
// reaches MaxRetries the operation is silently dropped.
func (l *Log) MarkFailed(ctx context.Context, opID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.ops {
		if l.ops[i].ID != opID {
			continue
		}
		l.ops[i].RetryCount++
		if l.ops[i].RetryCount >= MaxRetries {
			l.logger.Warn().
				Str("op_id", opID).
				Str("kind", string(l.ops[i].Kind)).
				Int("retries", l.ops[i].RetryCount).
				Msg("operation exceeded max retries, discarding")
			droppedOperations.WithLabelValues(string(l.ops[i].Kind)).Inc()
			l.ops = append(l.ops[:i], l.ops[i+1:]...)
		}
		break
	}
	return l.persist(ctx)
}

// RemoveForLocal drops every pending operation targeting the given local id.
// Deleting a never-synced record cancels its queued create and edits.
func (l *Log) RemoveForLocal(ctx context.Context, localID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.ops[:0]
	for _, op := range l.ops {
		if op.LocalID == localID {
			continue
		}
		kept = append(kept, op)
	}
	l.ops = kept
	return l.persist(ctx)
}

// Ready returns the operations eligible to run now: those with no dependency
// or whose dependency already has a server identity, ordered by creation
// time ascending.
func (l *Log) Ready(resolvedLocalIDs map[string]bool) []types.PendingOperation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ready []types.PendingOperation
	for _, op := range l.ops {
		if op.DependsOnLocalID != "" && !resolvedLocalIDs[op.DependsOnLocalID] {
			continue
		}
		ready = append(ready, op)
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready
}

// All returns a copy of every pending operation in insertion order.
func (l *Log) All() []types.PendingOperation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.PendingOperation(nil), l.ops...)
}

// Count returns the number of pending operations.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// ClearAll empties the queue.
func (l *Log) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
	return l.persist(ctx)
}

// persist writes the full queue under StorageKey. Callers hold l.mu.
func (l *Log) persist(ctx context.Context) error {
	data, err := json.Marshal(l.ops)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to encode pending operations")
		return err
	}
	if err := l.blobs.PutBlob(ctx, StorageKey, data); err != nil {
		l.logger.Error().Err(err).Msg("failed to persist pending operations")
		return err
	}
	queueDepth.Set(float64(len(l.ops)))
	return nil
}
