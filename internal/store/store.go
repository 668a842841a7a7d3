// Package store holds the device-local cache of family records plus the
// durable blob slot used by the offline operation queue. All cross-component
// writes go through one Store value so a single implementation can serialize
// them.
package store

import (
	"context"
	"errors"

	"github.com/example/family-sync/internal/types"
)

// ErrNotFound is returned by delete operations targeting a missing record.
var ErrNotFound = errors.New("store: record not found")

// Store is the keyed record store shared by the reconciliation engine and the
// chat service. Lookups exist by local id (in-flight bookkeeping) and by
// remote id (matching pulled server data); the two identifier spaces are
// never conflated.
type Store interface {
	People(ctx context.Context) ([]types.Person, error)
	PersonByLocalID(ctx context.Context, localID string) (types.Person, bool, error)
	PersonByRemoteID(ctx context.Context, remoteID string) (types.Person, bool, error)
	PutPerson(ctx context.Context, p types.Person) error
	DeletePerson(ctx context.Context, localID string) error

	Measurements(ctx context.Context) ([]types.Measurement, error)
	MeasurementByLocalID(ctx context.Context, localID string) (types.Measurement, bool, error)
	MeasurementByRemoteID(ctx context.Context, remoteID string) (types.Measurement, bool, error)
	PutMeasurement(ctx context.Context, m types.Measurement) error
	DeleteMeasurement(ctx context.Context, localID string) error

	Milestones(ctx context.Context) ([]types.Milestone, error)
	MilestoneByLocalID(ctx context.Context, localID string) (types.Milestone, bool, error)
	MilestoneByRemoteID(ctx context.Context, remoteID string) (types.Milestone, bool, error)
	PutMilestone(ctx context.Context, m types.Milestone) error
	DeleteMilestone(ctx context.Context, localID string) error

	Photos(ctx context.Context) ([]types.Photo, error)
	PhotoByLocalID(ctx context.Context, localID string) (types.Photo, bool, error)
	PhotoByRemoteID(ctx context.Context, remoteID string) (types.Photo, bool, error)
	PutPhoto(ctx context.Context, p types.Photo) error
	DeletePhoto(ctx context.Context, localID string) error

	// Messages returns the cached chat history ordered by CreatedAt ascending.
	Messages(ctx context.Context) ([]types.ChatMessage, error)
	PutMessage(ctx context.Context, m types.ChatMessage) error
	DeleteMessage(ctx context.Context, localID string) error

	// Blob reads an opaque blob by key; a missing key yields (nil, nil).
	Blob(ctx context.Context, key string) ([]byte, error)
	// PutBlob atomically replaces the blob stored under key.
	PutBlob(ctx context.Context, key string, data []byte) error

	Close() error
}
