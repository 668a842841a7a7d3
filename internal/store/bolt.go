package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/example/family-sync/internal/types"
)

var (
	bucketPeople       = []byte("people")
	bucketMeasurements = []byte("measurements")
	bucketMilestones   = []byte("milestones")
	bucketPhotos       = []byte("photos")
	bucketMessages     = []byte("messages")
	bucketBlobs        = []byte("blobs")
)

// Bolt is the bbolt-backed Store implementation. Records are stored as JSON
// keyed by local id; remote-id lookups scan the bucket, which is fine at
// family-album scale.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if necessary) the local database file and ensures
// all buckets exist.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPeople, bucketMeasurements, bucketMilestones, bucketPhotos, bucketMessages, bucketBlobs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// Close closes the underlying database file.
func (b *Bolt) Close() error { return b.db.Close() }

func putJSON[T any](db *bbolt.DB, bucket []byte, key string, rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func getJSON[T any](db *bbolt.DB, bucket []byte, key string) (T, bool, error) {
	var rec T
	var found bool
	err := db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode record %s: %w", key, err)
		}
		found = true
		return nil
	})
	return rec, found, err
}

func listJSON[T any](db *bbolt.DB, bucket []byte) ([]T, error) {
	var out []T
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var rec T
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %s: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func deleteKey(db *bbolt.DB, bucket []byte, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucket)
		if bkt.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return bkt.Delete([]byte(key))
	})
}

func findByRemoteID[T any](db *bbolt.DB, bucket []byte, remoteID string, idOf func(T) string) (T, bool, error) {
	var zero T
	if remoteID == "" {
		return zero, false, nil
	}
	records, err := listJSON[T](db, bucket)
	if err != nil {
		return zero, false, err
	}
	for _, rec := range records {
		if idOf(rec) == remoteID {
			return rec, true, nil
		}
	}
	return zero, false, nil
}

func (b *Bolt) People(context.Context) ([]types.Person, error) {
	return listJSON[types.Person](b.db, bucketPeople)
}

func (b *Bolt) PersonByLocalID(_ context.Context, localID string) (types.Person, bool, error) {
	return getJSON[types.Person](b.db, bucketPeople, localID)
}

func (b *Bolt) PersonByRemoteID(_ context.Context, remoteID string) (types.Person, bool, error) {
	return findByRemoteID(b.db, bucketPeople, remoteID, func(p types.Person) string { return p.RemoteID })
}

func (b *Bolt) PutPerson(_ context.Context, p types.Person) error {
	return putJSON(b.db, bucketPeople, p.LocalID, p)
}

func (b *Bolt) DeletePerson(_ context.Context, localID string) error {
	return deleteKey(b.db, bucketPeople, localID)
}

func (b *Bolt) Measurements(context.Context) ([]types.Measurement, error) {
	return listJSON[types.Measurement](b.db, bucketMeasurements)
}

func (b *Bolt) MeasurementByLocalID(_ context.Context, localID string) (types.Measurement, bool, error) {
	return getJSON[types.Measurement](b.db, bucketMeasurements, localID)
}

func (b *Bolt) MeasurementByRemoteID(_ context.Context, remoteID string) (types.Measurement, bool, error) {
	return findByRemoteID(b.db, bucketMeasurements, remoteID, func(m types.Measurement) string { return m.RemoteID })
}

func (b *Bolt) PutMeasurement(_ context.Context, m types.Measurement) error {
	return putJSON(b.db, bucketMeasurements, m.LocalID, m)
}

func (b *Bolt) DeleteMeasurement(_ context.Context, localID string) error {
	return deleteKey(b.db, bucketMeasurements, localID)
}

func (b *Bolt) Milestones(context.Context) ([]types.Milestone, error) {
	return listJSON[types.Milestone](b.db, bucketMilestones)
}

func (b *Bolt) MilestoneByLocalID(_ context.Context, localID string) (types.Milestone, bool, error) {
	return getJSON[types.Milestone](b.db, bucketMilestones, localID)
}

func (b *Bolt) MilestoneByRemoteID(_ context.Context, remoteID string) (types.Milestone, bool, error) {
	return findByRemoteID(b.db, bucketMilestones, remoteID, func(m types.Milestone) string { return m.RemoteID })
}

func (b *Bolt) PutMilestone(_ context.Context, m types.Milestone) error {
	return putJSON(b.db, bucketMilestones, m.LocalID, m)
}

func (b *Bolt) DeleteMilestone(_ context.Context, localID string) error {
	return deleteKey(b.db, bucketMilestones, localID)
}

func (b *Bolt) Photos(context.Context) ([]types.Photo, error) {
	return listJSON[types.Photo](b.db, bucketPhotos)
}

func (b *Bolt) PhotoByLocalID(_ context.Context, localID string) (types.Photo, bool, error) {
	return getJSON[types.Photo](b.db, bucketPhotos, localID)
}

func (b *Bolt) PhotoByRemoteID(_ context.Context, remoteID string) (types.Photo, bool, error) {
	return findByRemoteID(b.db, bucketPhotos, remoteID, func(p types.Photo) string { return p.RemoteID })
}

func (b *Bolt) PutPhoto(_ context.Context, p types.Photo) error {
	return putJSON(b.db, bucketPhotos, p.LocalID, p)
}

func (b *Bolt) DeletePhoto(_ context.Context, localID string) error {
	return deleteKey(b.db, bucketPhotos, localID)
}

func (b *Bolt) Messages(context.Context) ([]types.ChatMessage, error) {
	msgs, err := listJSON[types.ChatMessage](b.db, bucketMessages)
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (b *Bolt) PutMessage(_ context.Context, m types.ChatMessage) error {
	return putJSON(b.db, bucketMessages, m.LocalID, m)
}

func (b *Bolt) DeleteMessage(_ context.Context, localID string) error {
	return deleteKey(b.db, bucketMessages, localID)
}

func (b *Bolt) Blob(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get([]byte(key))
		if data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	return out, err
}

func (b *Bolt) PutBlob(_ context.Context, key string, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(key), data)
	})
}
