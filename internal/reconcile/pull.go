package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/family-sync/internal/api"
	"github.com/example/family-sync/internal/types"
)

// PullFamilyData fetches the authoritative family snapshot and makes the
// local cache match it. Server data always wins for synced records; records
// that never reached the server are left untouched. The outcome is recorded
// in Status so a standalone pull keeps LastSync and Err accurate.
//
// Records are applied one put at a time: a concurrent reader can observe a
// pull in progress. The store has a single writer, so the end state is
// always the snapshot.
func (e *Engine) PullFamilyData(ctx context.Context) error {
	if !e.network.Online() {
		return nil
	}

	err := e.pull(ctx)
	e.mu.Lock()
	if err != nil {
		e.syncErr = err.Error()
	} else {
		e.syncErr = ""
		e.lastSync = time.Now()
	}
	e.mu.Unlock()
	return err
}

func (e *Engine) pull(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "reconcile.PullFamilyData")
	defer span.End()
	start := time.Now()
	defer func() { syncDuration.WithLabelValues("pull").Observe(time.Since(start).Seconds()) }()

	var resp api.FamilyTimelineResponse
	if err := e.rpc.Call(ctx, "GetFamilyTimeline", struct{}{}, &resp); err != nil {
		syncErrors.WithLabelValues("pull").Inc()
		return err
	}

	seenPeople := make(map[string]bool)
	seenMeasurements := make(map[string]bool)
	seenMilestones := make(map[string]bool)
	seenPhotos := make(map[string]bool)
	localByRemote := make(map[string]string)

	// People first so child records and photo tags can resolve their person
	// references in the second pass.
	for _, item := range resp.People {
		rid := remoteID(item.Person.ID)
		person, ok, err := e.store.PersonByRemoteID(ctx, rid)
		if err != nil {
			return err
		}
		if !ok {
			person = types.Person{LocalID: uuid.NewString()}
		}
		applyPersonDTO(&person, item.Person)
		if err := e.store.PutPerson(ctx, person); err != nil {
			return err
		}
		seenPeople[rid] = true
		localByRemote[rid] = person.LocalID
	}

	for _, item := range resp.People {
		personLocal := localByRemote[remoteID(item.Person.ID)]

		for _, dto := range item.GrowthData {
			rid := remoteID(dto.ID)
			m, ok, err := e.store.MeasurementByRemoteID(ctx, rid)
			if err != nil {
				return err
			}
			if !ok {
				m = types.Measurement{LocalID: uuid.NewString()}
			}
			applyMeasurementDTO(&m, dto, personLocal)
			if err := e.store.PutMeasurement(ctx, m); err != nil {
				return err
			}
			seenMeasurements[rid] = true
		}

		for _, dto := range item.Milestones {
			rid := remoteID(dto.ID)
			m, ok, err := e.store.MilestoneByRemoteID(ctx, rid)
			if err != nil {
				return err
			}
			if !ok {
				m = types.Milestone{LocalID: uuid.NewString()}
			}
			applyMilestoneDTO(&m, dto, personLocal)
			if err := e.store.PutMilestone(ctx, m); err != nil {
				return err
			}
			seenMilestones[rid] = true
		}

		for _, dto := range item.Photos {
			rid := remoteID(dto.ID)
			if seenPhotos[rid] {
				continue
			}
			photo, ok, err := e.store.PhotoByRemoteID(ctx, rid)
			if err != nil {
				return err
			}
			if !ok {
				photo = types.Photo{LocalID: uuid.NewString()}
			}
			var tagged []string
			for _, pid := range dto.PersonIDs {
				if local, ok := localByRemote[remoteID(pid)]; ok {
					tagged = append(tagged, local)
				}
			}
			applyPhotoDTO(&photo, dto, tagged)
			if err := e.store.PutPhoto(ctx, photo); err != nil {
				return err
			}
			seenPhotos[rid] = true
		}
	}

	if err := e.removeOrphans(ctx, seenPeople, seenMeasurements, seenMilestones, seenPhotos); err != nil {
		return err
	}

	e.notify()
	return nil
}

// removeOrphans deletes every synced local record whose server identity did
// not appear in the pulled snapshot. Unsynced records are local-only by
// definition and survive.
func (e *Engine) removeOrphans(ctx context.Context, people, measurements, milestones, photos map[string]bool) error {
	localPeople, err := e.store.People(ctx)
	if err != nil {
		return err
	}
	for _, p := range localPeople {
		if p.Synced() && !people[p.RemoteID] {
			if err := e.store.DeletePerson(ctx, p.LocalID); err != nil {
				return err
			}
			orphansRemoved.Inc()
		}
	}

	localMeasurements, err := e.store.Measurements(ctx)
	if err != nil {
		return err
	}
	for _, m := range localMeasurements {
		if m.Synced() && !measurements[m.RemoteID] {
			if err := e.store.DeleteMeasurement(ctx, m.LocalID); err != nil {
				return err
			}
			orphansRemoved.Inc()
		}
	}

	localMilestones, err := e.store.Milestones(ctx)
	if err != nil {
		return err
	}
	for _, m := range localMilestones {
		if m.Synced() && !milestones[m.RemoteID] {
			if err := e.store.DeleteMilestone(ctx, m.LocalID); err != nil {
				return err
			}
			orphansRemoved.Inc()
		}
	}

	localPhotos, err := e.store.Photos(ctx)
	if err != nil {
		return err
	}
	for _, p := range localPhotos {
		if p.Synced() && !photos[p.RemoteID] {
			if err := e.store.DeletePhoto(ctx, p.LocalID); err != nil {
				return err
			}
			orphansRemoved.Inc()
		}
	}
	return nil
}
