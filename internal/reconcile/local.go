package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/family-sync/internal/api"
	"github.com/example/family-sync/internal/types"
)

// Local mutation entry points. Every mutation writes the local cache first
// so the UI never waits on the network. When the server is reachable the
// mutation is pushed inline; a connectivity failure or an unsynced
// dependency turns it into a queued operation instead.

func (e *Engine) enqueue(ctx context.Context, kind types.OperationKind, localID string, payload any, dependsOn string) error {
	raw, err := types.EncodePayload(payload)
	if err != nil {
		return err
	}
	return e.log.Enqueue(ctx, types.PendingOperation{
		ID:               uuid.NewString(),
		Kind:             kind,
		LocalID:          localID,
		Payload:          raw,
		CreatedAt:        time.Now(),
		DependsOnLocalID: dependsOn,
	})
}

// AddPerson creates a family member.
func (e *Engine) AddPerson(ctx context.Context, name string, kind types.PersonKind, gender types.Gender, birthday time.Time) (types.Person, error) {
	person := types.Person{
		LocalID:  uuid.NewString(),
		Name:     name,
		Kind:     kind,
		Gender:   gender,
		Birthday: birthday,
	}
	if err := e.store.PutPerson(ctx, person); err != nil {
		return types.Person{}, err
	}

	payload := types.CreatePersonPayload{Name: name, Kind: kind, Gender: gender, Birthday: birthday}
	if !e.network.Online() {
		return person, e.enqueue(ctx, types.OpCreatePerson, person.LocalID, payload, "")
	}

	var resp api.PersonResponse
	req := api.AddPersonRequest{
		Name:       name,
		PersonType: personKindToInt(kind),
		Gender:     genderToInt(gender),
		Birthdate:  formatDate(birthday),
	}
	if err := e.rpc.Call(ctx, "AddPerson", req, &resp); err != nil {
		if api.IsConnectivity(err) {
			return person, e.enqueue(ctx, types.OpCreatePerson, person.LocalID, payload, "")
		}
		return person, err
	}
	if err := e.adoptPersonIdentity(ctx, person.LocalID, resp.Person); err != nil {
		return person, err
	}
	person, _, err := e.store.PersonByLocalID(ctx, person.LocalID)
	return person, err
}

// UpdatePerson overwrites a family member's editable fields.
func (e *Engine) UpdatePerson(ctx context.Context, person types.Person) error {
	if err := e.store.PutPerson(ctx, person); err != nil {
		return err
	}

	payload := types.UpdatePersonPayload{
		Name:     person.Name,
		Kind:     person.Kind,
		Gender:   person.Gender,
		Birthday: person.Birthday,
	}
	if !person.Synced() {
		return e.enqueue(ctx, types.OpUpdatePerson, person.LocalID, payload, person.LocalID)
	}
	if !e.network.Online() {
		return e.enqueue(ctx, types.OpUpdatePerson, person.LocalID, payload, "")
	}

	var resp api.PersonResponse
	req := api.UpdatePersonRequest{
		ID:         remoteIDToInt(person.RemoteID),
		Name:       person.Name,
		PersonType: personKindToInt(person.Kind),
		Gender:     genderToInt(person.Gender),
		Birthdate:  formatDate(person.Birthday),
	}
	if err := e.rpc.Call(ctx, "UpdatePerson", req, &resp); err != nil {
		if api.IsConnectivity(err) {
			return e.enqueue(ctx, types.OpUpdatePerson, person.LocalID, payload, "")
		}
		return err
	}
	return nil
}

// AddMeasurement records a growth data point for a person.
func (e *Engine) AddMeasurement(ctx context.Context, personLocalID string, kind types.MeasurementKind, value float64, unit types.Unit, date time.Time) (types.Measurement, error) {
	person, ok, err := e.store.PersonByLocalID(ctx, personLocalID)
	if err != nil {
		return types.Measurement{}, err
	}
	if !ok {
		return types.Measurement{}, fmt.Errorf("reconcile: unknown person %s", personLocalID)
	}

	m := types.Measurement{
		LocalID:       uuid.NewString(),
		PersonLocalID: personLocalID,
		Kind:          kind,
		Value:         value,
		Unit:          unit,
		Date:          date,
	}
	if err := e.store.PutMeasurement(ctx, m); err != nil {
		return types.Measurement{}, err
	}

	payload := types.CreateMeasurementPayload{
		PersonLocalID: personLocalID,
		Kind:          kind,
		Value:         value,
		Unit:          unit,
		Date:          date,
	}
	if !person.Synced() {
		return m, e.enqueue(ctx, types.OpCreateMeasurement, m.LocalID, payload, personLocalID)
	}
	if !e.network.Online() {
		return m, e.enqueue(ctx, types.OpCreateMeasurement, m.LocalID, payload, "")
	}

	var resp api.MeasurementResponse
	req := api.AddMeasurementRequest{
		PersonID:        remoteIDToInt(person.RemoteID),
		MeasurementType: string(kind),
		Value:           value,
		Unit:            string(unit),
		InputType:       "date",
		MeasurementDate: formatDate(date),
	}
	if err := e.rpc.Call(ctx, "AddGrowthData", req, &resp); err != nil {
		if api.IsConnectivity(err) {
			return m, e.enqueue(ctx, types.OpCreateMeasurement, m.LocalID, payload, "")
		}
		return m, err
	}
	if err := e.adoptMeasurementIdentity(ctx, m.LocalID, resp.GrowthData); err != nil {
		return m, err
	}
	m, _, err = e.store.MeasurementByLocalID(ctx, m.LocalID)
	return m, err
}

// UpdateMeasurement overwrites a growth data point.
func (e *Engine) UpdateMeasurement(ctx context.Context, m types.Measurement) error {
	if err := e.store.PutMeasurement(ctx, m); err != nil {
		return err
	}

	payload := types.UpdateMeasurementPayload{Kind: m.Kind, Value: m.Value, Unit: m.Unit, Date: m.Date}
	if !m.Synced() {
		return e.enqueue(ctx, types.OpUpdateMeasurement, m.LocalID, payload, m.LocalID)
	}
	if !e.network.Online() {
		return e.enqueue(ctx, types.OpUpdateMeasurement, m.LocalID, payload, "")
	}

	var resp api.MeasurementResponse
	req := api.UpdateMeasurementRequest{
		ID:              remoteIDToInt(m.RemoteID),
		MeasurementType: string(m.Kind),
		Value:           m.Value,
		Unit:            string(m.Unit),
		InputType:       "date",
		MeasurementDate: formatDate(m.Date),
	}
	if err := e.rpc.Call(ctx, "UpdateGrowthData", req, &resp); err != nil {
		if api.IsConnectivity(err) {
			return e.enqueue(ctx, types.OpUpdateMeasurement, m.LocalID, payload, "")
		}
		return err
	}
	return nil
}

// DeleteMeasurement removes a growth data point locally and, once the
// server confirms, remotely. The local delete is never rolled back.
func (e *Engine) DeleteMeasurement(ctx context.Context, localID string) error {
	m, ok, err := e.store.MeasurementByLocalID(ctx, localID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.store.DeleteMeasurement(ctx, localID); err != nil {
		return err
	}
	return e.pushDelete(ctx, types.OpDeleteMeasurement, localID, m.Synced(), m.RemoteID, "DeleteGrowthData")
}

// AddMilestone records a milestone for a person.
func (e *Engine) AddMilestone(ctx context.Context, personLocalID, description string, category types.MilestoneCategory, date time.Time) (types.Milestone, error) {
	person, ok, err := e.store.PersonByLocalID(ctx, personLocalID)
	if err != nil {
		return types.Milestone{}, err
	}
	if !ok {
		return types.Milestone{}, fmt.Errorf("reconcile: unknown person %s", personLocalID)
	}

	m := types.Milestone{
		LocalID:       uuid.NewString(),
		PersonLocalID: personLocalID,
		Description:   description,
		Category:      category,
		Date:          date,
	}
	if err := e.store.PutMilestone(ctx, m); err != nil {
		return types.Milestone{}, err
	}

	payload := types.CreateMilestonePayload{
		PersonLocalID: personLocalID,
		Description:   description,
		Category:      category,
		Date:          date,
	}
	if !person.Synced() {
		return m, e.enqueue(ctx, types.OpCreateMilestone, m.LocalID, payload, personLocalID)
	}
	if !e.network.Online() {
		return m, e.enqueue(ctx, types.OpCreateMilestone, m.LocalID, payload, "")
	}

	var resp api.MilestoneResponse
	req := api.AddMilestoneRequest{
		PersonID:      remoteIDToInt(person.RemoteID),
		Description:   description,
		Category:      string(category),
		InputType:     "date",
		MilestoneDate: formatDate(date),
	}
	if err := e.rpc.Call(ctx, "AddMilestone", req, &resp); err != nil {
		if api.IsConnectivity(err) {
			return m, e.enqueue(ctx, types.OpCreateMilestone, m.LocalID, payload, "")
		}
		return m, err
	}
	if err := e.adoptMilestoneIdentity(ctx, m.LocalID, resp.Milestone); err != nil {
		return m, err
	}
	m, _, err = e.store.MilestoneByLocalID(ctx, m.LocalID)
	return m, err
}

// UpdateMilestone overwrites a milestone.
func (e *Engine) UpdateMilestone(ctx context.Context, m types.Milestone) error {
	if err := e.store.PutMilestone(ctx, m); err != nil {
		return err
	}

	payload := types.UpdateMilestonePayload{Description: m.Description, Category: m.Category, Date: m.Date}
	if !m.Synced() {
		return e.enqueue(ctx, types.OpUpdateMilestone, m.LocalID, payload, m.LocalID)
	}
	if !e.network.Online() {
		return e.enqueue(ctx, types.OpUpdateMilestone, m.LocalID, payload, "")
	}

	var resp api.MilestoneResponse
	req := api.UpdateMilestoneRequest{
		ID:            remoteIDToInt(m.RemoteID),
		Description:   m.Description,
		Category:      string(m.Category),
		InputType:     "date",
		MilestoneDate: formatDate(m.Date),
	}
	if err := e.rpc.Call(ctx, "UpdateMilestone", req, &resp); err != nil {
		if api.IsConnectivity(err) {
			return e.enqueue(ctx, types.OpUpdateMilestone, m.LocalID, payload, "")
		}
		return err
	}
	return nil
}

// DeleteMilestone removes a milestone locally and, once the server
// confirms, remotely.
func (e *Engine) DeleteMilestone(ctx context.Context, localID string) error {
	m, ok, err := e.store.MilestoneByLocalID(ctx, localID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.store.DeleteMilestone(ctx, localID); err != nil {
		return err
	}
	return e.pushDelete(ctx, types.OpDeleteMilestone, localID, m.Synced(), m.RemoteID, "DeleteMilestone")
}

// UploadPhoto stores a photo locally and uploads bytes plus metadata when
// the server and every tagged person are ready for it.
func (e *Engine) UploadPhoto(ctx context.Context, image []byte, title, description string, photoDate time.Time, taggedLocalIDs []string) (types.Photo, error) {
	photo := types.Photo{
		LocalID:              uuid.NewString(),
		Title:                title,
		Description:          description,
		PhotoDate:            photoDate,
		TaggedPersonLocalIDs: taggedLocalIDs,
	}
	if err := e.store.PutPhoto(ctx, photo); err != nil {
		return types.Photo{}, err
	}
	if err := e.store.PutBlob(ctx, photoBlobKey(photo.LocalID), image); err != nil {
		return types.Photo{}, err
	}

	payload := types.UploadPhotoPayload{
		Title:                title,
		Description:          description,
		PhotoDate:            photoDate,
		TaggedPersonLocalIDs: taggedLocalIDs,
	}

	dependsOn := ""
	personIDs := make([]int64, 0, len(taggedLocalIDs))
	for _, localID := range taggedLocalIDs {
		person, ok, err := e.store.PersonByLocalID(ctx, localID)
		if err != nil {
			return photo, err
		}
		if !ok {
			continue
		}
		if !person.Synced() {
			dependsOn = localID
			continue
		}
		personIDs = append(personIDs, remoteIDToInt(person.RemoteID))
	}

	if dependsOn != "" || !e.network.Online() {
		return photo, e.enqueue(ctx, types.OpUploadPhoto, photo.LocalID, payload, dependsOn)
	}

	dto, err := e.uploader.UploadPhoto(ctx, image, api.UploadPhotoRequest{
		Title:       title,
		Description: description,
		PhotoDate:   formatDate(photoDate),
		PersonIDs:   personIDs,
	})
	if err != nil {
		if api.IsConnectivity(err) {
			return photo, e.enqueue(ctx, types.OpUploadPhoto, photo.LocalID, payload, "")
		}
		return photo, err
	}

	photo.RemoteID = remoteID(dto.ID)
	if err := e.store.PutPhoto(ctx, photo); err != nil {
		return photo, err
	}
	if err := e.store.PutBlob(ctx, photoBlobKey(photo.LocalID), nil); err != nil {
		return photo, err
	}
	return photo, nil
}

// DeletePhoto removes a photo locally and, once the server confirms,
// remotely.
func (e *Engine) DeletePhoto(ctx context.Context, localID string) error {
	photo, ok, err := e.store.PhotoByLocalID(ctx, localID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.store.DeletePhoto(ctx, localID); err != nil {
		return err
	}
	if err := e.store.PutBlob(ctx, photoBlobKey(localID), nil); err != nil {
		return err
	}
	return e.pushDelete(ctx, types.OpDeletePhoto, localID, photo.Synced(), photo.RemoteID, "DeletePhoto")
}

// pushDelete handles the remote half of a delete. A never-synced record has
// nothing to delete remotely, so its queued operations are cancelled
// instead.
func (e *Engine) pushDelete(ctx context.Context, kind types.OperationKind, localID string, synced bool, remoteID, rpcName string) error {
	if !synced {
		return e.log.RemoveForLocal(ctx, localID)
	}

	payload := types.DeletePayload{RemoteID: remoteID}
	if !e.network.Online() {
		return e.enqueue(ctx, kind, localID, payload, "")
	}

	var resp api.SuccessResponse
	err := e.rpc.Call(ctx, rpcName, api.DeleteRequest{ID: remoteIDToInt(remoteID)}, &resp)
	switch {
	case err == nil:
		return nil
	case api.IsNotFound(err):
		return nil
	case api.IsConnectivity(err):
		return e.enqueue(ctx, kind, localID, payload, "")
	default:
		return err
	}
}

// TagPhotoPeople attaches people to a photo. The server call happens inline
// only when everything involved is synced; tags on unsynced photos travel
// with the queued upload instead.
func (e *Engine) TagPhotoPeople(ctx context.Context, photoLocalID string, personLocalIDs []string) error {
	photo, ok, err := e.store.PhotoByLocalID(ctx, photoLocalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reconcile: unknown photo %s", photoLocalID)
	}

	existing := make(map[string]bool, len(photo.TaggedPersonLocalIDs))
	for _, id := range photo.TaggedPersonLocalIDs {
		existing[id] = true
	}
	var personIDs []int64
	allSynced := true
	for _, localID := range personLocalIDs {
		if !existing[localID] {
			photo.TaggedPersonLocalIDs = append(photo.TaggedPersonLocalIDs, localID)
			existing[localID] = true
		}
		person, ok, err := e.store.PersonByLocalID(ctx, localID)
		if err != nil {
			return err
		}
		if !ok || !person.Synced() {
			allSynced = false
			continue
		}
		personIDs = append(personIDs, remoteIDToInt(person.RemoteID))
	}
	if err := e.store.PutPhoto(ctx, photo); err != nil {
		return err
	}

	if !photo.Synced() || !allSynced || !e.network.Online() {
		return nil
	}
	var resp api.SuccessResponse
	req := api.TagPhotoPeopleRequest{PhotoID: remoteIDToInt(photo.RemoteID), PersonIDs: personIDs}
	return e.rpc.Call(ctx, "AddPeopleToPhoto", req, &resp)
}

// UntagPhotoPerson detaches one person from a photo.
func (e *Engine) UntagPhotoPerson(ctx context.Context, photoLocalID, personLocalID string) error {
	photo, ok, err := e.store.PhotoByLocalID(ctx, photoLocalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reconcile: unknown photo %s", photoLocalID)
	}

	kept := photo.TaggedPersonLocalIDs[:0]
	for _, id := range photo.TaggedPersonLocalIDs {
		if id != personLocalID {
			kept = append(kept, id)
		}
	}
	photo.TaggedPersonLocalIDs = kept
	if err := e.store.PutPhoto(ctx, photo); err != nil {
		return err
	}

	person, ok, err := e.store.PersonByLocalID(ctx, personLocalID)
	if err != nil {
		return err
	}
	if !ok || !photo.Synced() || !person.Synced() || !e.network.Online() {
		return nil
	}
	var resp api.SuccessResponse
	req := api.UntagPhotoPersonRequest{PhotoID: remoteIDToInt(photo.RemoteID), PersonID: remoteIDToInt(person.RemoteID)}
	return e.rpc.Call(ctx, "RemovePersonFromPhoto", req, &resp)
}
