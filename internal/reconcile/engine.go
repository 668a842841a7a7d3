// Package reconcile converges the local cache and the server. Push replays
// the durable operation queue in dependency order; pull overwrites local
// records with the authoritative family snapshot and removes synced records
// the server no longer returns.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/example/family-sync/internal/api"
	"github.com/example/family-sync/internal/observability"
	"github.com/example/family-sync/internal/oplog"
	"github.com/example/family-sync/internal/store"
	"github.com/example/family-sync/internal/types"
)

var tracer = otel.Tracer("github.com/example/family-sync/internal/reconcile")

// errSkip leaves an operation queued without counting a retry. It covers
// dependency races where a record lost its server identity between the
// readiness check and execution.
var errSkip = errors.New("reconcile: dependency not resolved yet")

// Caller is the slice of the API client the engine uses for RPCs.
type Caller interface {
	Call(ctx context.Context, name string, payload, out any) error
}

// PhotoUploader is the multipart upload path for photo bytes.
type PhotoUploader interface {
	UploadPhoto(ctx context.Context, image []byte, req api.UploadPhotoRequest) (api.PhotoDTO, error)
}

// Network reports current reachability. Offline short-circuits push and
// turns direct mutations into queued operations.
type Network interface {
	Online() bool
}

// Status is a point-in-time snapshot of sync state for the UI and logs.
type Status struct {
	Syncing  bool
	LastSync time.Time
	Err      string
	Pending  int
}

// Engine owns the push and pull halves of synchronization. All exported
// methods are safe for concurrent use.
type Engine struct {
	store    store.Store
	log      *oplog.Log
	rpc      Caller
	uploader PhotoUploader
	network  Network
	logger   zerolog.Logger

	mu       sync.Mutex
	syncing  bool
	lastSync time.Time
	syncErr  string
	onChange func()
}

// New builds an engine over the given collaborators. uploader may equal rpc
// when both are the real API client.
func New(st store.Store, log *oplog.Log, rpc Caller, uploader PhotoUploader, network Network, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		log:      log,
		rpc:      rpc,
		uploader: uploader,
		network:  network,
		logger:   logger,
	}
}

// SetOnChange registers a callback fired after any local data change the
// engine makes on its own (pull overwrites, queue replays).
func (e *Engine) SetOnChange(fn func()) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

func (e *Engine) notify() {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Status reports the current sync state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Syncing:  e.syncing,
		LastSync: e.lastSync,
		Err:      e.syncErr,
		Pending:  e.log.Count(),
	}
}

// Sync runs a full push-then-pull pass. Push runs first so queued local
// mutations are not clobbered by the pull overwrite. Concurrent calls
// coalesce: a second Sync while one is running returns immediately.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "reconcile.Sync")
	defer span.End()

	var firstErr error
	if err := e.ProcessQueue(ctx); err != nil {
		firstErr = err
	}
	if err := e.PullFamilyData(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	e.mu.Lock()
	if firstErr != nil {
		e.syncErr = firstErr.Error()
	} else {
		e.syncErr = ""
		e.lastSync = time.Now()
	}
	e.mu.Unlock()
	return firstErr
}

// ProcessQueue replays every ready pending operation in creation order. A
// connectivity failure ends the pass quietly; the queue replays on the next
// pass. Any other failure counts against the operation's retry budget and
// the pass moves on.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	if !e.network.Online() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "reconcile.ProcessQueue")
	defer span.End()
	logger := observability.LoggerWithTrace(ctx, e.logger)
	start := time.Now()
	defer func() { syncDuration.WithLabelValues("push").Observe(time.Since(start).Seconds()) }()

	resolved, err := e.resolvedLocalIDs(ctx)
	if err != nil {
		syncErrors.WithLabelValues("push").Inc()
		return err
	}

	changed := false
	for _, op := range e.log.Ready(resolved) {
		err := e.execute(ctx, op)
		switch {
		case err == nil:
			pushedOperations.WithLabelValues("ok").Inc()
			if derr := e.log.Dequeue(ctx, op.ID); derr != nil {
				return derr
			}
			changed = true
		case errors.Is(err, errSkip):
			pushedOperations.WithLabelValues("deferred").Inc()
		case api.IsConnectivity(err):
			logger.Debug().Err(err).Str("op_id", op.ID).Msg("connectivity lost mid-push, stopping pass")
			pushedOperations.WithLabelValues("deferred").Inc()
			if changed {
				e.notify()
			}
			return nil
		default:
			logger.Warn().Err(err).
				Str("op_id", op.ID).
				Str("kind", string(op.Kind)).
				Msg("operation replay failed")
			pushedOperations.WithLabelValues("failed").Inc()
			if merr := e.log.MarkFailed(ctx, op.ID); merr != nil {
				return merr
			}
		}
	}
	if changed {
		e.notify()
	}
	return nil
}

// resolvedLocalIDs collects the local ids of every record that already has a
// server identity. It is the readiness gate for dependent operations.
func (e *Engine) resolvedLocalIDs(ctx context.Context) (map[string]bool, error) {
	resolved := make(map[string]bool)

	people, err := e.store.People(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range people {
		if p.Synced() {
			resolved[p.LocalID] = true
		}
	}
	measurements, err := e.store.Measurements(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range measurements {
		if m.Synced() {
			resolved[m.LocalID] = true
		}
	}
	milestones, err := e.store.Milestones(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range milestones {
		if m.Synced() {
			resolved[m.LocalID] = true
		}
	}
	photos, err := e.store.Photos(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range photos {
		if p.Synced() {
			resolved[p.LocalID] = true
		}
	}
	return resolved, nil
}

func (e *Engine) execute(ctx context.Context, op types.PendingOperation) error {
	payload, err := types.DecodePayload(op.Kind, op.Payload)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case types.CreatePersonPayload:
		var resp api.PersonResponse
		req := api.AddPersonRequest{
			Name:       p.Name,
			PersonType: personKindToInt(p.Kind),
			Gender:     genderToInt(p.Gender),
			Birthdate:  formatDate(p.Birthday),
		}
		if err := e.rpc.Call(ctx, "AddPerson", req, &resp); err != nil {
			return err
		}
		return e.adoptPersonIdentity(ctx, op.LocalID, resp.Person)

	case types.UpdatePersonPayload:
		person, ok, err := e.store.PersonByLocalID(ctx, op.LocalID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !person.Synced() {
			return errSkip
		}
		var resp api.PersonResponse
		req := api.UpdatePersonRequest{
			ID:         remoteIDToInt(person.RemoteID),
			Name:       p.Name,
			PersonType: personKindToInt(p.Kind),
			Gender:     genderToInt(p.Gender),
			Birthdate:  formatDate(p.Birthday),
		}
		return e.rpc.Call(ctx, "UpdatePerson", req, &resp)

	case types.CreateMeasurementPayload:
		person, ok, err := e.store.PersonByLocalID(ctx, p.PersonLocalID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !person.Synced() {
			return errSkip
		}
		var resp api.MeasurementResponse
		req := api.AddMeasurementRequest{
			PersonID:        remoteIDToInt(person.RemoteID),
			MeasurementType: string(p.Kind),
			Value:           p.Value,
			Unit:            string(p.Unit),
			InputType:       "date",
			MeasurementDate: formatDate(p.Date),
		}
		if err := e.rpc.Call(ctx, "AddGrowthData", req, &resp); err != nil {
			return err
		}
		return e.adoptMeasurementIdentity(ctx, op.LocalID, resp.GrowthData)

	case types.UpdateMeasurementPayload:
		m, ok, err := e.store.MeasurementByLocalID(ctx, op.LocalID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !m.Synced() {
			return errSkip
		}
		var resp api.MeasurementResponse
		req := api.UpdateMeasurementRequest{
			ID:              remoteIDToInt(m.RemoteID),
			MeasurementType: string(p.Kind),
			Value:           p.Value,
			Unit:            string(p.Unit),
			InputType:       "date",
			MeasurementDate: formatDate(p.Date),
		}
		return e.rpc.Call(ctx, "UpdateGrowthData", req, &resp)

	case types.CreateMilestonePayload:
		person, ok, err := e.store.PersonByLocalID(ctx, p.PersonLocalID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !person.Synced() {
			return errSkip
		}
		var resp api.MilestoneResponse
		req := api.AddMilestoneRequest{
			PersonID:      remoteIDToInt(person.RemoteID),
			Description:   p.Description,
			Category:      string(p.Category),
			InputType:     "date",
			MilestoneDate: formatDate(p.Date),
		}
		if err := e.rpc.Call(ctx, "AddMilestone", req, &resp); err != nil {
			return err
		}
		return e.adoptMilestoneIdentity(ctx, op.LocalID, resp.Milestone)

	case types.UpdateMilestonePayload:
		m, ok, err := e.store.MilestoneByLocalID(ctx, op.LocalID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !m.Synced() {
			return errSkip
		}
		var resp api.MilestoneResponse
		req := api.UpdateMilestoneRequest{
			ID:            remoteIDToInt(m.RemoteID),
			Description:   p.Description,
			Category:      string(p.Category),
			InputType:     "date",
			MilestoneDate: formatDate(p.Date),
		}
		return e.rpc.Call(ctx, "UpdateMilestone", req, &resp)

	case types.UploadPhotoPayload:
		return e.executeUploadPhoto(ctx, op.LocalID, p)

	case types.DeletePayload:
		name := deleteRPCName(op.Kind)
		var resp api.SuccessResponse
		err := e.rpc.Call(ctx, name, api.DeleteRequest{ID: remoteIDToInt(p.RemoteID)}, &resp)
		if err != nil && !api.IsNotFound(err) {
			return err
		}
		return nil

	default:
		return errors.New("reconcile: unhandled operation payload")
	}
}

func deleteRPCName(kind types.OperationKind) string {
	switch kind {
	case types.OpDeleteMeasurement:
		return "DeleteGrowthData"
	case types.OpDeleteMilestone:
		return "DeleteMilestone"
	default:
		return "DeletePhoto"
	}
}

func (e *Engine) executeUploadPhoto(ctx context.Context, localID string, p types.UploadPhotoPayload) error {
	photo, ok, err := e.store.PhotoByLocalID(ctx, localID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var personIDs []int64
	for _, taggedLocal := range p.TaggedPersonLocalIDs {
		person, ok, err := e.store.PersonByLocalID(ctx, taggedLocal)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !person.Synced() {
			return errSkip
		}
		personIDs = append(personIDs, remoteIDToInt(person.RemoteID))
	}

	image, err := e.store.Blob(ctx, photoBlobKey(localID))
	if err != nil {
		return err
	}
	if len(image) == 0 {
		e.logger.Warn().Str("photo_local_id", localID).Msg("queued photo has no stored bytes, discarding upload")
		return nil
	}

	dto, err := e.uploader.UploadPhoto(ctx, image, api.UploadPhotoRequest{
		Title:       p.Title,
		Description: p.Description,
		PhotoDate:   formatDate(p.PhotoDate),
		PersonIDs:   personIDs,
	})
	if err != nil {
		return err
	}

	photo.RemoteID = remoteID(dto.ID)
	if err := e.store.PutPhoto(ctx, photo); err != nil {
		return err
	}
	return e.store.PutBlob(ctx, photoBlobKey(localID), nil)
}

func photoBlobKey(localID string) string { return "photo.pending_upload." + localID }

func (e *Engine) adoptPersonIdentity(ctx context.Context, localID string, dto api.PersonDTO) error {
	person, ok, err := e.store.PersonByLocalID(ctx, localID)
	if err != nil || !ok {
		return err
	}
	applyPersonDTO(&person, dto)
	person.LocalID = localID
	return e.store.PutPerson(ctx, person)
}

func (e *Engine) adoptMeasurementIdentity(ctx context.Context, localID string, dto api.MeasurementDTO) error {
	m, ok, err := e.store.MeasurementByLocalID(ctx, localID)
	if err != nil || !ok {
		return err
	}
	personLocal := m.PersonLocalID
	applyMeasurementDTO(&m, dto, personLocal)
	m.LocalID = localID
	return e.store.PutMeasurement(ctx, m)
}

func (e *Engine) adoptMilestoneIdentity(ctx context.Context, localID string, dto api.MilestoneDTO) error {
	m, ok, err := e.store.MilestoneByLocalID(ctx, localID)
	if err != nil || !ok {
		return err
	}
	personLocal := m.PersonLocalID
	applyMilestoneDTO(&m, dto, personLocal)
	m.LocalID = localID
	return e.store.PutMilestone(ctx, m)
}
