package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind tags the payload union of a pending operation.
type OperationKind string

const (
	OpCreatePerson      OperationKind = "create_person"
	OpUpdatePerson      OperationKind = "update_person"
	OpCreateMeasurement OperationKind = "create_measurement"
	OpUpdateMeasurement OperationKind = "update_measurement"
	OpDeleteMeasurement OperationKind = "delete_measurement"
	OpCreateMilestone   OperationKind = "create_milestone"
	OpUpdateMilestone   OperationKind = "update_milestone"
	OpDeleteMilestone   OperationKind = "delete_milestone"
	OpUploadPhoto       OperationKind = "upload_photo"
	OpDeletePhoto       OperationKind = "delete_photo"
)

// PendingOperation is a durably queued mutation that has not been
// acknowledged by the server yet. Operations replay in CreatedAt order within
// their readiness class; an operation with DependsOnLocalID set is held back
// until the referenced record has a server identity.
type PendingOperation struct {
	ID               string          `json:"id"`
	Kind             OperationKind   `json:"kind"`
	LocalID          string          `json:"local_id"`
	Payload          json.RawMessage `json:"payload"`
	CreatedAt        time.Time       `json:"created_at"`
	RetryCount       int             `json:"retry_count"`
	DependsOnLocalID string          `json:"depends_on_local_id,omitempty"`
}

// CreatePersonPayload carries the content of an offline person creation.
type CreatePersonPayload struct {
	Name     string     `json:"name"`
	Kind     PersonKind `json:"kind"`
	Gender   Gender     `json:"gender"`
	Birthday time.Time  `json:"birthday"`
}

// UpdatePersonPayload carries an offline person edit. The target record is
// the operation's LocalID; its server identity is resolved at replay time.
type UpdatePersonPayload struct {
	Name     string     `json:"name"`
	Kind     PersonKind `json:"kind"`
	Gender   Gender     `json:"gender"`
	Birthday time.Time  `json:"birthday"`
}

// CreateMeasurementPayload carries an offline measurement creation. The
// person reference is a local id so the operation can be queued before the
// person itself has been pushed.
type CreateMeasurementPayload struct {
	PersonLocalID string          `json:"person_local_id"`
	Kind          MeasurementKind `json:"kind"`
	Value         float64         `json:"value"`
	Unit          Unit            `json:"unit"`
	Date          time.Time       `json:"date"`
}

// UpdateMeasurementPayload carries an offline measurement edit.
type UpdateMeasurementPayload struct {
	Kind  MeasurementKind `json:"kind"`
	Value float64         `json:"value"`
	Unit  Unit            `json:"unit"`
	Date  time.Time       `json:"date"`
}

// CreateMilestonePayload carries an offline milestone creation.
type CreateMilestonePayload struct {
	PersonLocalID string            `json:"person_local_id"`
	Description   string            `json:"description"`
	Category      MilestoneCategory `json:"category"`
	Date          time.Time         `json:"date"`
}

// UpdateMilestonePayload carries an offline milestone edit.
type UpdateMilestonePayload struct {
	Description string            `json:"description"`
	Category    MilestoneCategory `json:"category"`
	Date        time.Time         `json:"date"`
}

// UploadPhotoPayload carries photo metadata for a deferred upload. Tagged
// people are referenced by local id for the same reason as measurements.
type UploadPhotoPayload struct {
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	PhotoDate            time.Time `json:"photo_date"`
	TaggedPersonLocalIDs []string  `json:"tagged_person_local_ids,omitempty"`
}

// DeletePayload carries the server identity of an already locally deleted
// record. Deletes keep the remote id in the payload because the local record
// is gone by the time the operation replays.
type DeletePayload struct {
	RemoteID string `json:"remote_id"`
}

// EncodePayload serializes a typed payload for queue storage.
func EncodePayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode operation payload: %w", err)
	}
	return data, nil
}

// DecodePayload deserializes an operation payload back into its typed form.
// The switch is exhaustive over OperationKind so adding a kind without a
// payload shape fails loudly at replay time.
func DecodePayload(kind OperationKind, raw json.RawMessage) (any, error) {
	switch kind {
	case OpCreatePerson:
		var p CreatePersonPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case OpUpdatePerson:
		var p UpdatePersonPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case OpCreateMeasurement:
		var p CreateMeasurementPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case OpUpdateMeasurement:
		var p UpdateMeasurementPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case OpCreateMilestone:
		var p CreateMilestonePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case OpUpdateMilestone:
		var p UpdateMilestonePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case OpUploadPhoto:
		var p UploadPhotoPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case OpDeleteMeasurement, OpDeleteMilestone, OpDeletePhoto:
		var p DeletePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
}
