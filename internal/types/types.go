package types

import "time"

// PersonKind distinguishes parents from children in the family roster.
type PersonKind string

const (
	PersonParent PersonKind = "parent"
	PersonChild  PersonKind = "child"
)

// Gender mirrors the server's person gender field.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// MeasurementKind is the axis a growth measurement was taken on.
type MeasurementKind string

const (
	MeasurementHeight MeasurementKind = "height"
	MeasurementWeight MeasurementKind = "weight"
)

// Unit is the unit a measurement value is expressed in.
type Unit string

const (
	UnitCentimeters Unit = "cm"
	UnitInches      Unit = "in"
	UnitKilograms   Unit = "kg"
	UnitPounds      Unit = "lbs"
)

// MilestoneCategory groups milestones for display and filtering.
type MilestoneCategory string

const (
	CategoryDevelopment MilestoneCategory = "development"
	CategoryBehavior    MilestoneCategory = "behavior"
	CategoryHealth      MilestoneCategory = "health"
	CategoryAchievement MilestoneCategory = "achievement"
	CategoryFirst       MilestoneCategory = "first"
	CategoryOther       MilestoneCategory = "other"
)

// Person is a locally cached family member. LocalID is assigned at creation
// and never changes; RemoteID stays empty until the server has accepted the
// record, after which it is authoritative for matching pulled data.
type Person struct {
	LocalID  string     `json:"local_id"`
	RemoteID string     `json:"remote_id,omitempty"`
	Name     string     `json:"name"`
	Kind     PersonKind `json:"kind"`
	Gender   Gender     `json:"gender"`
	Birthday time.Time  `json:"birthday"`
}

// Synced reports whether the person has a server identity.
func (p Person) Synced() bool { return p.RemoteID != "" }

// Measurement is a single growth data point tied to a person. The person
// reference uses the person's local id so it stays valid while either record
// is still waiting for a server identity.
type Measurement struct {
	LocalID       string          `json:"local_id"`
	RemoteID      string          `json:"remote_id,omitempty"`
	PersonLocalID string          `json:"person_local_id"`
	Kind          MeasurementKind `json:"kind"`
	Value         float64         `json:"value"`
	Unit          Unit            `json:"unit"`
	Date          time.Time       `json:"date"`
}

// Synced reports whether the measurement has a server identity.
func (m Measurement) Synced() bool { return m.RemoteID != "" }

// Milestone records a notable event for a person.
type Milestone struct {
	LocalID       string            `json:"local_id"`
	RemoteID      string            `json:"remote_id,omitempty"`
	PersonLocalID string            `json:"person_local_id"`
	Description   string            `json:"description"`
	Category      MilestoneCategory `json:"category"`
	Date          time.Time         `json:"date"`
}

// Synced reports whether the milestone has a server identity.
func (m Milestone) Synced() bool { return m.RemoteID != "" }

// Photo is the local metadata record for a server-hosted photo. Image bytes
// are not cached here; they are fetched by URL from the server.
type Photo struct {
	LocalID              string    `json:"local_id"`
	RemoteID             string    `json:"remote_id,omitempty"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	PhotoDate            time.Time `json:"photo_date"`
	TaggedPersonLocalIDs []string  `json:"tagged_person_local_ids,omitempty"`
}

// Synced reports whether the photo has a server identity.
func (p Photo) Synced() bool { return p.RemoteID != "" }

// ChatMessage is a locally cached chat message. ClientMessageID is generated
// on the sending device and is the dedup key that matches an optimistic local
// write against the server echo of the same message.
type ChatMessage struct {
	LocalID         string    `json:"local_id"`
	RemoteID        string    `json:"remote_id,omitempty"`
	ClientMessageID string    `json:"client_message_id"`
	UserID          int64     `json:"user_id"`
	UserName        string    `json:"user_name"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	IsSending       bool      `json:"is_sending,omitempty"`
	SendFailed      bool      `json:"send_failed,omitempty"`
}
