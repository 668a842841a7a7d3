package api

import "time"

// Wire DTOs for the family RPC surface. Server identifiers are numeric on
// the wire; the local cache stores them as strings.

// PersonDTO is the server representation of a family member.
type PersonDTO struct {
	ID       int64     `json:"id"`
	FamilyID int64     `json:"familyId"`
	Name     string    `json:"name"`
	Type     int       `json:"type"`
	Gender   int       `json:"gender"`
	Birthday time.Time `json:"birthday"`
}

// MeasurementDTO is the server representation of a growth data point.
type MeasurementDTO struct {
	ID              int64     `json:"id"`
	PersonID        int64     `json:"personId"`
	FamilyID        int64     `json:"familyId"`
	MeasurementType int       `json:"measurementType"`
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	MeasurementDate time.Time `json:"measurementDate"`
	CreatedAt       time.Time `json:"createdAt"`
}

// MilestoneDTO is the server representation of a milestone.
type MilestoneDTO struct {
	ID            int64     `json:"id"`
	PersonID      int64     `json:"personId"`
	FamilyID      int64     `json:"familyId"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	MilestoneDate time.Time `json:"milestoneDate"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PhotoDTO is the server metadata for an uploaded photo.
type PhotoDTO struct {
	ID          int64     `json:"id"`
	FamilyID    int64     `json:"familyId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PhotoDate   time.Time `json:"photoDate"`
	CreatedAt   time.Time `json:"createdAt"`
	PersonIDs   []int64   `json:"personIds"`
}

// TimelineItemDTO groups a person with their nested records in the full
// family snapshot.
type TimelineItemDTO struct {
	Person     PersonDTO        `json:"person"`
	GrowthData []MeasurementDTO `json:"growthData"`
	Milestones []MilestoneDTO   `json:"milestones"`
	Photos     []PhotoDTO       `json:"photos"`
}

// FamilyTimelineResponse is the authoritative snapshot returned by
// GetFamilyTimeline; pull reconciliation consumes it in one pass.
type FamilyTimelineResponse struct {
	People []TimelineItemDTO `json:"people"`
}

// AddPersonRequest creates a person server-side.
type AddPersonRequest struct {
	Name       string `json:"name"`
	PersonType int    `json:"personType"`
	Gender     int    `json:"gender"`
	Birthdate  string `json:"birthdate"`
}

// UpdatePersonRequest edits an existing person.
type UpdatePersonRequest struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PersonType int    `json:"personType"`
	Gender     int    `json:"gender"`
	Birthdate  string `json:"birthdate"`
}

// PersonResponse wraps the authoritative person record after a mutation.
type PersonResponse struct {
	Person PersonDTO `json:"person"`
}

// AddMeasurementRequest creates a growth data point.
type AddMeasurementRequest struct {
	PersonID        int64   `json:"personId"`
	MeasurementType string  `json:"measurementType"`
	Value           float64 `json:"value"`
	Unit            string  `json:"unit"`
	InputType       string  `json:"inputType"`
	MeasurementDate string  `json:"measurementDate"`
}

// UpdateMeasurementRequest edits a growth data point.
type UpdateMeasurementRequest struct {
	ID              int64   `json:"id"`
	MeasurementType string  `json:"measurementType"`
	Value           float64 `json:"value"`
	Unit            string  `json:"unit"`
	InputType       string  `json:"inputType"`
	MeasurementDate string  `json:"measurementDate"`
}

// MeasurementResponse wraps the authoritative measurement after a mutation.
type MeasurementResponse struct {
	GrowthData MeasurementDTO `json:"growthData"`
}

// AddMilestoneRequest creates a milestone.
type AddMilestoneRequest struct {
	PersonID      int64  `json:"personId"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	InputType     string `json:"inputType"`
	MilestoneDate string `json:"milestoneDate"`
}

// UpdateMilestoneRequest edits a milestone.
type UpdateMilestoneRequest struct {
	ID            int64  `json:"id"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	InputType     string `json:"inputType"`
	MilestoneDate string `json:"milestoneDate"`
}

// MilestoneResponse wraps the authoritative milestone after a mutation.
type MilestoneResponse struct {
	Milestone MilestoneDTO `json:"milestone"`
}

// UploadPhotoRequest registers photo metadata server-side. Image bytes
// travel through the separate multipart upload path, outside this core.
type UploadPhotoRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	PhotoDate   string  `json:"photoDate"`
	PersonIDs   []int64 `json:"personIds"`
}

// PhotoResponse wraps the authoritative photo metadata after a mutation.
type PhotoResponse struct {
	Image PhotoDTO `json:"image"`
}

// TagPhotoPeopleRequest attaches people to a photo.
type TagPhotoPeopleRequest struct {
	PhotoID   int64   `json:"photoId"`
	PersonIDs []int64 `json:"personIds"`
}

// UntagPhotoPersonRequest detaches one person from a photo.
type UntagPhotoPersonRequest struct {
	PhotoID  int64 `json:"photoId"`
	PersonID int64 `json:"personId"`
}

// DeleteRequest targets any record by server identifier.
type DeleteRequest struct {
	ID int64 `json:"id"`
}

// SuccessResponse is the generic mutation acknowledgement.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ChatMessageDTO is the server representation of a chat message. The chat
// endpoints use snake_case on the wire, unlike the family RPC surface.
type ChatMessageDTO struct {
	ID              int64     `json:"id"`
	FamilyID        int64     `json:"family_id"`
	UserID          int64     `json:"user_id"`
	UserName        string    `json:"user_name"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	ClientMessageID string    `json:"client_message_id"`
}

// SendMessageRequest posts a chat message over the durable RPC path.
type SendMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

// SendMessageResponse acknowledges a posted chat message.
type SendMessageResponse struct {
	Message ChatMessageDTO `json:"message"`
}

// GetChatMessagesRequest pages through chat history.
type GetChatMessagesRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// GetChatMessagesResponse is a page of chat history.
type GetChatMessagesResponse struct {
	Messages []ChatMessageDTO `json:"messages"`
}

// DeleteMessageRequest deletes a chat message by server identifier.
type DeleteMessageRequest struct {
	MessageID int64 `json:"message_id"`
}

// RefreshResponse is returned by the token refresh endpoint.
type RefreshResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Token   string `json:"token,omitempty"`
}
