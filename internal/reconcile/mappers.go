package reconcile

import (
	"strconv"
	"time"

	"github.com/example/family-sync/internal/api"
	"github.com/example/family-sync/internal/types"
)

// apiDate is the calendar-date layout the RPC surface uses for request
// fields; responses carry full timestamps.
const apiDate = "2006-01-02"

func personKindToInt(k types.PersonKind) int {
	if k == types.PersonChild {
		return 1
	}
	return 0
}

func personKindFromInt(v int) types.PersonKind {
	if v == 1 {
		return types.PersonChild
	}
	return types.PersonParent
}

func genderToInt(g types.Gender) int {
	switch g {
	case types.GenderFemale:
		return 1
	case types.GenderOther:
		return 2
	default:
		return 0
	}
}

func genderFromInt(v int) types.Gender {
	switch v {
	case 1:
		return types.GenderFemale
	case 2:
		return types.GenderOther
	default:
		return types.GenderMale
	}
}

func measurementKindFromInt(v int) types.MeasurementKind {
	if v == 1 {
		return types.MeasurementWeight
	}
	return types.MeasurementHeight
}

func remoteID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func remoteIDToInt(id string) int64 {
	v, _ := strconv.ParseInt(id, 10, 64)
	return v
}

func applyPersonDTO(p *types.Person, dto api.PersonDTO) {
	p.RemoteID = remoteID(dto.ID)
	p.Name = dto.Name
	p.Kind = personKindFromInt(dto.Type)
	p.Gender = genderFromInt(dto.Gender)
	p.Birthday = dto.Birthday
}

func applyMeasurementDTO(m *types.Measurement, dto api.MeasurementDTO, personLocalID string) {
	m.RemoteID = remoteID(dto.ID)
	m.PersonLocalID = personLocalID
	m.Kind = measurementKindFromInt(dto.MeasurementType)
	m.Value = dto.Value
	m.Unit = types.Unit(dto.Unit)
	m.Date = dto.MeasurementDate
}

func applyMilestoneDTO(m *types.Milestone, dto api.MilestoneDTO, personLocalID string) {
	m.RemoteID = remoteID(dto.ID)
	m.PersonLocalID = personLocalID
	m.Description = dto.Description
	m.Category = types.MilestoneCategory(dto.Category)
	m.Date = dto.MilestoneDate
}

func applyPhotoDTO(p *types.Photo, dto api.PhotoDTO, taggedLocalIDs []string) {
	p.RemoteID = remoteID(dto.ID)
	p.Title = dto.Title
	p.Description = dto.Description
	p.PhotoDate = dto.PhotoDate
	p.TaggedPersonLocalIDs = taggedLocalIDs
}

func formatDate(t time.Time) string {
	return t.Format(apiDate)
}
