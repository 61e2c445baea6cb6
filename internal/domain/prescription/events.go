package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of prescription event
type EventType string

const (
	EventPrescriptionProposed      EventType = "PrescriptionProposed"
	EventPrescriptionReleased      EventType = "PrescriptionReleased"
	EventPrescriptionSuperseded    EventType = "PrescriptionSuperseded"
	EventPrescriptionStatusChanged EventType = "PrescriptionStatusChanged"
)

// Event is a prescription event bound for the outbox
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       string          `json:"actor_id,omitempty"`
	ActorRole     string          `json:"actor_role,omitempty"`
	SurgeryID     string          `json:"surgery_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "Prescription",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithActor sets audit fields
func (e *Event) WithActor(id, role, surgeryID string) *Event {
	e.ActorID = id
	e.ActorRole = role
	e.SurgeryID = surgeryID
	return e
}

// Released announces a prescription entering the pharmacy queue
func Released(p *Prescription) (*Event, error) {
	return NewEvent(p.ID, EventPrescriptionReleased, &ReleasedData{
		PrescriptionID:      p.ID,
		ReviewID:            p.ReviewID,
		SurgeryID:           p.SurgeryID,
		PatientID:           p.PatientID,
		Medications:         p.Medications,
		Urgency:             p.Urgency,
		SpecialInstructions: p.SpecialInstructions,
		Supersedes:          p.Supersedes,
		ReleasedAt:          p.UpdatedAt,
	})
}

// ReleasedData is the pharmacy queue payload
type ReleasedData struct {
	PrescriptionID      string       `json:"prescription_id"`
	ReviewID            string       `json:"review_id"`
	SurgeryID           string       `json:"surgery_id"`
	PatientID           string       `json:"patient_id"`
	Medications         []Medication `json:"medications"`
	Urgency             Urgency      `json:"urgency"`
	SpecialInstructions string       `json:"special_instructions,omitempty"`
	Supersedes          string       `json:"supersedes,omitempty"`
	ReleasedAt          time.Time    `json:"released_at"`
}

// ProposedData records a prescription stored pending approval
type ProposedData struct {
	PrescriptionID string  `json:"prescription_id"`
	ReviewID       string  `json:"review_id"`
	Urgency        Urgency `json:"urgency"`
	Medications    int     `json:"medication_count"`
}

// SupersededData links a withdrawn prescription to its replacement
type SupersededData struct {
	PrescriptionID string    `json:"prescription_id"`
	SupersededBy   string    `json:"superseded_by"`
	SupersededAt   time.Time `json:"superseded_at"`
}

// StatusChangedData records a pharmacy-driven transition
type StatusChangedData struct {
	PrescriptionID string    `json:"prescription_id"`
	From           Status    `json:"from"`
	To             Status    `json:"to"`
	ChangedAt      time.Time `json:"changed_at"`
}
