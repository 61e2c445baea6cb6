package review

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of review event
type EventType string

const (
	EventReviewSubmitted EventType = "ReviewSubmitted"
	EventReviewApproved  EventType = "ReviewApproved"
	EventReviewRejected  EventType = "ReviewRejected"
)

// Event is a review event bound for the outbox
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	ActorID       string          `json:"actor_id"`
	ActorRole     string          `json:"actor_role"`
	SurgeryID     string          `json:"surgery_id"`
}

// NewEvent creates a new event for review r
func NewEvent(r *Review, eventType EventType, actorID, actorRole string, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   r.ID,
		AggregateType: "PreAnestheticReview",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
		ActorID:       actorID,
		ActorRole:     actorRole,
		SurgeryID:     r.SurgeryID,
	}, nil
}

// SubmittedData is the payload of ReviewSubmitted
type SubmittedData struct {
	ReviewID       string `json:"review_id"`
	PatientID      string `json:"patient_id"`
	PrescriptionID string `json:"prescription_id,omitempty"`
	ASAClass       int    `json:"asa_class,omitempty"`
}

// DecidedData is the payload of ReviewApproved and ReviewRejected
type DecidedData struct {
	ReviewID                  string    `json:"review_id"`
	DecisionID                string    `json:"decision_id"`
	Outcome                   Status    `json:"outcome"`
	Notes                     string    `json:"notes,omitempty"`
	Reason                    string    `json:"reason,omitempty"`
	PrescriptionID            string    `json:"prescription_id,omitempty"`
	ReplacementPrescriptionID string    `json:"replacement_prescription_id,omitempty"`
	DecidedAt                 time.Time `json:"decided_at"`
}
