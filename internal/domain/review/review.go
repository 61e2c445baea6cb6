// Package review implements the pre-anesthetic review workflow.
//
// A review is SUBMITTED by an anesthetist and decided exactly once by a
// consultant: APPROVED releases the attached prescription to pharmacy,
// REJECTED_WITH_CORRECTION replaces it with a corrected one. Both outcomes are
// terminal. The decision, the prescription changes and the outbound events
// commit in one transaction guarded by a compare-and-set on the review status.
package review

import (
	"encoding/json"
	"time"

	"github.com/drfirst/go-periop/internal/domain/actor"
	"github.com/drfirst/go-periop/internal/domain/prescription"
)

// Status represents review status
type Status string

const (
	StatusSubmitted              Status = "SUBMITTED"
	StatusApproved               Status = "APPROVED"
	StatusRejectedWithCorrection Status = "REJECTED_WITH_CORRECTION"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejectedWithCorrection
}

// Assessment is the clinical content of a review
type Assessment struct {
	ASAClass      int             `json:"asaClass,omitempty"`
	AirwayNotes   string          `json:"airwayNotes,omitempty"`
	Findings      json.RawMessage `json:"findings,omitempty"`
	RiskProfileID string          `json:"riskProfileId,omitempty"`
}

// Review is a pre-anesthetic review
type Review struct {
	ID             string     `json:"id"`
	SurgeryID      string     `json:"surgeryId"`
	PatientID      string     `json:"patientId"`
	SubmittedBy    string     `json:"submittedBy"`
	SubmittedRole  actor.Role `json:"submittedRole"`
	Assessment     Assessment `json:"assessment"`
	PrescriptionID string     `json:"prescriptionId,omitempty"`
	Status         Status     `json:"status"`
	DecidedBy      string     `json:"decidedBy,omitempty"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Decision is the immutable record of who decided a review
type Decision struct {
	ID                        string     `json:"id"`
	ReviewID                  string     `json:"reviewId"`
	Outcome                   Status     `json:"outcome"`
	ActorID                   string     `json:"actorId"`
	ActorRole                 actor.Role `json:"actorRole"`
	Notes                     string     `json:"notes,omitempty"`
	Reason                    string     `json:"reason,omitempty"`
	ReplacementPrescriptionID string     `json:"replacementPrescriptionId,omitempty"`
	DecidedAt                 time.Time  `json:"decidedAt"`
}

// Transition is everything one decision writes. Stores apply it atomically:
// either every part commits or none does.
type Transition struct {
	ReviewID string
	To       Status
	Decision *Decision
	At       time.Time

	// ReleasePrescriptionID is moved PENDING_APPROVAL -> APPROVED_FOR_PACKING on approve
	ReleasePrescriptionID string
	// Replacement is inserted on reject; SupersedePrescriptionID is linked to it
	Replacement             *prescription.Prescription
	SupersedePrescriptionID string

	Events             []*Event
	PrescriptionEvents []*prescription.Event
}
