// Package prescription implements the prescription gate: the status machine
// deciding when a medication order is exposed to pharmacy fulfillment.
package prescription

import (
	"fmt"
	"strings"
	"time"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// Status represents prescription status
type Status string

const (
	StatusPendingApproval    Status = "PENDING_APPROVAL"
	StatusApprovedForPacking Status = "APPROVED_FOR_PACKING"
	StatusPacked             Status = "PACKED"
	StatusDispensed          Status = "DISPENSED"
	StatusOutOfStock         Status = "OUT_OF_STOCK_FLAGGED"
)

// Urgency is stamped at creation and never changes
type Urgency string

const (
	UrgencyRoutine   Urgency = "ROUTINE"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
)

// Valid reports whether u is a known urgency
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// Medication is one ordered line
type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Route     string `json:"route,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Timing    string `json:"timing,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
}

// Prescription is an ordered medication list tied to a review.
// A superseded prescription is retained for audit and stays out of the pharmacy queue.
type Prescription struct {
	ID                  string       `json:"id"`
	ReviewID            string       `json:"reviewId"`
	SurgeryID           string       `json:"surgeryId"`
	PatientID           string       `json:"patientId"`
	Medications         []Medication `json:"medications"`
	Status              Status       `json:"status"`
	Urgency             Urgency      `json:"urgency"`
	SpecialInstructions string       `json:"specialInstructions,omitempty"`
	Supersedes          string       `json:"supersedes,omitempty"`
	SupersededBy        string       `json:"supersededBy,omitempty"`
	CreatedBy           string       `json:"createdBy"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// Visible is the pharmacy visibility predicate
func Visible(p *Prescription) bool {
	return p != nil && p.Status == StatusApprovedForPacking
}

// pharmacy-driven transitions
var transitions = map[Status][]Status{
	StatusApprovedForPacking: {StatusPacked, StatusOutOfStock},
	StatusPacked:             {StatusDispensed},
}

// CanTransition reports whether the pharmacy may move a prescription from one status to another
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Draft is a proposed or corrected medication order before it is stored
type Draft struct {
	Medications         []Medication `json:"medications"`
	Urgency             Urgency      `json:"urgency"`
	SpecialInstructions string       `json:"specialInstructions,omitempty"`
}

// Validate checks the draft and defaults an empty urgency to ROUTINE.
// Rows with neither name nor dosage are dropped; a row with only one of
// them is rejected so a half-entered order is never silently lost.
// field prefixes the reported field path.
func (d *Draft) Validate(field string) error {
	meds := make([]Medication, 0, len(d.Medications))
	for i, m := range d.Medications {
		name, dosage := strings.TrimSpace(m.Name), strings.TrimSpace(m.Dosage)
		if name == "" && dosage == "" {
			continue
		}
		if name == "" {
			return apperror.Invalid(fmt.Sprintf("%s.medications[%d].name", field, i), "is required")
		}
		if dosage == "" {
			return apperror.Invalid(fmt.Sprintf("%s.medications[%d].dosage", field, i), "is required")
		}
		meds = append(meds, m)
	}
	if len(meds) == 0 {
		return apperror.Invalid(field+".medications", "at least one medication with name and dosage is required")
	}
	d.Medications = meds
	if d.Urgency == "" {
		d.Urgency = UrgencyRoutine
	}
	if !d.Urgency.Valid() {
		return apperror.Invalid(field+".urgency", fmt.Sprintf("unknown urgency %q", d.Urgency))
	}
	return nil
}

// FromDraft builds a prescription in the given status
func FromDraft(id string, d Draft, status Status, createdBy string, now time.Time) *Prescription {
	meds := make([]Medication, len(d.Medications))
	copy(meds, d.Medications)
	return &Prescription{
		ID:                  id,
		Medications:         meds,
		Status:              status,
		Urgency:             d.Urgency,
		SpecialInstructions: d.SpecialInstructions,
		CreatedBy:           createdBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
