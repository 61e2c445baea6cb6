// Package escalation turns threshold triggers raised by monitoring
// collaborators into append-only alert records addressed to recipient roles.
package escalation

import (
	"strings"
	"time"
)

// EntityType names the kind of record an alert is raised against
type EntityType string

const (
	EntityEquipmentItem EntityType = "EQUIPMENT_ITEM"
	EntityPACURecord    EntityType = "PACU_RECORD"
)

// Recipient is a role that must be notified
type Recipient string

const (
	RecipientTheatreManager        Recipient = "THEATRE_MANAGER"
	RecipientTheatreChairman       Recipient = "THEATRE_CHAIRMAN"
	RecipientConsultantAnesthetist Recipient = "CONSULTANT_ANESTHETIST"
)

// Severity of an alert
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity normalizes s, reporting whether it is known
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, true
	}
	return sev, false
}

// Equipment conditions that trigger an escalation
const (
	ConditionFaulty  = "FAULTY"
	ConditionDamaged = "DAMAGED"
)

// Trigger type recorded for equipment alerts
const TriggerEquipmentFault = "EQUIPMENT_FAULT"

// Alert is an append-only escalation record
type Alert struct {
	ID          string      `json:"id"`
	EntityType  EntityType  `json:"entityType"`
	EntityID    string      `json:"entityId"`
	SurgeryID   string      `json:"surgeryId,omitempty"`
	TriggerType string      `json:"triggerType"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Recipients  []Recipient `json:"recipients"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Episode is the escalation state of one triggering entity.
// For PACU records Escalated is the red-alert flag.
type Episode struct {
	EntityType  EntityType `json:"entityType"`
	EntityID    string     `json:"entityId"`
	SurgeryID   string     `json:"surgeryId,omitempty"`
	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// Trigger is one candidate condition reported by a collaborator
type Trigger struct {
	EntityType  EntityType
	EntityID    string
	SurgeryID   string
	TriggerType string
	Condition   string
	Severity    Severity
	Description string
}

// Rule parameterizes the engine: when it fires, who hears about it, and
// whether an unresolved episode suppresses repeats.
type Rule struct {
	Name           string
	Fires          func(Trigger) bool
	Recipients     []Recipient
	OncePerEpisode bool
}

// EquipmentFaultRule fires for returned items reported FAULTY or DAMAGED
var EquipmentFaultRule = Rule{
	Name: "equipment-fault",
	Fires: func(t Trigger) bool {
		c := strings.ToUpper(strings.TrimSpace(t.Condition))
		return c == ConditionFaulty || c == ConditionDamaged
	},
	Recipients:     []Recipient{RecipientTheatreManager, RecipientTheatreChairman},
	OncePerEpisode: true,
}

// PACURedAlertRule fires on every manual declaration; each call is its own alert
var PACURedAlertRule = Rule{
	Name:           "pacu-red-alert",
	Fires:          func(Trigger) bool { return true },
	Recipients:     []Recipient{RecipientConsultantAnesthetist, RecipientTheatreManager},
	OncePerEpisode: false,
}

// Notification is one per-recipient message derived from an alert
type Notification struct {
	AlertID     string     `json:"alertId"`
	Recipient   Recipient  `json:"recipient"`
	EntityType  EntityType `json:"entityType"`
	EntityID    string     `json:"entityId"`
	SurgeryID   string     `json:"surgeryId,omitempty"`
	TriggerType string     `json:"triggerType"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	RaisedAt    time.Time  `json:"raisedAt"`
}

// Notifications expands a into one message per recipient
func Notifications(a *Alert) []Notification {
	out := make([]Notification, 0, len(a.Recipients))
	for _, r := range a.Recipients {
		out = append(out, Notification{
			AlertID:     a.ID,
			Recipient:   r,
			EntityType:  a.EntityType,
			EntityID:    a.EntityID,
			SurgeryID:   a.SurgeryID,
			TriggerType: a.TriggerType,
			Severity:    a.Severity,
			Description: a.Description,
			RaisedAt:    a.CreatedAt,
		})
	}
	return out
}
