package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// Store persists alerts and episode flags
type Store interface {
	// Record marks the entity's episode escalated and appends alert in one atomic
	// step. With once set and the episode already escalated it writes nothing and
	// returns false.
	Record(ctx context.Context, alert *Alert, once bool) (bool, error)
	Resolve(ctx context.Context, entityType EntityType, entityID string, at time.Time) error
	Alerts(ctx context.Context, entityType EntityType, entityID string) ([]*Alert, error)
	Episode(ctx context.Context, entityType EntityType, entityID string) (*Episode, error)
}

// Engine evaluates rules against triggers and records the resulting alerts
type Engine struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewEngine creates an escalation engine
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("escalation-engine"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Fire evaluates rule for t. It returns nil without error when the rule does
// not fire or the open episode suppresses a repeat.
func (e *Engine) Fire(ctx context.Context, rule Rule, t Trigger) (*Alert, error) {
	ctx, span := e.tracer.Start(ctx, "escalation_fire",
		trace.WithAttributes(
			attribute.String("rule", rule.Name),
			attribute.String("entity_type", string(t.EntityType)),
			attribute.String("entity_id", t.EntityID),
		))
	defer span.End()

	if !rule.Fires(t) {
		return nil, nil
	}

	recipients := make([]Recipient, len(rule.Recipients))
	copy(recipients, rule.Recipients)
	alert := &Alert{
		ID:          uuid.New().String(),
		EntityType:  t.EntityType,
		EntityID:    t.EntityID,
		SurgeryID:   t.SurgeryID,
		TriggerType: t.TriggerType,
		Severity:    t.Severity,
		Description: t.Description,
		Recipients:  recipients,
		CreatedAt:   e.now(),
	}

	recorded, err := e.store.Record(ctx, alert, rule.OncePerEpisode)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("record alert: %w", err)
	}
	if !recorded {
		span.SetAttributes(attribute.Bool("suppressed", true))
		e.logger.Debug("escalation suppressed, episode still open",
			zap.String("rule", rule.Name),
			zap.String("entity_id", t.EntityID))
		return nil, nil
	}

	e.logger.Info("escalation raised",
		zap.String("alert_id", alert.ID),
		zap.String("rule", rule.Name),
		zap.String("entity_type", string(alert.EntityType)),
		zap.String("entity_id", alert.EntityID),
		zap.String("severity", string(alert.Severity)))
	return alert, nil
}

// ReturnedItem is one line of an equipment return
type ReturnedItem struct {
	ItemID        string `json:"itemId"`
	Name          string `json:"name"`
	Condition     string `json:"condition"`
	FaultSeverity string `json:"faultSeverity"`
	Notes         string `json:"notes"`
}

// EquipmentReturn is a batch of items handed back after a case
type EquipmentReturn struct {
	ReturnID  string         `json:"returnId"`
	SurgeryID string         `json:"surgeryId"`
	Items     []ReturnedItem `json:"items"`
}

// EquipmentReturned raises one alert per faulty or damaged item not already escalated.
// Each item commits on its own. When recording fails part way, the alerts
// already committed are returned with the error; resending the whole return
// is safe because those items are suppressed by their open episode.
func (e *Engine) EquipmentReturned(ctx context.Context, ret EquipmentReturn) ([]*Alert, error) {
	triggers := make([]Trigger, 0, len(ret.Items))
	for i, item := range ret.Items {
		if strings.TrimSpace(item.ItemID) == "" {
			return nil, apperror.Invalid(fmt.Sprintf("items[%d].itemId", i), "is required")
		}
		t := Trigger{
			EntityType:  EntityEquipmentItem,
			EntityID:    item.ItemID,
			SurgeryID:   ret.SurgeryID,
			TriggerType: TriggerEquipmentFault,
			Condition:   item.Condition,
			Description: itemDescription(item),
		}
		if EquipmentFaultRule.Fires(t) {
			sev, ok := ParseSeverity(item.FaultSeverity)
			if !ok {
				return nil, apperror.Invalid(fmt.Sprintf("items[%d].faultSeverity", i), fmt.Sprintf("unknown severity %q", item.FaultSeverity))
			}
			t.Severity = sev
		}
		triggers = append(triggers, t)
	}

	var alerts []*Alert
	for _, t := range triggers {
		a, err := e.Fire(ctx, EquipmentFaultRule, t)
		if err != nil {
			return alerts, fmt.Errorf("escalate item %s: %w", t.EntityID, err)
		}
		if a != nil {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func itemDescription(item ReturnedItem) string {
	name := item.Name
	if name == "" {
		name = item.ItemID
	}
	desc := fmt.Sprintf("%s returned %s", name, strings.ToUpper(strings.TrimSpace(item.Condition)))
	if item.Notes != "" {
		desc += ": " + item.Notes
	}
	return desc
}

// ManualAlert is a PACU red alert declared by clinical staff
type ManualAlert struct {
	EntityType  EntityType `json:"entityType"`
	EntityID    string     `json:"entityId"`
	SurgeryID   string     `json:"surgeryId"`
	TriggerType string     `json:"triggerType"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
}

// RaiseManual sets the record's red-alert flag and appends an alert on every call
func (e *Engine) RaiseManual(ctx context.Context, m ManualAlert) (*Alert, error) {
	if strings.TrimSpace(m.EntityID) == "" {
		return nil, apperror.Invalid("entityId", "is required")
	}
	if strings.TrimSpace(m.TriggerType) == "" {
		return nil, apperror.Invalid("triggerType", "is required")
	}
	if strings.TrimSpace(m.Description) == "" {
		return nil, apperror.Invalid("description", "is required")
	}
	sev, ok := ParseSeverity(m.Severity)
	if !ok {
		return nil, apperror.Invalid("severity", fmt.Sprintf("unknown severity %q", m.Severity))
	}
	if m.EntityType == "" {
		m.EntityType = EntityPACURecord
	}

	a, err := e.Fire(ctx, PACURedAlertRule, Trigger{
		EntityType:  m.EntityType,
		EntityID:    m.EntityID,
		SurgeryID:   m.SurgeryID,
		TriggerType: m.TriggerType,
		Severity:    sev,
		Description: m.Description,
	})
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("manual alert for %s was not recorded", m.EntityID)
	}
	return a, nil
}

// Resolve closes the entity's episode so a later trigger starts a new one
func (e *Engine) Resolve(ctx context.Context, entityType EntityType, entityID string) error {
	if err := e.store.Resolve(ctx, entityType, entityID, e.now()); err != nil {
		return err
	}
	e.logger.Info("escalation episode resolved",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID))
	return nil
}

// History is an entity's episode and its alerts
type History struct {
	Episode *Episode `json:"episode"`
	Alerts  []*Alert `json:"alerts"`
}

// History returns the episode state and alert trail for an entity
func (e *Engine) History(ctx context.Context, entityType EntityType, entityID string) (*History, error) {
	ep, err := e.store.Episode(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	alerts, err := e.store.Alerts(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	return &History{Episode: ep, Alerts: alerts}, nil
}
