package escalation

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/drfirst/go-periop/internal/infrastructure/postgres"
)

func testStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skipf("DATABASE_URL not set, skipping Postgres test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DatabaseURL: url, MaxConns: 20})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := postgres.NewMigrator(pool, nil).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPGStore(pool)
}

func TestPGEquipmentFaultOncePerEpisode(t *testing.T) {
	store := testStore(t)
	engine := NewEngine(store, nil)
	ctx := context.Background()
	itemID := "pump-" + uuid.NewString()
	ret := EquipmentReturn{SurgeryID: "surg-pg", Items: []ReturnedItem{
		{ItemID: itemID, Name: "Infusion pump", Condition: "FAULTY", FaultSeverity: "HIGH"},
	}}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.EquipmentReturned(ctx, ret); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	alerts, err := store.Alerts(ctx, EntityEquipmentItem, itemID)
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one alert for the open episode, got %d", len(alerts))
	}

	if err := engine.Resolve(ctx, EntityEquipmentItem, itemID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ep, err := store.Episode(ctx, EntityEquipmentItem, itemID)
	if err != nil {
		t.Fatalf("episode: %v", err)
	}
	if ep.Escalated || ep.ResolvedAt == nil {
		t.Errorf("expected resolved episode, got %+v", ep)
	}

	created, err := engine.EquipmentReturned(ctx, ret)
	if err != nil {
		t.Fatalf("return after resolve: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("fault after resolution starts a new episode, got %d alerts", len(created))
	}
	ep, err = store.Episode(ctx, EntityEquipmentItem, itemID)
	if err != nil {
		t.Fatalf("episode: %v", err)
	}
	if !ep.Escalated || ep.ResolvedAt != nil {
		t.Errorf("expected reopened episode, got %+v", ep)
	}
}

func TestPGManualAlertsAppend(t *testing.T) {
	store := testStore(t)
	engine := NewEngine(store, nil)
	ctx := context.Background()
	recordID := "pacu-" + uuid.NewString()

	for i := 0; i < 2; i++ {
		if _, err := engine.RaiseManual(ctx, ManualAlert{
			EntityID:    recordID,
			TriggerType: "RED_ALERT",
			Description: "desaturation",
			Severity:    "CRITICAL",
		}); err != nil {
			t.Fatalf("raise: %v", err)
		}
	}

	h, err := engine.History(ctx, EntityPACURecord, recordID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Alerts) != 2 || !h.Episode.Escalated {
		t.Errorf("unexpected history: %d alerts, episode %+v", len(h.Alerts), h.Episode)
	}
}
