package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

type mockRepository struct {
	mu       sync.Mutex
	profiles []*Profile
	err      error
}

func (m *mockRepository) Create(_ context.Context, p *Profile) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, p)
	return nil
}

func (m *mockRepository) LatestForSurgery(_ context.Context, surgeryID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Profile
	for _, p := range m.profiles {
		if p.SurgeryID == surgeryID && (latest == nil || !p.CreatedAt.Before(latest.CreatedAt)) {
			latest = p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("risk profile for surgery %s: %w", surgeryID, apperror.ErrNotFound)
	}
	return latest, nil
}

func newTestService(repo Repository) *Service {
	svc := NewService(repo, nil)
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return svc
}

func TestAssessStoresProfile(t *testing.T) {
	repo := &mockRepository{}
	svc := newTestService(repo)

	p, err := svc.Assess(context.Background(), AssessRequest{
		SurgeryID:  "surg-1",
		PatientID:  "pat-1",
		AssessedBy: "anaes-1",
		Input:      sampleInput(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == "" {
		t.Error("expected generated id")
	}
	if len(repo.profiles) != 1 {
		t.Fatalf("expected 1 stored profile, got %d", len(repo.profiles))
	}
	if p.Result.Composite.FitnessCategory != FitnessFitWithPrecautions {
		t.Errorf("unexpected category %s", p.Result.Composite.FitnessCategory)
	}
}

func TestAssessValidation(t *testing.T) {
	repo := &mockRepository{}
	svc := newTestService(repo)

	cases := []struct {
		name  string
		req   AssessRequest
		field string
	}{
		{"missing surgery", AssessRequest{PatientID: "p", Input: sampleInput()}, "surgeryId"},
		{"missing patient", AssessRequest{SurgeryID: "s", Input: sampleInput()}, "patientId"},
		{"missing category", AssessRequest{SurgeryID: "s", PatientID: "p", Input: FactorInput{}}, "fitnessCategory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Assess(context.Background(), tc.req)
			var verr *apperror.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, verr.Field)
			}
		})
	}
	if len(repo.profiles) != 0 {
		t.Error("invalid requests must not be stored")
	}
}

func TestAssessRepositoryError(t *testing.T) {
	boom := errors.New("connection reset")
	svc := newTestService(&mockRepository{err: boom})

	_, err := svc.Assess(context.Background(), AssessRequest{SurgeryID: "s", PatientID: "p", Input: sampleInput()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
}

func TestLatestReturnsNewestProfile(t *testing.T) {
	repo := &mockRepository{}
	svc := newTestService(repo)
	ctx := context.Background()

	first, _ := svc.Assess(ctx, AssessRequest{SurgeryID: "s", PatientID: "p", Input: sampleInput()})
	in := sampleInput()
	in.FitnessCategory = FitnessHighRisk
	second, _ := svc.Assess(ctx, AssessRequest{SurgeryID: "s", PatientID: "p", Input: in})

	latest, err := svc.Latest(ctx, "s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != second.ID || latest.ID == first.ID {
		t.Errorf("expected re-assessment %s to be latest, got %s", second.ID, latest.ID)
	}

	if _, err := svc.Latest(ctx, "unknown"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
