package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/drfirst/go-periop/internal/domain/actor"
	"github.com/drfirst/go-periop/internal/domain/apperror"
	"github.com/drfirst/go-periop/internal/domain/prescription"
)

// mockStore mirrors PGStore: every write happens under one lock so a
// transition either applies completely or not at all.
type mockStore struct {
	mu            sync.Mutex
	reviews       map[string]*Review
	decisions     map[string]*Decision
	prescriptions map[string]*prescription.Prescription
	events        []*Event
	rxEvents      []*prescription.Event
	failRelease   bool
}

func newMockStore() *mockStore {
	return &mockStore{
		reviews:       make(map[string]*Review),
		decisions:     make(map[string]*Decision),
		prescriptions: make(map[string]*prescription.Prescription),
	}
}

func (m *mockStore) Create(_ context.Context, sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub.Review
	m.reviews[cp.ID] = &cp
	if sub.Prescription != nil {
		rx := *sub.Prescription
		m.prescriptions[rx.ID] = &rx
	}
	m.events = append(m.events, sub.Events...)
	m.rxEvents = append(m.rxEvents, sub.PrescriptionEvents...)
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, apperror.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) Decision(_ context.Context, reviewID string) (*Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[reviewID]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	return d, nil
}

func (m *mockStore) ApplyTransition(_ context.Context, t *Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reviews[t.ReviewID]
	if !ok {
		return apperror.ErrNotFound
	}
	if r.Status != StatusSubmitted {
		return fmt.Errorf("review %s is %s: %w", r.ID, r.Status, apperror.ErrConflict)
	}
	if _, exists := m.decisions[t.ReviewID]; exists {
		return apperror.ErrConflict
	}

	// stage prescription effects before committing anything
	var released *prescription.Prescription
	if t.ReleasePrescriptionID != "" {
		rx, ok := m.prescriptions[t.ReleasePrescriptionID]
		if m.failRelease || !ok || rx.Status != prescription.StatusPendingApproval {
			return apperror.ErrConflict
		}
		cp := *rx
		cp.Status = prescription.StatusApprovedForPacking
		released = &cp
	}
	var superseded *prescription.Prescription
	if t.SupersedePrescriptionID != "" {
		rx, ok := m.prescriptions[t.SupersedePrescriptionID]
		if !ok || rx.SupersededBy != "" {
			return apperror.ErrConflict
		}
		cp := *rx
		cp.SupersededBy = t.Replacement.ID
		superseded = &cp
	}

	r.Status = t.To
	r.DecidedBy = t.Decision.ActorID
	at := t.At
	r.DecidedAt = &at
	m.decisions[t.ReviewID] = t.Decision
	if released != nil {
		m.prescriptions[released.ID] = released
	}
	if t.Replacement != nil {
		cp := *t.Replacement
		m.prescriptions[cp.ID] = &cp
	}
	if superseded != nil {
		m.prescriptions[superseded.ID] = superseded
	}
	m.events = append(m.events, t.Events...)
	m.rxEvents = append(m.rxEvents, t.PrescriptionEvents...)
	return nil
}

func (m *mockStore) visible() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for id, p := range m.prescriptions {
		if prescription.Visible(p) {
			out[id] = true
		}
	}
	return out
}

var (
	anesthetist = actor.Actor{ID: "an-1", Role: actor.RoleAnesthetist}
	consultant  = actor.Actor{ID: "co-1", Role: actor.RoleConsultantAnesthetist}
	nurse       = actor.Actor{ID: "nu-1", Role: actor.RoleNurse}
)

func proposed() *prescription.Draft {
	return &prescription.Draft{
		Medications: []prescription.Medication{{Name: "Midazolam", Dosage: "2mg", Route: "IV"}},
		Urgency:     prescription.UrgencyRoutine,
	}
}

func submitReview(t *testing.T, svc *Service) *Review {
	t.Helper()
	r, err := svc.Submit(context.Background(), anesthetist, SubmitRequest{
		SurgeryID:    "surg-1",
		PatientID:    "pat-1",
		Assessment:   Assessment{ASAClass: 2, AirwayNotes: "Mallampati II"},
		Prescription: proposed(),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return r
}

func TestSubmit(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)

	r := submitReview(t, svc)
	if r.Status != StatusSubmitted {
		t.Errorf("expected SUBMITTED, got %s", r.Status)
	}
	rx, ok := store.prescriptions[r.PrescriptionID]
	if !ok {
		t.Fatal("expected proposed prescription to be stored")
	}
	if rx.Status != prescription.StatusPendingApproval || rx.ReviewID != r.ID {
		t.Errorf("unexpected prescription %+v", rx)
	}
	if len(store.visible()) != 0 {
		t.Error("pending prescription must not be visible to pharmacy")
	}
	if len(store.events) != 1 || store.events[0].EventType != EventReviewSubmitted {
		t.Errorf("expected ReviewSubmitted event, got %+v", store.events)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(newMockStore(), nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, nurse, SubmitRequest{SurgeryID: "s", PatientID: "p"}); !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("nurse must not submit, got %v", err)
	}
	if _, err := svc.Submit(ctx, anesthetist, SubmitRequest{PatientID: "p"}); !apperror.IsValidation(err) {
		t.Errorf("expected validation for missing surgery, got %v", err)
	}
	bad := &prescription.Draft{Medications: []prescription.Medication{{Name: "Midazolam"}}}
	if _, err := svc.Submit(ctx, anesthetist, SubmitRequest{SurgeryID: "s", PatientID: "p", Prescription: bad}); !apperror.IsValidation(err) {
		t.Errorf("expected validation for missing dosage, got %v", err)
	}

	_, err := svc.Submit(ctx, anesthetist, SubmitRequest{
		SurgeryID:  "s",
		PatientID:  "p",
		Assessment: Assessment{ASAClass: 2, RiskProfileID: "not-a-uuid"},
	})
	var verr *apperror.ValidationError
	if !errors.As(err, &verr) || verr.Field != "assessment.riskProfileId" {
		t.Errorf("expected riskProfileId validation, got %v", err)
	}
}

func TestSubmitIgnoresBlankMedicationRows(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)

	draft := &prescription.Draft{Medications: []prescription.Medication{{}, {Name: "Midazolam", Dosage: "2mg"}}}
	r, err := svc.Submit(context.Background(), anesthetist, SubmitRequest{SurgeryID: "s", PatientID: "p", Prescription: draft})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := store.prescriptions[r.PrescriptionID].Medications; len(got) != 1 || got[0].Name != "Midazolam" {
		t.Errorf("expected blank row dropped, got %+v", got)
	}
}

func TestApproveReleasesPrescription(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	r := submitReview(t, svc)

	approved, err := svc.Approve(context.Background(), r.ID, consultant, "fit for GA")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved || approved.DecidedBy != consultant.ID || approved.DecidedAt == nil {
		t.Errorf("unexpected review %+v", approved)
	}
	if !store.visible()[r.PrescriptionID] {
		t.Error("approved prescription should be visible")
	}

	view, err := svc.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Decision == nil || view.Decision.Outcome != StatusApproved || view.Decision.ActorRole != actor.RoleConsultantAnesthetist {
		t.Errorf("unexpected decision %+v", view.Decision)
	}
}

func TestApproveWithoutPrescription(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)

	r, err := svc.Submit(context.Background(), anesthetist, SubmitRequest{SurgeryID: "s", PatientID: "p"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(context.Background(), r.ID, consultant, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if store.reviews[r.ID].Status != StatusApproved {
		t.Error("expected review approved")
	}
}

func TestApproveRequiresDeciderRole(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	r := submitReview(t, svc)

	for _, a := range []actor.Actor{anesthetist, nurse, {ID: "ph", Role: actor.RolePharmacist}} {
		if _, err := svc.Approve(context.Background(), r.ID, a, ""); !errors.Is(err, apperror.ErrForbidden) {
			t.Errorf("role %s: expected forbidden, got %v", a.Role, err)
		}
	}
	if store.reviews[r.ID].Status != StatusSubmitted {
		t.Error("forbidden approvals must not change state")
	}
	for _, role := range []actor.Role{actor.RoleAdmin, actor.RoleTheatreManager} {
		if err := actor.Require(actor.Actor{ID: "x", Role: role}, actor.ReviewDeciders...); err != nil {
			t.Errorf("role %s should be allowed to decide: %v", role, err)
		}
	}
}

func TestConcurrentApproveExactlyOneWins(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	r := submitReview(t, svc)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := actor.Actor{ID: fmt.Sprintf("co-%d", i), Role: actor.RoleConsultantAnesthetist}
			_, err := svc.Approve(context.Background(), r.ID, a, "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	success, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, apperror.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if success != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d", n-1, success, conflicts)
	}
	if len(store.decisions) != 1 {
		t.Errorf("expected exactly one decision, got %d", len(store.decisions))
	}
}

func TestApproveThenRejectConflicts(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	r := submitReview(t, svc)
	ctx := context.Background()

	if _, err := svc.Approve(ctx, r.ID, consultant, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	corrected := prescription.Draft{Medications: []prescription.Medication{{Name: "Atropine", Dosage: "0.5mg"}}}
	if _, _, err := svc.Reject(ctx, r.ID, consultant, "dosage error", corrected); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.Approve(ctx, r.ID, consultant, ""); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict on second approve, got %v", err)
	}
	if store.decisions[r.ID].Outcome != StatusApproved {
		t.Error("first decision must stand")
	}
}

func TestRejectWithCorrection(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	r := submitReview(t, svc)
	original := r.PrescriptionID

	corrected := prescription.Draft{
		Medications: []prescription.Medication{{Name: "Atropine", Dosage: "0.5mg", Route: "IV"}},
	}
	rejected, replacement, err := svc.Reject(context.Background(), r.ID, consultant, "dosage error", corrected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejectedWithCorrection {
		t.Errorf("expected REJECTED_WITH_CORRECTION, got %s", rejected.Status)
	}
	if replacement.Status != prescription.StatusApprovedForPacking || replacement.Supersedes != original {
		t.Errorf("unexpected replacement %+v", replacement)
	}

	visible := store.visible()
	if !visible[replacement.ID] {
		t.Error("corrected prescription must be visible immediately")
	}
	if visible[original] {
		t.Error("original prescription must not be visible")
	}
	kept, ok := store.prescriptions[original]
	if !ok {
		t.Fatal("original prescription must be retained")
	}
	if kept.SupersededBy != replacement.ID {
		t.Errorf("expected original superseded by %s, got %q", replacement.ID, kept.SupersededBy)
	}

	d := store.decisions[r.ID]
	if d.Reason != "dosage error" || d.ReplacementPrescriptionID != replacement.ID {
		t.Errorf("unexpected decision %+v", d)
	}
}

func TestRejectDropsBlankMedicationRows(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	r := submitReview(t, svc)

	corrected := prescription.Draft{
		Medications: []prescription.Medication{{Name: "Atropine", Dosage: "0.5mg"}, {Name: "", Dosage: ""}},
	}
	_, replacement, err := svc.Reject(context.Background(), r.ID, consultant, "dosage error", corrected)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if len(replacement.Medications) != 1 || replacement.Medications[0].Name != "Atropine" {
		t.Errorf("expected only the complete row, got %+v", replacement.Medications)
	}
	if !store.visible()[replacement.ID] {
		t.Error("corrected prescription must be visible")
	}
}

func TestRejectValidationLeavesStateUntouched(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	r := submitReview(t, svc)
	ctx := context.Background()
	good := prescription.Draft{Medications: []prescription.Medication{{Name: "Atropine", Dosage: "0.5mg"}}}

	cases := []struct {
		name   string
		reason string
		draft  prescription.Draft
		field  string
	}{
		{"empty reason", "  ", good, "reason"},
		{"no medications", "dosage error", prescription.Draft{}, "correctedPrescription.medications"},
		{"medication without dosage", "dosage error",
			prescription.Draft{Medications: []prescription.Medication{{Name: "Atropine"}}},
			"correctedPrescription.medications[0].dosage"},
		{"only blank rows", "dosage error",
			prescription.Draft{Medications: []prescription.Medication{{}, {Name: " ", Dosage: " "}}},
			"correctedPrescription.medications"},
		{"dosage without name after valid row", "dosage error",
			prescription.Draft{Medications: []prescription.Medication{{Name: "Atropine", Dosage: "0.5mg"}, {Dosage: "4mg"}}},
			"correctedPrescription.medications[1].name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Reject(ctx, r.ID, consultant, tc.reason, tc.draft)
			var verr *apperror.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, verr.Field)
			}
		})
	}

	if store.reviews[r.ID].Status != StatusSubmitted {
		t.Error("review must remain SUBMITTED")
	}
	if len(store.prescriptions) != 1 {
		t.Errorf("no prescription may be created, have %d", len(store.prescriptions))
	}
	if len(store.decisions) != 0 {
		t.Error("no decision may be recorded")
	}
}

func TestFailedTransitionAppliesNothing(t *testing.T) {
	store := newMockStore()
	store.failRelease = true
	svc := NewService(store, nil)
	r := submitReview(t, svc)

	if _, err := svc.Approve(context.Background(), r.ID, consultant, ""); err == nil {
		t.Fatal("expected failure")
	}
	if store.reviews[r.ID].Status != StatusSubmitted {
		t.Error("review must stay SUBMITTED when the prescription step fails")
	}
	if len(store.decisions) != 0 {
		t.Error("decision must not be recorded")
	}
}

func TestGetUnknownReview(t *testing.T) {
	svc := NewService(newMockStore(), nil)
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := svc.Approve(context.Background(), "nope", consultant, ""); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
