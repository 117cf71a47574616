package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

type stubPatientLookup struct {
	findFn func(ctx context.Context, id string) (domain.Patient, error)
}

func (s stubPatientLookup) FindByID(ctx context.Context, id string) (domain.Patient, error) {
	return s.findFn(ctx, id)
}

type stubAppointmentLookup struct {
	findFn func(ctx context.Context, id string) (domain.Appointment, error)
	calls  atomic.Int32
}

func (s *stubAppointmentLookup) FindByID(ctx context.Context, id string) (domain.Appointment, error) {
	s.calls.Add(1)
	return s.findFn(ctx, id)
}

func activePatient(id string) stubPatientLookup {
	return stubPatientLookup{findFn: func(_ context.Context, got string) (domain.Patient, error) {
		if got != id {
			return domain.Patient{}, fakeRepositoryError{notFound: true}
		}
		return domain.Patient{ID: id, FirstName: "Ana", LastName: "Quispe", Active: true}, nil
	}}
}

func appointmentsOf(owner map[string]string) *stubAppointmentLookup {
	return &stubAppointmentLookup{findFn: func(_ context.Context, id string) (domain.Appointment, error) {
		patient, ok := owner[id]
		if !ok {
			return domain.Appointment{}, fakeRepositoryError{notFound: true}
		}
		return domain.Appointment{ID: id, PatientID: patient, StaffID: "doc-" + id, Status: "attended"}, nil
	}}
}

func TestAppointmentValidatorReturnsAppointmentsInOrder(t *testing.T) {
	lookup := appointmentsOf(map[string]string{"a1": "pat-1", "a2": "pat-1", "a3": "pat-1"})
	validator, err := NewAppointmentValidator(AppointmentValidatorDeps{
		Patients:     activePatient("pat-1"),
		Appointments: lookup,
		Concurrency:  2,
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	patient, appointments, err := validator.Validate(context.Background(), " pat-1 ", []string{"a3", "a1", "a2"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if patient.ID != "pat-1" {
		t.Fatalf("unexpected patient %+v", patient)
	}
	if len(appointments) != 3 || appointments[0].ID != "a3" || appointments[1].ID != "a1" || appointments[2].ID != "a2" {
		t.Fatalf("expected request order, got %+v", appointments)
	}
	if lookup.calls.Load() != 3 {
		t.Fatalf("expected 3 lookups, got %d", lookup.calls.Load())
	}
}

func TestAppointmentValidatorMissingAppointment(t *testing.T) {
	validator, err := NewAppointmentValidator(AppointmentValidatorDeps{
		Patients:     activePatient("pat-1"),
		Appointments: appointmentsOf(map[string]string{"a1": "pat-1"}),
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	_, _, err = validator.Validate(context.Background(), "pat-1", []string{"a1", "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppointmentValidatorMissingPatient(t *testing.T) {
	validator, err := NewAppointmentValidator(AppointmentValidatorDeps{
		Patients:     activePatient("pat-1"),
		Appointments: appointmentsOf(nil),
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	_, _, err = validator.Validate(context.Background(), "pat-2", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppointmentValidatorRejectsForeignAppointment(t *testing.T) {
	validator, err := NewAppointmentValidator(AppointmentValidatorDeps{
		Patients:     activePatient("pat-1"),
		Appointments: appointmentsOf(map[string]string{"a1": "pat-1", "a2": "pat-9"}),
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	_, _, err = validator.Validate(context.Background(), "pat-1", []string{"a1", "a2"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAppointmentValidatorRejectsMalformedRequests(t *testing.T) {
	validator, err := NewAppointmentValidator(AppointmentValidatorDeps{
		Patients:     activePatient("pat-1"),
		Appointments: appointmentsOf(map[string]string{"a1": "pat-1"}),
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	cases := map[string]struct {
		patient string
		ids     []string
	}{
		"empty patient": {patient: " ", ids: nil},
		"empty id":      {patient: "pat-1", ids: []string{""}},
		"duplicate ids": {patient: "pat-1", ids: []string{"a1", "a1"}},
	}
	for name, tc := range cases {
		if _, _, err := validator.Validate(context.Background(), tc.patient, tc.ids); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}
