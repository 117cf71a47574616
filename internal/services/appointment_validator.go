package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

const (
	defaultLookupConcurrency   = 4
	appointmentStatusCancelled = "cancelled"
)

// PatientLookup reads patients from the patient registry.
type PatientLookup interface {
	FindByID(ctx context.Context, patientID string) (domain.Patient, error)
}

// AppointmentLookup reads appointments from the scheduling service.
type AppointmentLookup interface {
	FindByID(ctx context.Context, appointmentID string) (domain.Appointment, error)
}

// AppointmentValidatorDeps bundles the collaborators of the validator.
type AppointmentValidatorDeps struct {
	Patients     PatientLookup
	Appointments AppointmentLookup
	// Concurrency bounds the number of lookups in flight. Defaults to 4.
	Concurrency int
}

// AppointmentValidator loads the patient and appointments of a billing request concurrently and
// checks that they belong together.
type AppointmentValidator struct {
	patients     PatientLookup
	appointments AppointmentLookup
	concurrency  int
}

// NewAppointmentValidator constructs a validator.
func NewAppointmentValidator(deps AppointmentValidatorDeps) (*AppointmentValidator, error) {
	if deps.Patients == nil {
		return nil, errors.New("appointment validator: patient lookup is required")
	}
	if deps.Appointments == nil {
		return nil, errors.New("appointment validator: appointment lookup is required")
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultLookupConcurrency
	}
	return &AppointmentValidator{
		patients:     deps.Patients,
		appointments: deps.Appointments,
		concurrency:  concurrency,
	}, nil
}

// Validate returns the patient and the appointments in request order. A missing record yields
// ErrNotFound; an inactive patient, a duplicated id, a cancelled appointment or an appointment
// owned by another patient yields ErrValidation.
func (v *AppointmentValidator) Validate(ctx context.Context, patientID string, appointmentIDs []string) (domain.Patient, []domain.Appointment, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return domain.Patient{}, nil, fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	ids := make([]string, len(appointmentIDs))
	seen := make(map[string]struct{}, len(appointmentIDs))
	for i, raw := range appointmentIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return domain.Patient{}, nil, fmt.Errorf("%w: appointmentIds[%d] is empty", ErrValidation, i)
		}
		if _, dup := seen[id]; dup {
			return domain.Patient{}, nil, fmt.Errorf("%w: appointment %s listed twice", ErrValidation, id)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}

	var patient domain.Patient
	appointments := make([]domain.Appointment, len(ids))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(v.concurrency)
	group.Go(func() error {
		p, err := v.patients.FindByID(gctx, patientID)
		if err != nil {
			return mapRepositoryError(err, fmt.Sprintf("patient %s", patientID))
		}
		patient = p
		return nil
	})
	for i, id := range ids {
		group.Go(func() error {
			appointment, err := v.appointments.FindByID(gctx, id)
			if err != nil {
				return mapRepositoryError(err, fmt.Sprintf("appointment %s", id))
			}
			appointments[i] = appointment
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return domain.Patient{}, nil, err
	}

	if !patient.Active {
		return domain.Patient{}, nil, fmt.Errorf("%w: patient %s is inactive", ErrValidation, patientID)
	}
	for _, appointment := range appointments {
		if appointment.PatientID != patientID {
			return domain.Patient{}, nil, fmt.Errorf("%w: appointment %s belongs to another patient", ErrValidation, appointment.ID)
		}
		if strings.EqualFold(appointment.Status, appointmentStatusCancelled) {
			return domain.Patient{}, nil, fmt.Errorf("%w: appointment %s is cancelled", ErrValidation, appointment.ID)
		}
	}
	return patient, appointments, nil
}
