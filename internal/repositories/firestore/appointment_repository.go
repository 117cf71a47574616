package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
)

const appointmentsCollection = "appointments"

type appointmentDocument struct {
	PatientID    string    `firestore:"patientId"`
	StaffID      string    `firestore:"staffId"`
	ServiceID    string    `firestore:"serviceId"`
	ServiceName  string    `firestore:"serviceName"`
	ServicePrice string    `firestore:"servicePrice"`
	Status       string    `firestore:"status"`
	ScheduledAt  time.Time `firestore:"scheduledAt"`
}

// AppointmentRepository reads the scheduling service projection of appointments.
type AppointmentRepository struct {
	base *pfirestore.BaseRepository[appointmentDocument]
}

// NewAppointmentRepository constructs a Firestore-backed appointment repository.
func NewAppointmentRepository(provider *pfirestore.Provider) (*AppointmentRepository, error) {
	if provider == nil {
		return nil, errors.New("appointment repository requires firestore provider")
	}
	return &AppointmentRepository{base: pfirestore.NewBaseRepository[appointmentDocument](provider, appointmentsCollection)}, nil
}

// FindByID loads an appointment by id.
func (r *AppointmentRepository) FindByID(ctx context.Context, appointmentID string) (domain.Appointment, error) {
	doc, err := r.get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	return domain.Appointment{
		ID:          doc.ID,
		PatientID:   doc.Data.PatientID,
		StaffID:     doc.Data.StaffID,
		ServiceID:   doc.Data.ServiceID,
		ServiceName: doc.Data.ServiceName,
		Status:      doc.Data.Status,
		ScheduledAt: doc.Data.ScheduledAt.UTC(),
	}, nil
}

// GetServicePrice returns the tax-inclusive price snapshotted on the appointment.
func (r *AppointmentRepository) GetServicePrice(ctx context.Context, appointmentID string) (decimal.Decimal, error) {
	doc, err := r.get(ctx, appointmentID)
	if err != nil {
		return decimal.Zero, err
	}
	return parseMoney("appointments.servicePrice", doc.Data.ServicePrice)
}

func (r *AppointmentRepository) get(ctx context.Context, appointmentID string) (pfirestore.Document[appointmentDocument], error) {
	id := strings.TrimSpace(appointmentID)
	if id == "" {
		return pfirestore.Document[appointmentDocument]{}, errors.New("appointment repository: id is required")
	}
	return r.base.Get(ctx, id)
}
