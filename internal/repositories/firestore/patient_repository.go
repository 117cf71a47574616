package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/medicore-clinic/billing/internal/domain"
	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
)

const patientsCollection = "patients"

type patientDocument struct {
	FirstName      string `firestore:"firstName"`
	LastName       string `firestore:"lastName"`
	DocumentNumber string `firestore:"documentNumber"`
	Email          string `firestore:"email,omitempty"`
	Phone          string `firestore:"phone,omitempty"`
	Active         bool   `firestore:"active"`
}

// PatientRepository reads the patient registry projection.
type PatientRepository struct {
	base *pfirestore.BaseRepository[patientDocument]
}

// NewPatientRepository constructs a Firestore-backed patient repository.
func NewPatientRepository(provider *pfirestore.Provider) (*PatientRepository, error) {
	if provider == nil {
		return nil, errors.New("patient repository requires firestore provider")
	}
	return &PatientRepository{base: pfirestore.NewBaseRepository[patientDocument](provider, patientsCollection)}, nil
}

// FindByID loads a patient by id.
func (r *PatientRepository) FindByID(ctx context.Context, patientID string) (domain.Patient, error) {
	id := strings.TrimSpace(patientID)
	if id == "" {
		return domain.Patient{}, errors.New("patient repository: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Patient{}, err
	}
	return domain.Patient{
		ID:             doc.ID,
		FirstName:      doc.Data.FirstName,
		LastName:       doc.Data.LastName,
		DocumentNumber: doc.Data.DocumentNumber,
		Email:          doc.Data.Email,
		Phone:          doc.Data.Phone,
		Active:         doc.Data.Active,
	}, nil
}
