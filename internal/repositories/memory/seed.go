package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

// Seed is the JSON fixture format accepted by Load.
type Seed struct {
	Patients []domain.Patient `json:"patients"`
	Appointments []struct {
		ID           string          `json:"id"`
		PatientID    string          `json:"patientId"`
		StaffID      string          `json:"staffId"`
		ServiceID    string          `json:"serviceId"`
		ServiceName  string          `json:"serviceName"`
		ServicePrice decimal.Decimal `json:"servicePrice"`
		Status       string          `json:"status"`
		ScheduledAt  time.Time       `json:"scheduledAt"`
	} `json:"appointments"`
	Products []struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		SKU    string          `json:"sku"`
		Price  decimal.Decimal `json:"price"`
		Active bool            `json:"active"`
	} `json:"products"`
	Storages []domain.Storage `json:"storages"`
	Stock    []struct {
		StorageID string `json:"storageId"`
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"stock"`
}

// Load decodes a JSON seed and inserts its records.
func (s *Store) Load(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("memory store: decode seed: %w", err)
	}
	for _, p := range seed.Patients {
		s.PutPatient(p)
	}
	for _, a := range seed.Appointments {
		s.PutAppointment(domain.Appointment{
			ID:          a.ID,
			PatientID:   a.PatientID,
			StaffID:     a.StaffID,
			ServiceID:   a.ServiceID,
			ServiceName: a.ServiceName,
			Status:      a.Status,
			ScheduledAt: a.ScheduledAt,
		}, a.ServicePrice)
	}
	for _, p := range seed.Products {
		s.PutProduct(domain.Product{ID: p.ID, Name: p.Name, SKU: p.SKU, Active: p.Active}, p.Price)
	}
	for _, st := range seed.Storages {
		s.PutStorage(st)
	}
	now := s.now().UTC()
	for _, level := range seed.Stock {
		s.PutStock(domain.StockLevel{
			StorageID: level.StorageID,
			ProductID: level.ProductID,
			Quantity:  level.Quantity,
			UpdatedAt: now,
		})
	}
	return nil
}
