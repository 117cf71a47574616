package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

type stubAuditRepo struct {
	entries   []domain.AuditLogEntry
	appendErr error
}

func (s *stubAuditRepo) Append(_ context.Context, _ repositories.Tx, entry domain.AuditLogEntry) error {
	s.entries = append(s.entries, entry)
	return s.appendErr
}

type stubTx struct{}

func (stubTx) Backend() any { return nil }

func TestAuditLogServiceRecordSanitizesAndHashes(t *testing.T) {
	repo := &stubAuditRepo{}
	fixed := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)

	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Repository: repo,
		Clock:      func() time.Time { return fixed },
		HashSalt:   "pepper:",
	})
	if err != nil {
		t.Fatalf("new audit log service: %v", err)
	}

	err = svc.Record(context.Background(), stubTx{}, AuditLogRecord{
		Actor:                 "  staff:doc-7  ",
		Action:                " billing.order.create ",
		TargetRef:             " /orders/ord_1 ",
		Severity:              "Warn",
		RequestID:             " req-123 ",
		Metadata:              map[string]any{"documentNumber": "44556677", "orderCode": "RX-2025-000001"},
		SensitiveMetadataKeys: []string{"DocumentNumber"},
		IPAddress:             "203.0.113.42 ",
		UserAgent:             "TestAgent\x07",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Actor != "staff:doc-7" || entry.ActorType != "staff" {
		t.Fatalf("unexpected actor %q/%q", entry.Actor, entry.ActorType)
	}
	if entry.Action != "billing.order.create" || entry.TargetRef != "/orders/ord_1" {
		t.Fatalf("unexpected action/target %q %q", entry.Action, entry.TargetRef)
	}
	if entry.Severity != "warn" || entry.RequestID != "req-123" {
		t.Fatalf("unexpected severity/request id %q %q", entry.Severity, entry.RequestID)
	}
	if entry.UserAgent != "TestAgent" {
		t.Fatalf("expected control characters stripped, got %q", entry.UserAgent)
	}
	if !entry.CreatedAt.Equal(fixed) {
		t.Fatalf("expected clock time, got %s", entry.CreatedAt)
	}
	if !strings.HasPrefix(entry.IPHash, "sha256:") || strings.Contains(entry.IPHash, "203.0.113.42") {
		t.Fatalf("expected hashed ip, got %q", entry.IPHash)
	}
	doc, _ := entry.Metadata["documentNumber"].(string)
	if !strings.HasPrefix(doc, "sha256:") {
		t.Fatalf("expected sensitive metadata hashed, got %v", entry.Metadata["documentNumber"])
	}
	if entry.Metadata["orderCode"] != "RX-2025-000001" {
		t.Fatalf("expected plain metadata kept, got %v", entry.Metadata["orderCode"])
	}
}

func TestAuditLogServiceRecordPropagatesAppendError(t *testing.T) {
	repo := &stubAuditRepo{appendErr: errors.New("boom")}
	svc, err := NewAuditLogService(AuditLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new audit log service: %v", err)
	}
	err = svc.Record(context.Background(), stubTx{}, AuditLogRecord{Action: "billing.order.create"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected append error, got %v", err)
	}
}

func TestAuditLogServiceRecordRequiresTransaction(t *testing.T) {
	repo := &stubAuditRepo{}
	svc, err := NewAuditLogService(AuditLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new audit log service: %v", err)
	}
	if err := svc.Record(context.Background(), nil, AuditLogRecord{Action: "x"}); err == nil {
		t.Fatalf("expected error without transaction")
	}
	if len(repo.entries) != 0 {
		t.Fatalf("expected no append, got %d", len(repo.entries))
	}
}

func TestNormalizeActorType(t *testing.T) {
	cases := []struct {
		actorType string
		actor     string
		want      string
	}{
		{"Service", "", "service"},
		{"", "service:scheduler@project.iam", "service"},
		{"", "/users/u1", "user"},
		{"", "", "system"},
	}
	for _, tc := range cases {
		if got := normalizeActorType(tc.actorType, tc.actor); got != tc.want {
			t.Fatalf("normalizeActorType(%q, %q) = %q, want %q", tc.actorType, tc.actor, got, tc.want)
		}
	}
}
