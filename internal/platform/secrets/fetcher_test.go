package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const saltResource = "projects/clinic/secrets/audit_hash_salt/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newStubSecretClient()
	client.values[saltResource] = "remote-salt"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clinic"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://audit_hash_salt")
		if err != nil {
			t.Fatalf("Resolve #%d returned error: %v", i, err)
		}
		if got != "remote-salt" {
			t.Fatalf("expected remote-salt, got %s", got)
		}
	}
	if calls := client.calls(saltResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	ctx := context.Background()
	client := newStubSecretClient()
	client.values[saltResource] = "remote-salt"

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clinic"),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := fetcher.Resolve(ctx, "secret://audit_hash_salt"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := fetcher.Resolve(ctx, "secret://audit_hash_salt"); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if calls := client.calls(saltResource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "sm://audit_hash_salt=local-salt\n")

	client := newStubSecretClient()
	client.errors[saltResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clinic"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://audit_hash_salt")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-salt" {
		t.Fatalf("expected fallback local-salt, got %s", got)
	}
}

func TestResolveUsesEnvironmentVersionPins(t *testing.T) {
	ctx := context.Background()
	client := newStubSecretClient()
	pinned := "projects/clinic-prod/secrets/amqp_url/versions/5"
	client.values[pinned] = "amqp://v5"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithEnvironment("prod"),
		WithProjectMap(map[string]string{"prod": "clinic-prod"}),
		WithDefaultProject("clinic"),
		WithVersionPins(map[string]string{
			"prod:secret://amqp_url": "5",
			"secret://amqp_url":      "1",
		}),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://amqp_url")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "amqp://v5" {
		t.Fatalf("expected pinned version, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "secret://audit_hash_salt=local-salt\n")

	client := newStubSecretClient()
	client.errors[saltResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("clinic"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := fetcher.Resolve(ctx, "secret://audit_hash_salt"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	fetcher, err := NewFetcher(ctx, WithFallbackFile(writeFallback(t, "secret://audit_hash_salt=local-salt\n")))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://audit_hash_salt")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-salt" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

func TestResolveRejectsUnknownScheme(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithSecretManagerClient(newStubSecretClient()), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	if _, err := fetcher.Resolve(context.Background(), "vault://salt"); err == nil {
		t.Fatal("expected scheme error")
	}
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

type stubSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newStubSecretClient() *stubSecretClient {
	return &stubSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (s *stubSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := req.GetName()
	s.counter[name]++
	if err := s.errors[name]; err != nil {
		return nil, err
	}
	if value, ok := s.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (s *stubSecretClient) Close() error { return nil }

func (s *stubSecretClient) calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter[name]
}
