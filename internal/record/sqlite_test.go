package record

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &ScanRecord{
		ClientID:  "client-1",
		URL:       "https://example.com",
		Status:    StatusPending,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := store.Get(ctx, "client-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want %q", got.ClientID, "client-1")
	}
	if got.URL != "https://example.com" {
		t.Errorf("URL = %q, want %q", got.URL, "https://example.com")
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, rec.Timestamp)
	}
	if got.Geo != nil || got.ASN != nil || len(got.IPs) != 0 {
		t.Error("fresh record has populated enrichment fields")
	}
}

func TestSQLiteStore_CreateIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &ScanRecord{ClientID: "client-1", URL: "https://example.com", Status: StatusPending}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}
	// Replaying the create must not fail or duplicate.
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("replayed Create returned error: %v", err)
	}

	got, err := store.Get(ctx, "client-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.URL != "https://example.com" {
		t.Errorf("URL = %q after replay, want unchanged", got.URL)
	}
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(nope) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_UpdatePartialMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &ScanRecord{ClientID: "client-1", URL: "https://example.com", Status: StatusPending}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	ips := []IPGroup{
		{Addresses: []string{"93.184.216.34"}, Family: "v4"},
		{Addresses: nil, Family: "v6"},
	}
	geo := &GeoInfo{Country: "US", City: "Norwell", Latitude: 42.15, Longitude: -70.82}
	if err := store.Update(ctx, "client-1", Patch{IPs: ips, Geo: geo}); err != nil {
		t.Fatalf("Update(ips, geo) returned error: %v", err)
	}

	// A later patch for a different field must not touch ips or geo.
	asn := &ASNInfo{ASN: "AS15133", Name: "Edgecast"}
	if err := store.Update(ctx, "client-1", Patch{ASN: asn}); err != nil {
		t.Fatalf("Update(asn) returned error: %v", err)
	}

	got, err := store.Get(ctx, "client-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(got.IPs) != 2 || got.IPs[0].Addresses[0] != "93.184.216.34" {
		t.Errorf("IPs = %+v, want preserved groups", got.IPs)
	}
	if got.Geo == nil || got.Geo.Country != "US" {
		t.Errorf("Geo = %+v, want preserved", got.Geo)
	}
	if got.ASN == nil || got.ASN.ASN != "AS15133" {
		t.Errorf("ASN = %+v, want merged", got.ASN)
	}
}

func TestSQLiteStore_UpdateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, &ScanRecord{ClientID: "c", URL: "https://example.com", Status: StatusPending}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	path := "/storages/screenshots/screenshot_c.png"
	patch := Patch{Screenshot: &path}
	for i := 0; i < 2; i++ {
		if err := store.Update(ctx, "c", patch); err != nil {
			t.Fatalf("Update attempt %d returned error: %v", i+1, err)
		}
	}

	got, err := store.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Screenshot != path {
		t.Errorf("Screenshot = %q, want %q", got.Screenshot, path)
	}
}

func TestSQLiteStore_UpdateUnknownClient(t *testing.T) {
	store := newTestStore(t)

	status := StatusDone
	err := store.Update(context.Background(), "ghost", Patch{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_StructuredRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, &ScanRecord{ClientID: "c", URL: "https://example.com", Status: StatusPending}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	scan := &PortScanResult{
		Host: "example.com",
		Ports: []PortStatus{
			{Port: 80, Open: true, Service: "http"},
			{Port: 443, Open: true, Service: "https"},
			{Port: 22, Open: false, Service: "ssh"},
		},
		ScannedAt: time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
	}
	checks := []CheckResult{
		{Name: "hsts", Status: "missing", Message: "HSTS header not found."},
	}
	if err := store.Update(ctx, "c", Patch{PortScan: scan, HeaderChecks: checks}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	got, err := store.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.PortScan == nil {
		t.Fatal("PortScan is nil after round trip")
	}
	if got.PortScan.Host != "example.com" || len(got.PortScan.Ports) != 3 {
		t.Errorf("PortScan = %+v, want full result", got.PortScan)
	}
	if !got.PortScan.Ports[0].Open || got.PortScan.Ports[0].Service != "http" {
		t.Errorf("Ports[0] = %+v, want open http", got.PortScan.Ports[0])
	}
	if len(got.HeaderChecks) != 1 || got.HeaderChecks[0].Name != "hsts" {
		t.Errorf("HeaderChecks = %+v, want the persisted check", got.HeaderChecks)
	}
}
