package core

import (
	"testing"
	"time"
)

func TestBucketStart_Quantizes(t *testing.T) {
	bucket := 6 * time.Hour

	tests := []struct {
		ts   time.Time
		want time.Time
	}{
		{time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 1, 5, 59, 59, 0, time.UTC), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC), time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got := BucketStart(tt.ts, bucket)
		if !got.Equal(tt.want) {
			t.Errorf("BucketStart(%v) = %v, want %v", tt.ts, got, tt.want)
		}
	}
}

func TestBucketStart_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	local := time.Date(2025, 3, 1, 1, 30, 0, 0, loc) // 09:30 UTC
	got := BucketStart(local, 6*time.Hour)
	want := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("BucketStart(non-UTC) = %v, want %v", got, want)
	}
}

func TestScanDedupKey_Deterministic(t *testing.T) {
	bucket := 6 * time.Hour
	a := time.Date(2025, 3, 1, 8, 15, 0, 0, time.UTC)
	b := time.Date(2025, 3, 1, 11, 59, 59, 0, time.UTC)

	keyA := ScanDedupKey("acme", "cost.ingest", a, bucket)
	keyB := ScanDedupKey("acme", "cost.ingest", b, bucket)
	if keyA != keyB {
		t.Errorf("keys within one window differ: %q vs %q", keyA, keyB)
	}

	next := ScanDedupKey("acme", "cost.ingest", a.Add(bucket), bucket)
	if next == keyA {
		t.Error("keys across windows should differ")
	}
}

func TestScanDedupKey_Shape(t *testing.T) {
	ts := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	got := ScanDedupKey("acme", "cost.ingest", ts, 6*time.Hour)
	want := "acme:cost.ingest:1740808800"
	if got != want {
		t.Errorf("ScanDedupKey() = %q, want %q", got, want)
	}
}

func TestScanDedupKey_VariesByTenantAndType(t *testing.T) {
	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	base := ScanDedupKey("acme", "cost.ingest", ts, 0)
	if ScanDedupKey("globex", "cost.ingest", ts, 0) == base {
		t.Error("keys for different tenants should differ")
	}
	if ScanDedupKey("acme", "carbon.compute", ts, 0) == base {
		t.Error("keys for different job types should differ")
	}
}

func TestAdhocDedupKey(t *testing.T) {
	id := NewUUIDv7()
	got := AdhocDedupKey(id)
	if got != "adhoc:"+id {
		t.Errorf("AdhocDedupKey() = %q, want %q", got, "adhoc:"+id)
	}
}
