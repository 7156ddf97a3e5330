package model

import (
	"errors"
	"testing"
)

func TestNodeIdentityIP(t *testing.T) {
	cases := []struct {
		instance string
		want     string
	}{
		{"10.0.0.5:9100", "10.0.0.5"},
		{"web-1:9100", "web-1"},
		{"[2001:db8::1]:9100", "2001:db8::1"},
		{"10.0.0.5", "10.0.0.5"},
		{"2001:db8::1", "2001:db8::1"},
	}
	for _, tc := range cases {
		got := NodeIdentity{Instance: tc.instance}.IP()
		if got != tc.want {
			t.Errorf("IP(%q) = %q, want %q", tc.instance, got, tc.want)
		}
	}
}

func TestDisplayNameFallsBackToInstance(t *testing.T) {
	if got := (NodeIdentity{Instance: "10.0.0.5:9100"}).DisplayName(); got != "10.0.0.5:9100" {
		t.Fatalf("DisplayName() = %q", got)
	}
	if got := (NodeIdentity{Instance: "10.0.0.5:9100", Name: "web-1"}).DisplayName(); got != "web-1" {
		t.Fatalf("DisplayName() = %q", got)
	}
}

func TestFreePercentComplementsUsed(t *testing.T) {
	for _, used := range []float64{0, 12.5, 50.12, 99.99, 100} {
		if got := used + FreePercent(used); got != 100 {
			t.Errorf("used %v + free = %v", used, got)
		}
	}
	r := NodeRecord{CPUUsedPct: 25}
	if r.CPUFreePct() != 75 {
		t.Fatalf("CPUFreePct() = %v", r.CPUFreePct())
	}
}

func TestDiskEntryUsedBytes(t *testing.T) {
	d := DiskEntry{TotalBytes: 100, FreeBytes: 40}
	if d.UsedBytes()+d.FreeBytes != d.TotalBytes {
		t.Fatalf("used %v + free %v != total %v", d.UsedBytes(), d.FreeBytes, d.TotalBytes)
	}
	if d.FreePct() != 40 {
		t.Fatalf("FreePct() = %v", d.FreePct())
	}
	if (DiskEntry{}).FreePct() != 0 {
		t.Fatal("zero total should yield zero percent")
	}
}

func TestMemoryPercentages(t *testing.T) {
	r := NodeRecord{MemTotalBytes: 16, MemFreeBytes: 4}
	if r.MemUsedBytes() != 12 || r.MemUsedPct() != 75 || r.MemFreePct() != 25 {
		t.Fatalf("got used=%v used%%=%v free%%=%v", r.MemUsedBytes(), r.MemUsedPct(), r.MemFreePct())
	}
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	qe := &QueryError{Family: FamilyMemTotal, Expr: "up", Kind: ErrConnection, Err: cause}
	if !errors.Is(qe, ErrConnection) || !errors.Is(qe, cause) {
		t.Fatalf("QueryError does not unwrap: %v", qe)
	}
	if errors.Is(qe, ErrQuery) {
		t.Fatal("connection error must not match ErrQuery")
	}

	we := &WriteError{Node: "web-1", Path: "reports/node_web-1.txt", Err: cause}
	if !errors.Is(we, ErrIO) {
		t.Fatalf("WriteError does not unwrap to ErrIO: %v", we)
	}

	de := &DataError{Family: FamilyCPUBusy, Reason: "value is NaN"}
	if !errors.Is(de, ErrData) {
		t.Fatalf("DataError does not unwrap to ErrData: %v", de)
	}
}

func TestParseFamily(t *testing.T) {
	for _, f := range Families {
		got, err := ParseFamily(string(f))
		if err != nil || got != f {
			t.Fatalf("ParseFamily(%q) = %q, %v", f, got, err)
		}
	}
	if _, err := ParseFamily("swap_total"); err == nil {
		t.Fatal("expected error for unknown family")
	}
}
