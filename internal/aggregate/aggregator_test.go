package aggregate

import (
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"

	"node-reporter/internal/model"
)

const gib = 1 << 30

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultOptions() Options {
	return Options{
		InstanceLabel:   "instance",
		NameLabel:       "job",
		MountpointLabel: "mountpoint",
		FSTypeLabel:     "fstype",
		FSTypeDenylist:  []string{"tmpfs", "overlay"},
	}
}

func sample(value float64, labels ...string) model.Sample {
	m := map[string]string{}
	for i := 0; i+1 < len(labels); i += 2 {
		m[labels[i]] = labels[i+1]
	}
	return model.Sample{Labels: m, Value: value}
}

func webSnapshot() model.Snapshot {
	return model.Snapshot{
		model.FamilyCPUCores: {sample(4, "instance", "10.0.0.1:9100", "job", "web-1")},
		model.FamilyCPUBusy:  {sample(0.5012, "instance", "10.0.0.1:9100", "job", "web-1")},
		model.FamilyMemTotal: {sample(16*gib, "instance", "10.0.0.1:9100", "job", "web-1")},
		model.FamilyMemFree:  {sample(4*gib, "instance", "10.0.0.1:9100", "job", "web-1")},
		model.FamilyDiskTotal: {
			sample(100*gib, "instance", "10.0.0.1:9100", "job", "web-1", "mountpoint", "/", "fstype", "ext4"),
			sample(2*gib, "instance", "10.0.0.1:9100", "job", "web-1", "mountpoint", "/run", "fstype", "tmpfs"),
		},
		model.FamilyDiskFree: {
			sample(40*gib, "instance", "10.0.0.1:9100", "job", "web-1", "mountpoint", "/", "fstype", "ext4"),
			sample(1*gib, "instance", "10.0.0.1:9100", "job", "web-1", "mountpoint", "/run", "fstype", "tmpfs"),
		},
	}
}

func TestAggregateSingleNode(t *testing.T) {
	records, stats := Aggregate(webSnapshot(), defaultOptions(), testLogger())
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	busy := 0.5012
	want := model.NodeRecord{
		Identity:      model.NodeIdentity{Instance: "10.0.0.1:9100", Name: "web-1"},
		CPUCores:      4,
		CPUUsedPct:    busy * 100,
		MemTotalBytes: 16 * gib,
		MemFreeBytes:  4 * gib,
		Disks:         []model.DiskEntry{{Mountpoint: "/", FSType: "ext4", TotalBytes: 100 * gib, FreeBytes: 40 * gib}},
	}
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("record mismatch\n got: %+v\nwant: %+v", r, want)
	}
	if stats.Excluded != 2 {
		t.Errorf("Excluded = %d, want 2 tmpfs samples", stats.Excluded)
	}
	if stats.Skipped != 0 || stats.Samples != 8 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAggregateNodeWithoutDisks(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyCPUCores: {sample(2, "instance", "10.0.0.9:9100", "job", "edge-1")},
	}
	records, _ := Aggregate(snap, defaultOptions(), testLogger())
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Disks == nil || len(records[0].Disks) != 0 {
		t.Fatalf("Disks = %#v, want empty non-nil slice", records[0].Disks)
	}
}

func TestAggregateEmptySnapshot(t *testing.T) {
	records, stats := Aggregate(model.Snapshot{}, defaultOptions(), testLogger())
	if len(records) != 0 || stats.Samples != 0 {
		t.Fatalf("records=%v stats=%+v", records, stats)
	}
}

func TestAggregateFirstSeenNameWins(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyCPUCores: {sample(8, "instance", "10.0.0.3:9100", "job", "db-primary")},
		model.FamilyMemTotal: {sample(32*gib, "instance", "10.0.0.3:9100", "job", "postgres")},
	}
	records, _ := Aggregate(snap, defaultOptions(), testLogger())
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if got := records[0].Identity.Name; got != "db-primary" {
		t.Fatalf("Name = %q, want name from cpu core family", got)
	}
	if records[0].MemTotalBytes != 32*gib {
		t.Fatal("conflicting name must not drop the sample value")
	}
}

func TestAggregateNameFromLaterFamilyWhenEarlierHasNone(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyCPUCores: {sample(8, "instance", "10.0.0.3:9100")},
		model.FamilyMemTotal: {sample(32*gib, "instance", "10.0.0.3:9100", "job", "postgres")},
	}
	records, _ := Aggregate(snap, defaultOptions(), testLogger())
	if got := records[0].Identity.Name; got != "postgres" {
		t.Fatalf("Name = %q, want postgres", got)
	}
}

func TestAggregateSkipsBadSamples(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyCPUCores: {
			sample(4, "instance", "10.0.0.1:9100"),
			sample(4, "job", "orphan"),
		},
		model.FamilyCPUBusy:  {sample(math.NaN(), "instance", "10.0.0.1:9100")},
		model.FamilyMemTotal: {sample(math.Inf(1), "instance", "10.0.0.1:9100")},
		model.FamilyDiskTotal: {
			sample(10*gib, "instance", "10.0.0.1:9100", "fstype", "ext4"),
		},
	}
	records, stats := Aggregate(snap, defaultOptions(), testLogger())
	if stats.Skipped != 4 {
		t.Fatalf("Skipped = %d, want 4", stats.Skipped)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if r.CPUCores != 4 || r.CPUUsedPct != 0 || r.MemTotalBytes != 0 || len(r.Disks) != 0 {
		t.Fatalf("record = %+v", r)
	}
}

func TestAggregateClampsAndRounds(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyCPUCores: {
			sample(3.6, "instance", "a:9100"),
			sample(2.2, "instance", "b:9100"),
		},
		model.FamilyCPUBusy: {
			sample(1.07, "instance", "a:9100"),
			sample(-0.01, "instance", "b:9100"),
		},
	}
	records, _ := Aggregate(snap, defaultOptions(), testLogger())
	if records[0].CPUCores != 4 || records[0].CPUUsedPct != 100 {
		t.Errorf("a = %+v", records[0])
	}
	if records[1].CPUCores != 2 || records[1].CPUUsedPct != 0 {
		t.Errorf("b = %+v", records[1])
	}
}

func TestAggregateEmptyDenylistKeepsPseudoFilesystems(t *testing.T) {
	opts := defaultOptions()
	opts.FSTypeDenylist = nil
	records, stats := Aggregate(webSnapshot(), opts, testLogger())
	if stats.Excluded != 0 {
		t.Fatalf("Excluded = %d", stats.Excluded)
	}
	if len(records[0].Disks) != 2 {
		t.Fatalf("Disks = %+v", records[0].Disks)
	}
}

func TestAggregateOneRecordPerInstance(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyCPUCores: {sample(4, "instance", "a:9100")},
		model.FamilyMemFree:  {sample(1, "instance", "b:9100")},
		model.FamilyDiskFree: {sample(1, "instance", "c:9100", "mountpoint", "/data")},
	}
	a := New(defaultOptions(), testLogger())
	for _, f := range model.Families {
		a.Fold(f, snap[f])
	}
	recs := a.Records()
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, inst := range []string{"a:9100", "b:9100", "c:9100"} {
		if recs[i].Identity.Instance != inst {
			t.Errorf("records[%d] = %s, want %s", i, recs[i].Identity.Instance, inst)
		}
	}
}

func TestAggregateDropsDiskWithoutTotal(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyDiskTotal: {sample(100*gib, "instance", "10.0.0.1:9100", "mountpoint", "/", "fstype", "ext4")},
		model.FamilyDiskFree: {
			sample(40*gib, "instance", "10.0.0.1:9100", "mountpoint", "/", "fstype", "ext4"),
			sample(8*gib, "instance", "10.0.0.1:9100", "mountpoint", "/data", "fstype", "xfs"),
		},
	}
	records, stats := Aggregate(snap, defaultOptions(), testLogger())
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	disks := records[0].Disks
	if len(disks) != 1 || disks[0].Mountpoint != "/" {
		t.Fatalf("Disks = %+v, want only /", disks)
	}
	for _, d := range disks {
		if d.UsedBytes() < 0 {
			t.Errorf("%s: negative used %v", d.Mountpoint, d.UsedBytes())
		}
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
}

func TestRecordsAreCopies(t *testing.T) {
	a := New(defaultOptions(), testLogger())
	snap := webSnapshot()
	for _, f := range model.Families {
		a.Fold(f, snap[f])
	}
	first := a.Records()
	first[0].CPUCores = 99
	first[0].Disks[0].FreeBytes = 0
	second := a.Records()
	if second[0].CPUCores != 4 || second[0].Disks[0].FreeBytes != 40*gib {
		t.Fatalf("mutating a returned record changed aggregator state: %+v", second[0])
	}
}

func multiNodeSnapshot() model.Snapshot {
	snap := webSnapshot()
	add := func(f model.Family, s model.Sample) { snap[f] = append(snap[f], s) }
	add(model.FamilyCPUCores, sample(16, "instance", "10.0.0.2:9100", "job", "db-1"))
	add(model.FamilyCPUBusy, sample(0.25, "instance", "10.0.0.2:9100", "job", "db-1"))
	add(model.FamilyMemTotal, sample(64*gib, "instance", "10.0.0.2:9100", "job", "db-1"))
	add(model.FamilyMemFree, sample(10*gib, "instance", "10.0.0.2:9100", "job", "db-1"))
	add(model.FamilyDiskFree, sample(300*gib, "instance", "10.0.0.2:9100", "job", "db-1", "mountpoint", "/var/lib/postgresql"))
	add(model.FamilyDiskFree, sample(5*gib, "instance", "10.0.0.2:9100", "job", "db-1", "mountpoint", "/"))
	add(model.FamilyDiskTotal, sample(20*gib, "instance", "10.0.0.2:9100", "job", "db-1", "mountpoint", "/"))
	add(model.FamilyDiskTotal, sample(500*gib, "instance", "10.0.0.2:9100", "job", "db-1", "mountpoint", "/var/lib/postgresql"))
	return snap
}

func permutations(fs []model.Family) [][]model.Family {
	if len(fs) <= 1 {
		return [][]model.Family{append([]model.Family{}, fs...)}
	}
	var out [][]model.Family
	for i := range fs {
		rest := make([]model.Family, 0, len(fs)-1)
		rest = append(rest, fs[:i]...)
		rest = append(rest, fs[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]model.Family{fs[i]}, p...))
		}
	}
	return out
}

func TestFoldOrderIndependent(t *testing.T) {
	snap := multiNodeSnapshot()
	want, _ := Aggregate(snap, defaultOptions(), testLogger())

	perms := permutations(model.Families)
	if len(perms) != 720 {
		t.Fatalf("got %d permutations", len(perms))
	}
	for _, order := range perms {
		a := New(defaultOptions(), testLogger())
		for _, f := range order {
			a.Fold(f, snap[f])
		}
		if got := a.Records(); !reflect.DeepEqual(got, want) {
			t.Fatalf("order %v produced\n%+v\nwant\n%+v", order, got, want)
		}
	}
}

func TestFoldOrderDecidesConflictingName(t *testing.T) {
	snap := model.Snapshot{
		model.FamilyCPUCores: {sample(4, "instance", "10.0.0.1:9100", "job", "web-1")},
		model.FamilyMemTotal: {sample(16*gib, "instance", "10.0.0.1:9100", "job", "frontend")},
	}
	fixed, _ := Aggregate(snap, defaultOptions(), testLogger())
	if fixed[0].Identity.Name != "web-1" {
		t.Fatalf("fixed order name = %q", fixed[0].Identity.Name)
	}

	a := New(defaultOptions(), testLogger())
	a.Fold(model.FamilyMemTotal, snap[model.FamilyMemTotal])
	a.Fold(model.FamilyCPUCores, snap[model.FamilyCPUCores])
	if got := a.Records()[0].Identity.Name; got != "frontend" {
		t.Fatalf("reversed order name = %q, want frontend", got)
	}
}

func TestDiskInvariant(t *testing.T) {
	records, _ := Aggregate(multiNodeSnapshot(), defaultOptions(), testLogger())
	for _, r := range records {
		for _, d := range r.Disks {
			if d.UsedBytes()+d.FreeBytes != d.TotalBytes {
				t.Errorf("%s %s: used %v + free %v != total %v", r.Identity.Instance, d.Mountpoint, d.UsedBytes(), d.FreeBytes, d.TotalBytes)
			}
		}
	}
}
