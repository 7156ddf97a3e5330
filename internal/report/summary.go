package report

import (
	"fmt"
	"io"

	"node-reporter/internal/model"
)

// Thresholds are minimum free percentages.
type Thresholds struct {
	CPUFree  float64
	MemFree  float64
	DiskFree float64
}

// Candidate is a node with enough free capacity on every resource.
type Candidate struct {
	Record model.NodeRecord
	Disks  []model.DiskEntry
}

// FreeCandidates returns the records meeting all thresholds, keeping only the
// disks that meet the disk threshold. A node without such a disk never
// qualifies.
func FreeCandidates(records []model.NodeRecord, th Thresholds) []Candidate {
	var out []Candidate
	for _, r := range records {
		_, cpuFree := CPUPercents(r)
		if cpuFree < th.CPUFree || r.MemFreePct() < th.MemFree {
			continue
		}
		var disks []model.DiskEntry
		for _, d := range r.Disks {
			if d.FreePct() >= th.DiskFree {
				disks = append(disks, d)
			}
		}
		if len(disks) == 0 {
			continue
		}
		out = append(out, Candidate{Record: r, Disks: disks})
	}
	return out
}

func WriteSummary(w io.Writer, records []model.NodeRecord, th Thresholds) error {
	ew := &errWriter{w: w}
	ew.printf("\nNodes with at least %g%% CPU free, %g%% Memory free, and %g%% Disk free:\n\n", th.CPUFree, th.MemFree, th.DiskFree)
	for _, c := range FreeCandidates(records, th) {
		r := c.Record
		_, cpuFree := CPUPercents(r)
		ew.printf("Node: %s\n", r.Identity.DisplayName())
		ew.printf("  CPU free: %.2f%%\n", cpuFree)
		ew.printf("  Memory free: %.2f GB (%.2f%%)\n", GB(r.MemFreeBytes), r.MemFreePct())
		ew.printf("  Disk(s) with sufficient free space:\n")
		for _, d := range c.Disks {
			ew.printf("    Mountpoint: %s, Free: %.2f GB (%.2f%%)\n", d.Mountpoint, GB(d.FreeBytes), d.FreePct())
		}
		ew.printf("%s\n", separator)
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
