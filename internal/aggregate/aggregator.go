// Package aggregate folds flat per-family samples into one record per node.
package aggregate

import (
	"log/slog"
	"math"
	"sort"

	"node-reporter/internal/model"
)

type Options struct {
	InstanceLabel   string
	NameLabel       string
	MountpointLabel string
	FSTypeLabel     string
	// FSTypeDenylist drops disk samples whose filesystem type label matches.
	FSTypeDenylist []string
}

type Stats struct {
	Samples  int
	Skipped  int
	Excluded int
}

type diskKey struct {
	node       model.NodeKey
	mountpoint string
}

// Aggregator is not safe for concurrent use.
type Aggregator struct {
	opts   Options
	deny   map[string]struct{}
	logger *slog.Logger
	nodes  map[model.NodeKey]*model.NodeRecord
	disks  map[diskKey]int
	totals map[diskKey]bool
	stats  Stats
}

func New(opts Options, logger *slog.Logger) *Aggregator {
	if opts.InstanceLabel == "" {
		opts.InstanceLabel = "instance"
	}
	if opts.MountpointLabel == "" {
		opts.MountpointLabel = "mountpoint"
	}
	deny := make(map[string]struct{}, len(opts.FSTypeDenylist))
	for _, fs := range opts.FSTypeDenylist {
		deny[fs] = struct{}{}
	}
	return &Aggregator{
		opts:   opts,
		deny:   deny,
		logger: logger,
		nodes:  make(map[model.NodeKey]*model.NodeRecord),
		disks:  make(map[diskKey]int),
		totals: make(map[diskKey]bool),
	}
}

// Aggregate folds a snapshot in the fixed family order.
func Aggregate(snap model.Snapshot, opts Options, logger *slog.Logger) ([]model.NodeRecord, Stats) {
	a := New(opts, logger)
	for _, f := range model.Families {
		a.Fold(f, snap[f])
	}
	for key := range a.disks {
		if !a.totals[key] {
			logger.Warn("dropping disk without total size", "instance", key.node.Instance, "mountpoint", key.mountpoint)
		}
	}
	return a.Records(), a.Stats()
}

// Fold merges one family into the records. Families may be folded in any
// order; only the friendly name depends on it (first seen wins).
func (a *Aggregator) Fold(family model.Family, samples []model.Sample) {
	for _, s := range samples {
		a.stats.Samples++
		if err := a.fold(family, s); err != nil {
			a.stats.Skipped++
			a.logger.Warn("skipping sample", "error", err, "labels", s.Labels)
		}
	}
}

func (a *Aggregator) fold(family model.Family, s model.Sample) error {
	instance := s.Label(a.opts.InstanceLabel)
	if instance == "" {
		return &model.DataError{Family: family, Reason: "missing " + a.opts.InstanceLabel + " label", Labels: s.Labels}
	}
	rec := a.node(instance, s.Label(a.opts.NameLabel), family)

	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return &model.DataError{Family: family, Reason: "non-numeric value", Labels: s.Labels}
	}

	switch family {
	case model.FamilyCPUCores:
		rec.CPUCores = int(math.Round(s.Value))
	case model.FamilyCPUBusy:
		rec.CPUUsedPct = clampPercent(s.Value * 100)
	case model.FamilyMemTotal:
		rec.MemTotalBytes = s.Value
	case model.FamilyMemFree:
		rec.MemFreeBytes = s.Value
	case model.FamilyDiskTotal, model.FamilyDiskFree:
		return a.foldDisk(rec, family, s)
	}
	return nil
}

func (a *Aggregator) foldDisk(rec *model.NodeRecord, family model.Family, s model.Sample) error {
	fstype := s.Label(a.opts.FSTypeLabel)
	if _, denied := a.deny[fstype]; denied && fstype != "" {
		a.stats.Excluded++
		return nil
	}
	mount := s.Label(a.opts.MountpointLabel)
	if mount == "" {
		return &model.DataError{Family: family, Reason: "missing " + a.opts.MountpointLabel + " label", Labels: s.Labels}
	}

	key := diskKey{node: rec.Identity.Key(), mountpoint: mount}
	idx, ok := a.disks[key]
	if !ok {
		rec.Disks = append(rec.Disks, model.DiskEntry{Mountpoint: mount})
		idx = len(rec.Disks) - 1
		a.disks[key] = idx
	}
	d := &rec.Disks[idx]
	if d.FSType == "" {
		d.FSType = fstype
	}
	if family == model.FamilyDiskTotal {
		d.TotalBytes = s.Value
		a.totals[key] = true
	} else {
		d.FreeBytes = s.Value
	}
	return nil
}

func (a *Aggregator) node(instance, name string, family model.Family) *model.NodeRecord {
	key := model.NodeKey{Instance: instance}
	rec, ok := a.nodes[key]
	if !ok {
		rec = &model.NodeRecord{Identity: model.NodeIdentity{Instance: instance}, Disks: []model.DiskEntry{}}
		a.nodes[key] = rec
	}
	switch {
	case name == "" || name == rec.Identity.Name:
	case rec.Identity.Name == "":
		rec.Identity.Name = name
	default:
		a.logger.Debug("ignoring conflicting node name", "instance", instance, "kept", rec.Identity.Name, "ignored", name, "family", family)
	}
	return rec
}

// Records returns copies of all records ordered by instance, with disks
// ordered by mountpoint. Disks that never got a total size are left out.
func (a *Aggregator) Records() []model.NodeRecord {
	out := make([]model.NodeRecord, 0, len(a.nodes))
	for key, rec := range a.nodes {
		r := *rec
		r.Disks = make([]model.DiskEntry, 0, len(rec.Disks))
		for _, d := range rec.Disks {
			if a.totals[diskKey{node: key, mountpoint: d.Mountpoint}] {
				r.Disks = append(r.Disks, d)
			}
		}
		sort.Slice(r.Disks, func(i, j int) bool { return r.Disks[i].Mountpoint < r.Disks[j].Mountpoint })
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.Instance < out[j].Identity.Instance })
	return out
}

// Stats counts a disk without a total size as one skipped sample.
func (a *Aggregator) Stats() Stats {
	st := a.stats
	for key := range a.disks {
		if !a.totals[key] {
			st.Skipped++
		}
	}
	return st
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
