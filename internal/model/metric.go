package model

import "fmt"

// Family names one of the metric families a report is assembled from.
type Family string

const (
	FamilyCPUCores  Family = "cpu_cores"
	FamilyCPUBusy   Family = "cpu_busy"
	FamilyMemTotal  Family = "mem_total"
	FamilyMemFree   Family = "mem_free"
	FamilyDiskTotal Family = "disk_total"
	FamilyDiskFree  Family = "disk_free"
)

// Families is the fixed evaluation order. The friendly name of a node is
// taken from the first family in this order that carries one.
var Families = []Family{
	FamilyCPUCores,
	FamilyCPUBusy,
	FamilyMemTotal,
	FamilyMemFree,
	FamilyDiskTotal,
	FamilyDiskFree,
}

func ParseFamily(s string) (Family, error) {
	for _, f := range Families {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown metric family %q", s)
}

// IsDisk reports whether samples of the family are keyed by mountpoint.
func (f Family) IsDisk() bool {
	return f == FamilyDiskTotal || f == FamilyDiskFree
}

// Sample is one scalar reading returned by an instant query.
type Sample struct {
	Metric string            `json:"metric"`
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

func (s Sample) Label(name string) string {
	return s.Labels[name]
}

// Snapshot holds the samples of every family from a single collection run.
type Snapshot map[Family][]Sample
