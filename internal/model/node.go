package model

import (
	"net"
	"strings"
)

// NodeKey identifies a node across metric families. Every family must
// report the same instance label value for the same host.
type NodeKey struct {
	Instance string
}

// NodeIdentity is the key plus the friendly name first seen for the node.
type NodeIdentity struct {
	Instance string `json:"instance"`
	Name     string `json:"name,omitempty"`
}

func (id NodeIdentity) Key() NodeKey {
	return NodeKey{Instance: id.Instance}
}

func (id NodeIdentity) DisplayName() string {
	if id.Name != "" {
		return id.Name
	}
	return id.Instance
}

// IP returns the host part of the instance label.
func (id NodeIdentity) IP() string {
	host, _, err := net.SplitHostPort(id.Instance)
	if err == nil {
		return host
	}
	return strings.Trim(id.Instance, "[]")
}

type DiskEntry struct {
	Mountpoint string  `json:"mountpoint"`
	FSType     string  `json:"fstype,omitempty"`
	TotalBytes float64 `json:"total_bytes"`
	FreeBytes  float64 `json:"free_bytes"`
}

func (d DiskEntry) UsedBytes() float64 {
	return d.TotalBytes - d.FreeBytes
}

func (d DiskEntry) FreePct() float64 {
	return percentOf(d.FreeBytes, d.TotalBytes)
}

// NodeRecord is the aggregated view of one node.
type NodeRecord struct {
	Identity      NodeIdentity `json:"identity"`
	CPUCores      int          `json:"cpu_cores"`
	CPUUsedPct    float64      `json:"cpu_used_pct"`
	MemTotalBytes float64      `json:"mem_total_bytes"`
	MemFreeBytes  float64      `json:"mem_free_bytes"`
	Disks         []DiskEntry  `json:"disks"`
}

// FreePercent derives the free share of a percentage. CPU free time is never
// queried; it is always 100 minus the used share.
func FreePercent(usedPct float64) float64 {
	return 100 - usedPct
}

func (r NodeRecord) CPUFreePct() float64 {
	return FreePercent(r.CPUUsedPct)
}

func (r NodeRecord) MemUsedBytes() float64 {
	return r.MemTotalBytes - r.MemFreeBytes
}

func (r NodeRecord) MemUsedPct() float64 {
	return percentOf(r.MemUsedBytes(), r.MemTotalBytes)
}

func (r NodeRecord) MemFreePct() float64 {
	return percentOf(r.MemFreeBytes, r.MemTotalBytes)
}

func percentOf(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}
