// Package report renders node records into the fixed text layout and
// writes one file per node.
//
// Byte quantities are shown in binary gigabytes (bytes / 2^30) with two
// decimals, for memory and disks alike.
package report

import (
	"fmt"
	"math"
	"strings"

	"node-reporter/internal/model"
)

const bytesPerGB = 1 << 30

var separator = strings.Repeat("-", 40)

func GB(bytes float64) float64 {
	return bytes / bytesPerGB
}

// CPUPercents returns used and free CPU as displayed. Free is derived from the
// rounded used value so the two always add up to exactly 100.00.
func CPUPercents(r model.NodeRecord) (used, free float64) {
	used = round2(r.CPUUsedPct)
	return used, model.FreePercent(used)
}

func Render(r model.NodeRecord) string {
	var b strings.Builder
	used, free := CPUPercents(r)

	fmt.Fprintf(&b, "Node: %s (IP: %s)\n", r.Identity.DisplayName(), r.Identity.IP())
	fmt.Fprintf(&b, " CPU cores: %d\n", r.CPUCores)
	fmt.Fprintf(&b, " CPU used: %.2f%%\n", used)
	fmt.Fprintf(&b, " CPU free: %.2f%%\n", free)
	fmt.Fprintf(&b, " Memory total: %.2f GB\n", GB(r.MemTotalBytes))
	fmt.Fprintf(&b, " Memory used: %.2f GB\n", GB(r.MemUsedBytes()))
	fmt.Fprintf(&b, " Memory free: %.2f GB\n", GB(r.MemFreeBytes))
	b.WriteString(" Disks:\n")
	if len(r.Disks) == 0 {
		b.WriteString("  No disk data available\n")
	}
	for _, d := range r.Disks {
		fmt.Fprintf(&b, "  Mountpoint: %s\n", d.Mountpoint)
		fmt.Fprintf(&b, "    Total: %.2f GB\n", GB(d.TotalBytes))
		fmt.Fprintf(&b, "    Used: %.2f GB\n", GB(d.UsedBytes()))
		fmt.Fprintf(&b, "    Free: %.2f GB\n", GB(d.FreeBytes))
	}
	b.WriteString(separator)
	b.WriteByte('\n')
	return b.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
