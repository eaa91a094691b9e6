package host

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot описывает состояние узла, на котором запускается arduino-cli.
type Snapshot struct {
	Hostname   string  `json:"hostname"`
	Platform   string  `json:"platform"`
	Kernel     string  `json:"kernel"`
	UptimeSec  uint64  `json:"uptime_sec"`
	BootTime   string  `json:"boot_time"`
	MemTotal   uint64  `json:"mem_total"`
	MemUsed    uint64  `json:"mem_used"`
	MemUsedPct float64 `json:"mem_used_pct"`
	Load1      float64 `json:"load1"`
	Load5      float64 `json:"load5"`
	Load15     float64 `json:"load15"`
}

// Collect собирает снимок состояния узла.
func Collect(ctx context.Context) (Snapshot, error) {
	hInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("host info: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("memory info: %w", err)
	}
	ld, err := load.AvgWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load info: %w", err)
	}
	return Snapshot{
		Hostname:   hInfo.Hostname,
		Platform:   hInfo.Platform + " " + hInfo.PlatformVersion,
		Kernel:     hInfo.KernelVersion,
		UptimeSec:  hInfo.Uptime,
		BootTime:   time.Unix(int64(hInfo.BootTime), 0).UTC().Format(time.RFC3339),
		MemTotal:   vm.Total,
		MemUsed:    vm.Used,
		MemUsedPct: vm.UsedPercent,
		Load1:      ld.Load1,
		Load5:      ld.Load5,
		Load15:     ld.Load15,
	}, nil
}
