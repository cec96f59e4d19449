// Package sysinfo samples host load for the dashboard.
package sysinfo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/net"
)

const gib = 1 << 30

type CPU struct {
	Percent float64 `json:"percent"`
	Count   int     `json:"count"`
}

type Usage struct {
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
	Percent float64 `json:"percent"`
}

type Network struct {
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

type Snapshot struct {
	CPU         CPU       `json:"cpu"`
	Memory      Usage     `json:"memory"`
	Disk        Usage     `json:"disk"`
	Network     Network   `json:"network"`
	Temperature float64   `json:"temperature"`
	Time        time.Time `json:"time"`
}

// Sampler reads host statistics. Partial failures leave the affected fields
// zero; only a failure of every source is reported as an error.
type Sampler struct {
	DiskPath string
}

func NewSampler() *Sampler {
	return &Sampler{DiskPath: "/"}
}

func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Time: time.Now().UTC()}
	var failed int

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPU.Percent = round2(pct[0])
	} else {
		failed++
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.Count = n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.Memory = usage(vm.Total, vm.Used, vm.UsedPercent)
	} else {
		failed++
	}

	if du, err := disk.UsageWithContext(ctx, s.DiskPath); err == nil {
		snap.Disk = usage(du.Total, du.Used, du.UsedPercent)
	} else {
		failed++
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		snap.Network = Network{BytesSent: counters[0].BytesSent, BytesRecv: counters[0].BytesRecv}
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		snap.Temperature = maxTemperature(temps)
	}

	if failed == 3 {
		return snap, fmt.Errorf("no host statistics available")
	}
	return snap, nil
}

func usage(total, used uint64, pct float64) Usage {
	return Usage{
		TotalGB: round2(float64(total) / gib),
		UsedGB:  round2(float64(used) / gib),
		Percent: round2(pct),
	}
}

func maxTemperature(temps []host.TemperatureStat) float64 {
	var hottest float64
	for _, t := range temps {
		if t.Temperature > hottest {
			hottest = t.Temperature
		}
	}
	return round2(hottest)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
