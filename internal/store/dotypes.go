package store

import (
	"github.com/packagewjx/pi-health/pkg/core"
)

const TableName = "health_metrics"

// HealthSampleDO health_metrics表的一行。列只允许新增（且必须可为空），以兼容已有的历史数据。
type HealthSampleDO struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Timestamp     string `gorm:"not null"`
	CpuPercent    *float64
	MemoryPercent *float64
	DiskPercent   *float64
	Temperature   *float64
	CpuFrequency  *float64
	Uptime        *float64
}

func (HealthSampleDO) TableName() string {
	return TableName
}

func fromSample(s *core.HealthSample) *HealthSampleDO {
	return &HealthSampleDO{
		ID:            s.ID,
		Timestamp:     core.FormatTimestamp(s.Timestamp),
		CpuPercent:    s.CpuPercent,
		MemoryPercent: s.MemoryPercent,
		DiskPercent:   s.DiskPercent,
		Temperature:   s.Temperature,
		CpuFrequency:  s.CpuFrequency,
		Uptime:        s.Uptime,
	}
}

func (do *HealthSampleDO) toSample() (*core.HealthSample, error) {
	ts, err := core.ParseTimestamp(do.Timestamp)
	if err != nil {
		return nil, err
	}
	return &core.HealthSample{
		ID:            do.ID,
		Timestamp:     ts,
		CpuPercent:    do.CpuPercent,
		MemoryPercent: do.MemoryPercent,
		DiskPercent:   do.DiskPercent,
		Temperature:   do.Temperature,
		CpuFrequency:  do.CpuFrequency,
		Uptime:        do.Uptime,
	}, nil
}
