package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// HealthSample 设备某一时刻的健康数据快照。除ID与Timestamp外，所有指标都可能缺失（nil），
// 代表该次采集时对应的传感器不可用。
type HealthSample struct {
	ID            uint64    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	CpuPercent    *float64  `json:"cpu_percent"`
	MemoryPercent *float64  `json:"memory_percent"`
	DiskPercent   *float64  `json:"disk_percent"`
	Temperature   *float64  `json:"temperature"`
	CpuFrequency  *float64  `json:"cpu_frequency"`
	Uptime        *float64  `json:"uptime"`
}

// 与数据表列名一致，顺序即CSV导出的列顺序
const (
	FieldCpuPercent    = "cpu_percent"
	FieldMemoryPercent = "memory_percent"
	FieldDiskPercent   = "disk_percent"
	FieldTemperature   = "temperature"
	FieldCpuFrequency  = "cpu_frequency"
	FieldUptime        = "uptime"
)

var MetricFields = []string{
	FieldCpuPercent,
	FieldMemoryPercent,
	FieldDiskPercent,
	FieldTemperature,
	FieldCpuFrequency,
	FieldUptime,
}

// TimestampLayout 存储时使用的时间格式。固定宽度的UTC时间，字典序即时间顺序。
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// 旧版本采集程序写入的本地时间格式，没有时区。微秒为0时省略小数部分。
const (
	legacyTimestampLayout       = "2006-01-02T15:04:05.999999"
	legacySecondTimestampLayout = "2006-01-02T15:04:05"
	legacyMicroTimestampLayout  = "2006-01-02T15:04:05.000000"
)

const Splitter = ","

func Float(f float64) *float64 {
	return &f
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatLegacyTimestamp 按旧版本的格式输出本地时间，用于查询尚未转换的旧数据
func FormatLegacyTimestamp(t time.Time) string {
	t = t.In(time.Local)
	if t.Nanosecond()/1000 == 0 {
		return t.Format(legacySecondTimestampLayout)
	}
	return t.Format(legacyMicroTimestampLayout)
}

// IsLegacyTimestamp 判断是否为旧版本写入的、不带UTC标记的时间
func IsLegacyTimestamp(s string) bool {
	return !strings.HasSuffix(strings.TrimSpace(s), "Z")
}

// ParseTimestamp 解析存储中的时间，兼容RFC3339与不带时区的旧格式。
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{legacyTimestampLayout, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间：%q", s)
}

// Value 按列名取得指标值
func (s *HealthSample) Value(field string) *float64 {
	switch field {
	case FieldCpuPercent:
		return s.CpuPercent
	case FieldMemoryPercent:
		return s.MemoryPercent
	case FieldDiskPercent:
		return s.DiskPercent
	case FieldTemperature:
		return s.Temperature
	case FieldCpuFrequency:
		return s.CpuFrequency
	case FieldUptime:
		return s.Uptime
	default:
		return nil
	}
}

func (s *HealthSample) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("时间戳为空")
	}
	for _, field := range MetricFields {
		v := s.Value(field)
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return fmt.Errorf("%s的值%v无效", field, *v)
		}
		switch field {
		case FieldCpuPercent, FieldMemoryPercent, FieldDiskPercent:
			if *v < 0 || *v > 100 {
				return fmt.Errorf("%s应该在0到100之间，现在为%v", field, *v)
			}
		case FieldUptime, FieldCpuFrequency:
			if *v < 0 {
				return fmt.Errorf("%s不能为负数，现在为%v", field, *v)
			}
		}
	}
	return nil
}

func (s HealthSample) String() string {
	b := &strings.Builder{}
	b.WriteString(FormatTimestamp(s.Timestamp))
	for _, field := range MetricFields {
		b.WriteString(" ")
		b.WriteString(field)
		b.WriteString("=")
		if v := s.Value(field); v != nil {
			b.WriteString(fmt.Sprintf("%.2f", *v))
		} else {
			b.WriteString("-")
		}
	}
	return b.String()
}
