package source

import (
	"context"
	"fmt"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"io/ioutil"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultDiskPath        = "/"
	DefaultThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"
	DefaultFrequencyPath   = "/sys/devices/system/cpu/cpu0/cpufreq/scaling_cur_freq"
)

var ErrSensorUnavailable = errors.New("传感器不可用")

// Source 采集一次设备健康数据。返回的数据不带时间戳，由调用者在采集前设置。
type Source interface {
	Collect(ctx context.Context) *core.HealthSample
}

// Probe 读取单项指标
type Probe func(ctx context.Context) (float64, error)

type Config struct {
	DiskPath        string
	ThermalZonePath string
	FrequencyPath   string
	Logger          *zap.Logger
}

func (config *Config) Complete() error {
	if config.DiskPath == "" {
		config.DiskPath = DefaultDiskPath
	}
	if config.ThermalZonePath == "" {
		config.ThermalZonePath = DefaultThermalZonePath
	}
	if config.FrequencyPath == "" {
		config.FrequencyPath = DefaultFrequencyPath
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return nil
}

type hostSource struct {
	probes map[string]Probe
	logger *zap.Logger
}

var _ Source = &hostSource{}

// NewHostSource 使用本机的传感器创建Source
func NewHostSource(config Config) (Source, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}
	probes := map[string]Probe{
		core.FieldCpuPercent:    cpuPercent,
		core.FieldMemoryPercent: memoryPercent,
		core.FieldDiskPercent:   diskPercent(config.DiskPath),
		core.FieldTemperature:   firstOf(sysfsValue(config.ThermalZonePath, 1000), sensorTemperature),
		core.FieldCpuFrequency:  firstOf(sysfsValue(config.FrequencyPath, 1000), cpuInfoFrequency),
		core.FieldUptime:        uptime,
	}

	// 第一次调用cpu.Percent(0)没有基准，先调用一次，使第一个样本也是有意义的
	_, _ = cpu.Percent(0, false)

	return NewSource(probes, config.Logger), nil
}

// NewSource 由给定的探针创建Source，缺少探针的指标始终为空
func NewSource(probes map[string]Probe, logger *zap.Logger) Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &hostSource{
		probes: probes,
		logger: logger.Named("source"),
	}
}

func (s *hostSource) Collect(ctx context.Context) *core.HealthSample {
	sample := &core.HealthSample{}
	for _, field := range core.MetricFields {
		probe, ok := s.probes[field]
		if !ok {
			continue
		}
		v, err := probe(ctx)
		if err != nil {
			if errors.Is(err, ErrSensorUnavailable) {
				s.logger.Debug("指标不可用", zap.String("field", field), zap.Error(err))
			} else {
				s.logger.Warn("读取指标失败", zap.String("field", field), zap.Error(err))
			}
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.logger.Warn("指标值无效", zap.String("field", field), zap.Float64("value", v))
			continue
		}
		setField(sample, field, clamp(field, v))
	}
	return sample
}

func setField(s *core.HealthSample, field string, v float64) {
	p := core.Float(v)
	switch field {
	case core.FieldCpuPercent:
		s.CpuPercent = p
	case core.FieldMemoryPercent:
		s.MemoryPercent = p
	case core.FieldDiskPercent:
		s.DiskPercent = p
	case core.FieldTemperature:
		s.Temperature = p
	case core.FieldCpuFrequency:
		s.CpuFrequency = p
	case core.FieldUptime:
		s.Uptime = p
	}
}

// 百分比限制在0到100之间，计数类指标不能为负
func clamp(field string, v float64) float64 {
	switch field {
	case core.FieldCpuPercent, core.FieldMemoryPercent, core.FieldDiskPercent:
		return math.Max(0, math.Min(100, v))
	case core.FieldUptime, core.FieldCpuFrequency:
		return math.Max(0, v)
	default:
		return v
	}
}

func cpuPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.Wrap(ErrSensorUnavailable, "没有CPU使用率数据")
	}
	return pct[0], nil
}

func memoryPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

func diskPercent(path string) Probe {
	return func(ctx context.Context) (float64, error) {
		d, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, errors.Wrapf(err, "读取%s磁盘使用率失败", path)
		}
		return d.UsedPercent, nil
	}
}

func uptime(ctx context.Context) (float64, error) {
	u, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(u), nil
}

func sensorTemperature(ctx context.Context) (float64, error) {
	stats, err := host.SensorsTemperaturesWithContext(ctx)
	// 部分传感器读取失败时仍可能返回可用数据
	for _, stat := range stats {
		if stat.Temperature > 0 {
			return stat.Temperature, nil
		}
	}
	if err != nil {
		return 0, errors.Wrap(ErrSensorUnavailable, err.Error())
	}
	return 0, errors.Wrap(ErrSensorUnavailable, "没有温度传感器")
}

func cpuInfoFrequency(ctx context.Context) (float64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, errors.Wrap(ErrSensorUnavailable, err.Error())
	}
	if len(infos) == 0 || infos[0].Mhz <= 0 {
		return 0, errors.Wrap(ErrSensorUnavailable, "没有CPU频率数据")
	}
	return infos[0].Mhz, nil
}

// sysfsValue 读取sysfs中只包含一个整数的文件，并除以divisor。
// 温度文件单位为千分之一摄氏度，频率文件单位为kHz。
func sysfsValue(path string, divisor float64) Probe {
	return func(ctx context.Context) (float64, error) {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return 0, errors.Wrap(ErrSensorUnavailable, err.Error())
		}
		raw := strings.TrimSpace(string(data))
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%s的内容%q不是数字", path, raw)
		}
		return v / divisor, nil
	}
}

// firstOf 依次尝试各个探针，返回第一个成功的值
func firstOf(probes ...Probe) Probe {
	return func(ctx context.Context) (float64, error) {
		var lastErr error
		for _, probe := range probes {
			v, err := probe(ctx)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		return 0, lastErr
	}
}
