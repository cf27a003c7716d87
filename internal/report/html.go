package report

import (
	"fmt"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"io"
)

const timeLayout = "2006-01-02 15:04:05"

var fieldTitles = map[string]string{
	core.FieldCpuPercent:    "CPU使用率 (%)",
	core.FieldMemoryPercent: "内存使用率 (%)",
	core.FieldDiskPercent:   "磁盘使用率 (%)",
	core.FieldTemperature:   "CPU温度 (°C)",
	core.FieldCpuFrequency:  "CPU频率 (MHz)",
	core.FieldUptime:        "运行时间 (s)",
}

func (r *Report) xAxis() []string {
	xs := make([]string, len(r.Series.Timestamps))
	for i, t := range r.Series.Timestamps {
		xs[i] = t.Local().Format(timeLayout)
	}
	return xs
}

func (r *Report) lineChart(title, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithXAxisOpts(opts.XAxis{Name: "时间"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(r.xAxis())
	return line
}

// lineData 空值使用"-"，echarts会把它画成断点
func lineData(values []*float64, scale float64) []opts.LineData {
	result := make([]opts.LineData, len(values))
	for i, v := range values {
		if v == nil {
			result[i] = opts.LineData{Value: "-"}
		} else {
			result[i] = opts.LineData{Value: *v * scale}
		}
	}
	return result
}

// 移动平均的结果与窗口末尾的数据对齐
func smoothedData(values []*float64, window int) []opts.LineData {
	avg := MovingAverage(values, window)
	result := make([]opts.LineData, len(values))
	for i := range result {
		if i < window-1 || len(avg) == 0 {
			result[i] = opts.LineData{Value: "-"}
		} else {
			result[i] = opts.LineData{Value: avg[i-window+1]}
		}
	}
	return result
}

func (r *Report) detailedCharts() []components.Charter {
	result := make([]components.Charter, 0, len(core.MetricFields))
	for _, field := range core.MetricFields {
		if !r.Series.HasData(field) {
			continue
		}
		line := r.lineChart(fieldTitles[field], "")
		line.AddSeries(field, lineData(r.Series.Values[field], 1))
		if r.Series.Len() >= DefaultSmoothWindow {
			line.AddSeries(fmt.Sprintf("%d点移动平均", DefaultSmoothWindow),
				smoothedData(r.Series.Values[field], DefaultSmoothWindow))
		}
		result = append(result, line)
	}
	return result
}

func (r *Report) summaryCharts() []components.Charter {
	line := r.lineChart("健康数据汇总", "数值")
	line.AddSeries("CPU %", lineData(r.Series.Values[core.FieldCpuPercent], 1))
	line.AddSeries("内存 %", lineData(r.Series.Values[core.FieldMemoryPercent], 1))
	line.AddSeries("磁盘 %", lineData(r.Series.Values[core.FieldDiskPercent], 1))
	if r.Series.HasData(core.FieldTemperature) {
		line.AddSeries("温度 (°C)", lineData(r.Series.Values[core.FieldTemperature], 1))
	}
	if r.Series.HasData(core.FieldCpuFrequency) {
		// 频率除以10，与百分比使用同一坐标轴
		line.AddSeries("CPU频率 (MHz/10)", lineData(r.Series.Values[core.FieldCpuFrequency], 0.1))
	}
	result := []components.Charter{line}

	if r.LoadStates != nil && len(r.LoadStates.States) > 0 {
		pie := charts.NewPie()
		pie.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "360px"}),
			charts.WithTitleOpts(opts.Title{Title: "负载状态分布", Subtitle: "按CPU、内存与温度聚类"}),
		)
		data := make([]opts.PieData, 0, len(r.LoadStates.States))
		for _, state := range r.LoadStates.States {
			data = append(data, opts.PieData{
				Name:  fmt.Sprintf("%s (CPU %.1f%%)", state.Name, state.Center[0]),
				Value: state.Count,
			})
		}
		pie.AddSeries("负载状态", data)
		result = append(result, pie)
	}
	return result
}

func (r *Report) simpleCharts() []components.Charter {
	usage := r.lineChart("CPU与内存使用率", "%")
	usage.AddSeries("CPU %", lineData(r.Series.Values[core.FieldCpuPercent], 1))
	usage.AddSeries("内存 %", lineData(r.Series.Values[core.FieldMemoryPercent], 1))
	result := []components.Charter{usage}

	disk := r.lineChart("磁盘使用率与温度", "% / °C")
	disk.AddSeries("磁盘 %", lineData(r.Series.Values[core.FieldDiskPercent], 1))
	if r.Series.HasData(core.FieldTemperature) {
		disk.AddSeries("温度 (°C)", lineData(r.Series.Values[core.FieldTemperature], 1))
	}
	result = append(result, disk)

	if r.Series.HasData(core.FieldCpuFrequency) {
		freq := r.lineChart("CPU频率", "MHz")
		freq.AddSeries("CPU频率", lineData(r.Series.Values[core.FieldCpuFrequency], 1))
		result = append(result, freq)
	}

	subtitle := "最后更新：" + r.Series.LastUpdate().Local().Format(timeLayout)
	for _, field := range []string{core.FieldCpuPercent, core.FieldMemoryPercent, core.FieldDiskPercent} {
		if r.Latest[field] == nil {
			continue
		}
		gauge := charts.NewGauge()
		gauge.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "360px", Height: "300px"}),
			charts.WithTitleOpts(opts.Title{Title: fieldTitles[field], Subtitle: subtitle}),
		)
		gauge.AddSeries(field, []opts.GaugeData{{Name: field, Value: fmt.Sprintf("%.1f", *r.Latest[field])}})
		result = append(result, gauge)
	}
	return result
}

func (r *Report) RenderHTML(w io.Writer) error {
	var chartList []components.Charter
	switch r.View {
	case ViewDetailed:
		chartList = r.detailedCharts()
	case ViewSummary:
		chartList = r.summaryCharts()
	case ViewSimple:
		chartList = r.simpleCharts()
	default:
		return fmt.Errorf("未知的视图%s", r.View)
	}

	page := components.NewPage()
	page.PageTitle = "设备健康数据"
	page.AddCharts(chartList...)
	return errors.Wrap(page.Render(w), "生成HTML失败")
}
