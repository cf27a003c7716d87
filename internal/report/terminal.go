package report

import (
	"fmt"
	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/packagewjx/pi-health/pkg/core"
	"io"
	"time"
)

const (
	plotWidth  = 70
	plotHeight = 10
)

func (r *Report) RenderTerminal(w io.Writer) error {
	_, _ = fmt.Fprintf(w, "== %s视图：%s 至 %s，共%d条数据 ==\n\n", r.View,
		r.Series.From.Local().Format(timeLayout), r.Series.To.Local().Format(timeLayout), r.Series.Len())

	switch r.View {
	case ViewDetailed:
		for _, field := range core.MetricFields {
			r.plot(w, fieldTitles[field], field)
		}
	case ViewSummary:
		r.plot(w, "CPU / 内存 / 磁盘 (%)", core.FieldCpuPercent, core.FieldMemoryPercent, core.FieldDiskPercent)
		r.statsTable(w)
		r.loadStatesTable(w)
	case ViewSimple:
		r.plot(w, "CPU与内存使用率 (%)", core.FieldCpuPercent, core.FieldMemoryPercent)
		r.plot(w, "磁盘使用率 (%) 与温度 (°C)", core.FieldDiskPercent, core.FieldTemperature)
		r.plot(w, fieldTitles[core.FieldCpuFrequency], core.FieldCpuFrequency)
		r.latestTable(w)
	default:
		return fmt.Errorf("未知的视图%s", r.View)
	}
	return nil
}

// plot 在同一坐标系中绘制多个指标，没有数据的指标会被跳过
func (r *Report) plot(w io.Writer, caption string, fields ...string) {
	data := make([][]float64, 0, len(fields))
	for _, field := range fields {
		_, values := r.Series.Present(field)
		if len(values) == 0 {
			continue
		}
		data = append(data, Downsample(values, plotWidth))
	}
	if len(data) == 0 {
		_, _ = fmt.Fprintf(w, "%s：没有数据\n\n", caption)
		return
	}
	graph := asciigraph.PlotMany(data,
		asciigraph.Height(plotHeight),
		asciigraph.Caption(caption),
		asciigraph.Precision(1))
	_, _ = fmt.Fprintln(w, graph)
	_, _ = fmt.Fprintln(w)
}

func (r *Report) statsTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"指标", "数量", "最小", "平均", "最大", "最新"})
	for _, stat := range r.Stats {
		table.Append([]string{stat.Field, fmt.Sprint(stat.Count),
			displayValue(stat.Min), displayValue(stat.Avg), displayValue(stat.Max), displayValue(stat.Latest)})
	}
	table.Render()
	_, _ = fmt.Fprintln(w)
}

func (r *Report) loadStatesTable(w io.Writer) {
	if r.LoadStates == nil || len(r.LoadStates.States) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"负载状态", "CPU %", "内存 %", "温度 °C", "样本数"})
	for _, state := range r.LoadStates.States {
		table.Append([]string{state.Name,
			fmt.Sprintf("%.1f", state.Center[0]),
			fmt.Sprintf("%.1f", state.Center[1]),
			fmt.Sprintf("%.1f", state.Center[2]),
			fmt.Sprint(state.Count)})
	}
	table.Render()
	_, _ = fmt.Fprintln(w)
}

func (r *Report) latestTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"指标", "最新值"})
	table.Append([]string{"CPU使用率", latestValue(r.Latest[core.FieldCpuPercent], "%.1f%%")})
	table.Append([]string{"内存使用率", latestValue(r.Latest[core.FieldMemoryPercent], "%.1f%%")})
	table.Append([]string{"磁盘使用率", latestValue(r.Latest[core.FieldDiskPercent], "%.1f%%")})
	if r.Series.HasData(core.FieldTemperature) {
		table.Append([]string{"CPU温度", latestValue(r.Latest[core.FieldTemperature], "%.1f°C")})
	}
	if r.Series.HasData(core.FieldCpuFrequency) {
		table.Append([]string{"CPU频率", latestValue(r.Latest[core.FieldCpuFrequency], "%.0f MHz")})
	}
	uptime := "-"
	if v := r.Latest[core.FieldUptime]; v != nil {
		uptime = (time.Duration(*v) * time.Second).String()
	}
	table.Append([]string{"运行时间", uptime})
	table.Append([]string{"最后更新", r.Series.LastUpdate().Local().Format(timeLayout)})
	table.Render()
	_, _ = fmt.Fprintln(w)
}

// latestValue 缺失的指标显示为“-”
func latestValue(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func displayValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
