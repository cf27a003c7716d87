package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"github.com/packagewjx/pi-health/internal/utils"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"io"
	"strconv"
	"time"
)

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// RenderCSV detailed视图导出全部样本，summary视图导出统计值，simple视图导出最新值
func (r *Report) RenderCSV(w io.Writer) error {
	if r.View == ViewDetailed {
		return utils.WriteSamples(w, r.Series.Samples)
	}

	writer := csv.NewWriter(w)
	switch r.View {
	case ViewSummary:
		_ = writer.Write([]string{"field", "count", "min", "avg", "max", "latest"})
		for _, stat := range r.Stats {
			_ = writer.Write([]string{stat.Field, strconv.Itoa(stat.Count),
				formatValue(stat.Min), formatValue(stat.Avg), formatValue(stat.Max), formatValue(stat.Latest)})
		}
	case ViewSimple:
		_ = writer.Write([]string{"field", "value"})
		for _, field := range core.MetricFields {
			_ = writer.Write([]string{field, formatValue(r.Latest[field])})
		}
		_ = writer.Write([]string{"last_update", core.FormatTimestamp(r.Series.LastUpdate())})
	default:
		return fmt.Errorf("未知的视图%s", r.View)
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "写入CSV出错")
}

type loadStateJSON struct {
	Name   string    `json:"name"`
	Center []float32 `json:"center"`
	Count  int       `json:"count"`
}

type reportJSON struct {
	View       ViewType             `json:"view"`
	From       time.Time            `json:"from"`
	To         time.Time            `json:"to"`
	Count      int                  `json:"count"`
	Samples    []*core.HealthSample `json:"samples,omitempty"`
	Stats      []*Stat              `json:"stats,omitempty"`
	LoadStates []*loadStateJSON     `json:"load_states,omitempty"`
	Latest     map[string]*float64  `json:"latest,omitempty"`
	LastUpdate *time.Time           `json:"last_update,omitempty"`
}

func (r *Report) RenderJSON(w io.Writer) error {
	out := &reportJSON{
		View:  r.View,
		From:  r.Series.From,
		To:    r.Series.To,
		Count: r.Series.Len(),
	}
	switch r.View {
	case ViewDetailed:
		out.Samples = r.Series.Samples
	case ViewSummary:
		out.Stats = r.Stats
		if r.LoadStates != nil {
			for _, state := range r.LoadStates.States {
				out.LoadStates = append(out.LoadStates, &loadStateJSON{
					Name:   state.Name,
					Center: state.Center,
					Count:  state.Count,
				})
			}
		}
	case ViewSimple:
		out.Latest = r.Latest
		last := r.Series.LastUpdate()
		out.LastUpdate = &last
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(out), "写入JSON出错")
}
