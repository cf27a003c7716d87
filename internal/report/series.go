package report

import (
	"context"
	"fmt"
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"time"
)

// Window 查询的时间范围。From与To均不为零时优先使用，否则取Now之前Hours小时。
type Window struct {
	Hours uint
	From  time.Time
	To    time.Time
	Now   time.Time
}

func (w Window) Resolve() (from, to time.Time, err error) {
	if !w.From.IsZero() || !w.To.IsZero() {
		if w.From.IsZero() || w.To.IsZero() || !w.From.Before(w.To) {
			return time.Time{}, time.Time{}, fmt.Errorf("时间范围有误：%v - %v", w.From, w.To)
		}
		return w.From, w.To, nil
	}
	if w.Hours == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("小时数应该大于0")
	}
	now := w.Now
	if now.IsZero() {
		now = time.Now()
	}
	// To不包含，加一微秒使恰好在now采集的数据也能查到
	return now.Add(-time.Duration(w.Hours) * time.Hour), now.Add(time.Microsecond), nil
}

// Series 按时间升序排列的数据，缺失的指标为nil
type Series struct {
	From       time.Time
	To         time.Time
	Samples    []*core.HealthSample
	Timestamps []time.Time
	Values     map[string][]*float64
}

func NewSeries(samples []*core.HealthSample) *Series {
	s := &Series{
		Samples:    samples,
		Timestamps: make([]time.Time, len(samples)),
		Values:     make(map[string][]*float64, len(core.MetricFields)),
	}
	for _, field := range core.MetricFields {
		s.Values[field] = make([]*float64, len(samples))
	}
	for i, sample := range samples {
		s.Timestamps[i] = sample.Timestamp
		for _, field := range core.MetricFields {
			s.Values[field][i] = sample.Value(field)
		}
	}
	return s
}

func Load(ctx context.Context, dao store.QueryDao, w Window) (*Series, error) {
	from, to, err := w.Resolve()
	if err != nil {
		return nil, err
	}
	samples, err := dao.QuerySamples(ctx, store.SampleQuery{From: from, To: to, Order: store.Ascending})
	if err != nil {
		return nil, errors.Wrap(err, "读取健康数据失败")
	}
	s := NewSeries(samples)
	s.From, s.To = from, to
	return s, nil
}

func (s *Series) Len() int {
	return len(s.Samples)
}

// HasData 指标是否至少有一个值
func (s *Series) HasData(field string) bool {
	for _, v := range s.Values[field] {
		if v != nil {
			return true
		}
	}
	return false
}

// Present 返回指标所有非空的值及对应的时间
func (s *Series) Present(field string) ([]time.Time, []float64) {
	times := make([]time.Time, 0, len(s.Timestamps))
	values := make([]float64, 0, len(s.Timestamps))
	for i, v := range s.Values[field] {
		if v != nil {
			times = append(times, s.Timestamps[i])
			values = append(values, *v)
		}
	}
	return times, values
}

func (s *Series) LastUpdate() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}
