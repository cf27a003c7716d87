package report

import (
	"github.com/dustin/go-humanize"
	"github.com/packagewjx/pi-health/pkg/core"
	"math"
)

// MovingAverage 计算窗口大小为window的移动平均，窗口内的空值不参与计算，全为空时结果为0。
// 结果长度为len(values)-window+1。
func MovingAverage(values []*float64, window int) []float64 {
	if window <= 0 || window > len(values) {
		return []float64{}
	}
	result := make([]float64, 0, len(values)-window+1)
	for i := 0; i+window <= len(values); i++ {
		sum, n := 0.0, 0
		for _, v := range values[i : i+window] {
			if v != nil {
				sum += *v
				n++
			}
		}
		if n == 0 {
			result = append(result, 0)
		} else {
			result = append(result, sum/float64(n))
		}
	}
	return result
}

// EvenlySpacedIndices 返回[start, end]之间num个均匀分布的下标
func EvenlySpacedIndices(start, end, num int) []int {
	if num <= 1 {
		return []int{start}
	}
	result := make([]int, num)
	step := float64(end-start) / float64(num-1)
	for i := range result {
		index := int(float64(start) + float64(i)*step)
		if index > end {
			index = end
		}
		result[i] = index
	}
	return result
}

// LatestValues 各指标最后一个样本的值，最后一个样本缺失该指标时为nil
func LatestValues(s *Series) map[string]*float64 {
	latest := make(map[string]*float64, len(core.MetricFields))
	for _, field := range core.MetricFields {
		values := s.Values[field]
		if len(values) > 0 {
			latest[field] = values[len(values)-1]
		} else {
			latest[field] = nil
		}
	}
	return latest
}

// FormatBytes 以1024为进制格式化字节数
func FormatBytes(b float64) string {
	if math.IsNaN(b) || b <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(b))
}

// Downsample 把数据均匀抽样到最多width个点，用于终端绘图
func Downsample(values []float64, width int) []float64 {
	if width <= 0 || len(values) <= width {
		return values
	}
	indices := EvenlySpacedIndices(0, len(values)-1, width)
	result := make([]float64, len(indices))
	for i, index := range indices {
		result[i] = values[index]
	}
	return result
}

type Stat struct {
	Field  string   `json:"field"`
	Count  int      `json:"count"`
	Min    *float64 `json:"min"`
	Avg    *float64 `json:"avg"`
	Max    *float64 `json:"max"`
	Latest *float64 `json:"latest"`
}

// Summarize 统计各指标的最小、平均、最大值，空值不参与计算
func Summarize(s *Series) []*Stat {
	result := make([]*Stat, 0, len(core.MetricFields))
	for _, field := range core.MetricFields {
		_, values := s.Present(field)
		stat := &Stat{Field: field, Count: len(values)}
		if len(values) > 0 {
			min, max, sum := values[0], values[0], 0.0
			for _, v := range values {
				min = math.Min(min, v)
				max = math.Max(max, v)
				sum += v
			}
			stat.Min = core.Float(min)
			stat.Max = core.Float(max)
			stat.Avg = core.Float(sum / float64(len(values)))
			stat.Latest = core.Float(values[len(values)-1])
		}
		result = append(result, stat)
	}
	return result
}
