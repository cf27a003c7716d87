package classify

import (
	"fmt"
	"github.com/packagewjx/pi-health/pkg/core"
	"go.uber.org/zap"
	"sort"
)

// 参与聚类的特征。温度缺失时以0代替，CPU或内存缺失的样本不参与聚类。
var featureFields = []string{core.FieldCpuPercent, core.FieldMemoryPercent, core.FieldTemperature}

// LoadState 一类负载状态，Center各维依次为CPU使用率、内存使用率与温度
type LoadState struct {
	Name   string
	Center []float32
	Count  int
}

type LoadStates struct {
	States []*LoadState
	// Labels 与输入样本一一对应，为所属状态的下标；未参与聚类的样本为-1
	Labels []int
}

var stateNames = map[int][]string{
	1: {"平稳"},
	2: {"空闲", "繁忙"},
	3: {"空闲", "中等", "繁忙"},
	4: {"空闲", "较低", "较高", "繁忙"},
}

func stateName(i, numClass int) string {
	if names, ok := stateNames[numClass]; ok {
		return names[i]
	}
	return fmt.Sprintf("状态%d", i+1)
}

func features(s *core.HealthSample) ([]float32, bool) {
	result := make([]float32, len(featureFields))
	for i, field := range featureFields {
		v := s.Value(field)
		if v == nil {
			if field == core.FieldTemperature {
				continue
			}
			return nil, false
		}
		result[i] = float32(*v)
	}
	return result, true
}

type Config struct {
	NumClass int
	Round    int // k-means++迭代轮数
	Logger   *zap.Logger
}

// ClassifyLoad 使用k-means++把样本分为NumClass种负载状态，按CPU使用率从低到高排列。
// 不同的数据点少于NumClass时，类别数会相应减少。
func ClassifyLoad(samples []*core.HealthSample, config Config) (*LoadStates, error) {
	numClass := config.NumClass
	if numClass <= 0 {
		return nil, fmt.Errorf("聚类类别数目应该大于0，现在为%d", numClass)
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("classify")

	labels := make([]int, len(samples))
	data := make([][]float32, 0, len(samples))
	index := make([]int, 0, len(samples))
	distinct := make(map[[3]float32]struct{})
	for i, s := range samples {
		labels[i] = -1
		f, ok := features(s)
		if !ok {
			continue
		}
		data = append(data, f)
		index = append(index, i)
		distinct[[3]float32{f[0], f[1], f[2]}] = struct{}{}
	}
	if len(data) == 0 {
		return &LoadStates{States: []*LoadState{}, Labels: labels}, nil
	}

	if len(distinct) < numClass {
		logger.Debug("不同的数据点少于类别数", zap.Int("distinct", len(distinct)), zap.Int("classes", numClass))
		numClass = len(distinct)
	}

	var centers [][]float32
	var class []int
	if numClass == 1 {
		centers, class = [][]float32{mean(data)}, make([]int, len(data))
	} else {
		centers, class = NewKMeansClusterer(config.Round, logger).Cluster(data, numClass)
	}

	// 按CPU使用率排序，使状态名称有意义
	order := make([]int, len(centers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return centers[order[i]][0] < centers[order[j]][0]
	})
	rank := make([]int, len(centers))
	states := make([]*LoadState, len(centers))
	for r, c := range order {
		rank[c] = r
		states[r] = &LoadState{Name: stateName(r, len(centers)), Center: centers[c]}
	}

	for i, c := range class {
		labels[index[i]] = rank[c]
		states[rank[c]].Count++
	}
	return &LoadStates{States: states, Labels: labels}, nil
}

func mean(data [][]float32) []float32 {
	result := make([]float32, len(data[0]))
	for _, datum := range data {
		for i, f := range datum {
			result[i] += f
		}
	}
	for i := range result {
		result[i] /= float32(len(data))
	}
	return result
}
