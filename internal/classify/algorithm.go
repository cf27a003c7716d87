package classify

import (
	"github.com/packagewjx/kmeanspp"
	"go.uber.org/zap"
)

// Clusterer 把特征向量聚为numClass类，返回各类中心以及每个点所属的类
type Clusterer interface {
	Cluster(data [][]float32, numClass int) (centers [][]float32, class []int)
}

const KMeansDefaultRound = 30

type kMeansClusterer struct {
	round  int
	logger *zap.Logger
}

var _ Clusterer = &kMeansClusterer{}

// NewKMeansClusterer 使用k-means++聚类，round为迭代轮数，不大于0时使用默认值
func NewKMeansClusterer(round int, logger *zap.Logger) Clusterer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if round <= 0 {
		logger.Warn("迭代轮数无效，使用默认值", zap.Int("round", round), zap.Int("default", KMeansDefaultRound))
		round = KMeansDefaultRound
	}
	return &kMeansClusterer{round: round, logger: logger}
}

func (k *kMeansClusterer) Cluster(data [][]float32, numClass int) (centers [][]float32, class []int) {
	k.logger.Debug("开始聚类", zap.Int("points", len(data)), zap.Int("classes", numClass), zap.Int("round", k.round))
	centers, class = kmeanspp.KMeansPP(numClass, k.round, data)
	if len(centers) != numClass {
		k.logger.Warn("聚类结果的类别数与要求不一致", zap.Int("want", numClass), zap.Int("got", len(centers)))
	}
	return
}
