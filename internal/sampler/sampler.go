package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/packagewjx/pi-health/internal/logging"
	"github.com/packagewjx/pi-health/internal/source"
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"io"
	"sync"
	"time"
)

const (
	DefaultInterval         = time.Minute
	DefaultMaxWriteFailures = 5
	DefaultMinSleep         = time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

var ErrStorageUnavailable = errors.New("存储不可用")

type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Config struct {
	Interval         time.Duration // 采集周期
	DbPath           string
	MysqlHost        string
	LogLevel         string
	MaxWriteFailures uint          // 连续写入失败达到该次数后退出
	MinSleep         time.Duration // 上一轮超时后，两轮之间至少间隔的时间
	WriteTimeout     time.Duration // 单次写入的最长时间，不受退出信号影响
	DiskPath         string        // 统计磁盘使用率的挂载点
}

func (config Config) String() string {
	marshal, _ := json.Marshal(config)
	return string(marshal)
}

func (config *Config) Complete() error {
	if config.Interval <= 0 {
		return fmt.Errorf("采集周期应该大于0，现在为%v", config.Interval)
	}
	if config.DbPath == "" && config.MysqlHost == "" {
		config.DbPath = store.DefaultDbPath
	}
	if _, err := logging.ParseLevel(config.LogLevel); err != nil {
		return err
	}
	if config.MaxWriteFailures == 0 {
		config.MaxWriteFailures = DefaultMaxWriteFailures
	}
	if config.MinSleep < 0 || config.WriteTimeout < 0 {
		return fmt.Errorf("时间不能为负数")
	}
	if config.MinSleep == 0 {
		config.MinSleep = DefaultMinSleep
	}
	if config.MinSleep > config.Interval {
		config.MinSleep = config.Interval
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.DiskPath == "" {
		config.DiskPath = source.DefaultDiskPath
	}
	return nil
}

type Sampler interface {
	// Run 循环采集直到ctx被取消或存储持续不可用。被取消时返回nil。
	Run(ctx context.Context) error
	State() State
	Close() error
}

type samplerImpl struct {
	config *Config
	source source.Source
	dao    store.UpdateDao
	closer io.Closer
	clock  clockwork.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	state State
}

var _ Sampler = &samplerImpl{}

// NewSampler 打开存储并使用本机传感器创建Sampler。存储无法打开时立即返回错误。
func NewSampler(config *Config, logger *zap.Logger) (Sampler, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	src, err := source.NewHostSource(source.Config{
		DiskPath: config.DiskPath,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	dao, err := store.NewDao(store.Config{
		DbPath:       config.DbPath,
		MysqlHost:    config.MysqlHost,
		QueryTimeout: config.WriteTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "初始化存储失败")
	}

	s := newSampler(config, src, dao, clockwork.NewRealClock(), logger)
	s.closer = dao
	return s, nil
}

func newSampler(config *Config, src source.Source, dao store.UpdateDao, clock clockwork.Clock, logger *zap.Logger) *samplerImpl {
	return &samplerImpl{
		config: config,
		source: src,
		dao:    dao,
		clock:  clock,
		logger: logger.Named("sampler"),
		state:  StateStarting,
	}
}

func (s *samplerImpl) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *samplerImpl) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *samplerImpl) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *samplerImpl) Run(ctx context.Context) error {
	logger := s.logger.With(zap.String("run", uuid.New().String()))
	s.setState(StateStarting)
	defer s.setState(StateStopped)

	logger.Info("采集程序启动", zap.Stringer("config", s.config))
	s.setState(StateRunning)

	failures := uint(0)
	scheduled := s.clock.Now()
	for {
		// 唤醒与退出信号同时到达时不再采集
		if ctx.Err() != nil {
			break
		}
		if err := s.sampleOnce(ctx, logger); err != nil {
			failures++
			logger.Error("保存健康数据失败", zap.Uint("failures", failures), zap.Error(err))
			if failures >= s.config.MaxWriteFailures {
				s.setState(StateStopping)
				logger.Error("连续写入失败次数过多，采集程序退出")
				return errors.Wrapf(ErrStorageUnavailable, "连续%d次写入失败：%v", failures, err)
			}
		} else {
			failures = 0
		}

		// 以计划时间为基准计算下一轮，避免误差累积；超时时至少等待MinSleep
		now := s.clock.Now()
		next := scheduled.Add(s.config.Interval)
		if next.Sub(now) < s.config.MinSleep {
			logger.Warn("本轮采集超时", zap.Duration("overrun", now.Sub(next)))
			next = now.Add(s.config.MinSleep)
		}
		scheduled = next

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.Chan():
		}
	}

	s.setState(StateStopping)
	logger.Info("收到退出信号，采集程序结束")
	return nil
}

// sampleOnce 采集并保存一次数据。只有存储失败才返回错误，无效数据记录日志后丢弃。
func (s *samplerImpl) sampleOnce(ctx context.Context, logger *zap.Logger) error {
	timestamp := s.clock.Now()
	sample := s.source.Collect(ctx)
	sample.Timestamp = timestamp

	if err := sample.Validate(); err != nil {
		logger.Warn("健康数据无效，已丢弃", zap.Stringer("sample", sample), zap.Error(err))
		return nil
	}

	// 写入不受退出信号影响，保证已开始的写入完整提交
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.WriteTimeout)
	defer cancel()
	err := s.dao.SaveSample(writeCtx, sample)
	if errors.Is(err, store.ErrInvalidSample) {
		logger.Warn("健康数据无效，已丢弃", zap.Stringer("sample", sample), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	logger.Debug("已保存健康数据", zap.Uint64("id", sample.ID), zap.Stringer("sample", sample))
	return nil
}
