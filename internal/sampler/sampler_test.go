package sampler

import (
	"context"
	"fmt"
	"github.com/jonboulle/clockwork"
	"github.com/packagewjx/pi-health/internal/source"
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var startTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	sample core.HealthSample
}

func (f *fakeSource) Collect(ctx context.Context) *core.HealthSample {
	s := f.sample
	return &s
}

func healthySource() source.Source {
	return &fakeSource{sample: core.HealthSample{
		CpuPercent:    core.Float(25.5),
		MemoryPercent: core.Float(40.2),
		DiskPercent:   core.Float(60),
		Temperature:   core.Float(50.5),
		CpuFrequency:  core.Float(1500),
		Uptime:        core.Float(3600),
	}}
}

type failingDao struct {
	mu    sync.Mutex
	calls int
}

func (f *failingDao) SaveSample(ctx context.Context, s *core.HealthSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Errorf("disk I/O error")
}

func (f *failingDao) RemoveSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// flakyDao 每连续失败两次后成功一次
type flakyDao struct {
	mu        sync.Mutex
	calls     int
	successes int
}

func (f *flakyDao) SaveSample(ctx context.Context, s *core.HealthSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls%3 != 0 {
		return fmt.Errorf("disk I/O error")
	}
	f.successes++
	return nil
}

func (f *flakyDao) RemoveSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func newTestDao(t *testing.T) store.Dao {
	dao, err := store.NewDao(store.Config{DbPath: filepath.Join(t.TempDir(), "pi_health.db")})
	if !assert.NoError(t, err) {
		assert.FailNow(t, "创建Dao失败")
	}
	t.Cleanup(func() { _ = dao.Close() })
	return dao
}

func newTestSampler(t *testing.T, interval time.Duration, src source.Source, dao store.UpdateDao) (*samplerImpl, clockwork.FakeClock) {
	config := &Config{Interval: interval, MaxWriteFailures: 3}
	if !assert.NoError(t, config.Complete()) {
		assert.FailNow(t, "配置有误")
	}
	clock := clockwork.NewFakeClockAt(startTime)
	return newSampler(config, src, dao, clock, zap.NewNop()), clock
}

// 在后台运行Sampler，返回取消函数与结果
func runInBackground(s Sampler) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()
	return cancel, errCh
}

func waitResult(t *testing.T, errCh <-chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		assert.FailNow(t, "Sampler没有结束")
		return nil
	}
}

func TestConfig_Complete(t *testing.T) {
	config := Config{Interval: 60 * time.Second}
	assert.NoError(t, config.Complete())
	assert.Equal(t, store.DefaultDbPath, config.DbPath)
	assert.Equal(t, uint(DefaultMaxWriteFailures), config.MaxWriteFailures)
	assert.Equal(t, DefaultMinSleep, config.MinSleep)
	assert.Equal(t, DefaultWriteTimeout, config.WriteTimeout)
	assert.Equal(t, "/", config.DiskPath)

	config = Config{Interval: 500 * time.Millisecond}
	assert.NoError(t, config.Complete())
	assert.Equal(t, 500*time.Millisecond, config.MinSleep)

	config = Config{}
	assert.Error(t, config.Complete())

	config = Config{Interval: time.Second, LogLevel: "VERBOSE"}
	assert.Error(t, config.Complete())
}

func TestSampler_Run_ExactCount(t *testing.T) {
	dao := newTestDao(t)
	s, clock := newTestSampler(t, 5*time.Second, healthySource(), dao)

	cancel, errCh := runInBackground(s)
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
	}
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	cancel()
	assert.NoError(t, waitResult(t, errCh))
	assert.Equal(t, StateStopped, s.State())

	// 12秒内采集t=0、5、10三次
	samples, err := dao.QuerySamples(context.Background(), store.SampleQuery{})
	assert.NoError(t, err)
	if assert.Equal(t, 3, len(samples)) {
		for i := 1; i < len(samples); i++ {
			assert.True(t, samples[i].ID > samples[i-1].ID)
			assert.True(t, samples[i].Timestamp.After(samples[i-1].Timestamp))
		}
		assert.Equal(t, startTime.Add(10*time.Second), samples[2].Timestamp)
	}
}

func TestSampler_Run_LongRun(t *testing.T) {
	dao := newTestDao(t)
	s, clock := newTestSampler(t, time.Minute, healthySource(), dao)

	cancel, errCh := runInBackground(s)
	// 以10秒为步长推进，共590秒
	for i := 0; i < 59; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
	}
	clock.BlockUntil(1)
	cancel()
	assert.NoError(t, waitResult(t, errCh))

	count, err := dao.CountSamples(context.Background())
	assert.NoError(t, err)
	assert.InDelta(t, 10, count, 1)
}

func TestSampler_Run_StopDuringSleep(t *testing.T) {
	dao := newTestDao(t)
	s, clock := newTestSampler(t, time.Minute, healthySource(), dao)

	cancel, errCh := runInBackground(s)
	clock.BlockUntil(1)
	assert.Equal(t, StateRunning, s.State())
	cancel()
	assert.NoError(t, waitResult(t, errCh))

	// 停止后推进时间也不会产生新的数据
	clock.Advance(time.Hour)
	count, err := dao.CountSamples(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, StateStopped, s.State())
}

func TestSampler_Run_SensorUnavailable(t *testing.T) {
	dao := newTestDao(t)
	src := healthySource().(*fakeSource)
	src.sample.Temperature = nil
	src.sample.CpuFrequency = nil
	s, clock := newTestSampler(t, time.Minute, src, dao)

	cancel, errCh := runInBackground(s)
	clock.BlockUntil(1)
	cancel()
	assert.NoError(t, waitResult(t, errCh))

	samples, err := dao.QuerySamples(context.Background(), store.SampleQuery{})
	assert.NoError(t, err)
	if assert.Equal(t, 1, len(samples)) {
		assert.Nil(t, samples[0].Temperature)
		assert.Nil(t, samples[0].CpuFrequency)
		assert.Equal(t, 25.5, *samples[0].CpuPercent)
		assert.Equal(t, startTime, samples[0].Timestamp)
	}
}

func TestSampler_Run_InvalidSampleDropped(t *testing.T) {
	dao := newTestDao(t)
	src := healthySource().(*fakeSource)
	src.sample.MemoryPercent = core.Float(180)
	s, clock := newTestSampler(t, time.Minute, src, dao)

	cancel, errCh := runInBackground(s)
	// 无效数据不计入写入失败次数
	for i := 0; i < 4; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Minute)
	}
	clock.BlockUntil(1)
	cancel()
	assert.NoError(t, waitResult(t, errCh))

	count, err := dao.CountSamples(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSampler_Run_StorageUnavailable(t *testing.T) {
	dao := &failingDao{}
	s, clock := newTestSampler(t, time.Second, healthySource(), dao)

	_, errCh := runInBackground(s)
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	err := waitResult(t, errCh)
	assert.True(t, errors.Is(err, ErrStorageUnavailable), "%v", err)
	assert.Equal(t, 3, dao.calls)
	assert.Equal(t, StateStopped, s.State())
}

func TestSampler_Run_SuccessResetsFailures(t *testing.T) {
	dao := &flakyDao{}
	s, clock := newTestSampler(t, time.Second, healthySource(), dao)

	cancel, errCh := runInBackground(s)
	// 共11轮，失败从未连续达到3次
	for i := 0; i < 10; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	clock.BlockUntil(1)
	cancel()
	assert.NoError(t, waitResult(t, errCh))

	dao.mu.Lock()
	defer dao.mu.Unlock()
	assert.Equal(t, 11, dao.calls)
	assert.Equal(t, 3, dao.successes)
}

func TestSampler_Run_CancelledBeforeStart(t *testing.T) {
	dao := newTestDao(t)
	s, _ := newTestSampler(t, time.Minute, healthySource(), dao)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
	assert.Equal(t, StateStopped, s.State())

	count, err := dao.CountSamples(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSampler_Run_StopAndWakeTogether(t *testing.T) {
	for i := 0; i < 20; i++ {
		dao := newTestDao(t)
		s, clock := newTestSampler(t, time.Minute, healthySource(), dao)

		cancel, errCh := runInBackground(s)
		clock.BlockUntil(1)
		// 退出信号与定时器同时就绪
		cancel()
		clock.Advance(time.Minute)
		assert.NoError(t, waitResult(t, errCh))

		count, err := dao.CountSamples(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, int64(1), count)
	}
}

func TestSampler_Run_Overrun(t *testing.T) {
	dao := newTestDao(t)
	clock := clockwork.NewFakeClockAt(startTime)
	src := &slowSource{clock: clock, delay: 90 * time.Second, inner: healthySource()}
	config := &Config{Interval: time.Minute}
	assert.NoError(t, config.Complete())
	s := newSampler(config, src, dao, clock, zap.NewNop())

	cancel, errCh := runInBackground(s)
	// 采集用了90秒，超过了周期，下一轮在MinSleep之后开始
	clock.BlockUntil(1)
	clock.Advance(DefaultMinSleep)
	clock.BlockUntil(1)
	cancel()
	assert.NoError(t, waitResult(t, errCh))

	samples, err := dao.QuerySamples(context.Background(), store.SampleQuery{})
	assert.NoError(t, err)
	if assert.Equal(t, 2, len(samples)) {
		assert.Equal(t, startTime, samples[0].Timestamp)
		assert.Equal(t, startTime.Add(91*time.Second), samples[1].Timestamp)
	}
}

// slowSource 采集时推进假时钟，模拟耗时的采集
type slowSource struct {
	clock clockwork.FakeClock
	delay time.Duration
	inner source.Source
}

func (s *slowSource) Collect(ctx context.Context) *core.HealthSample {
	s.clock.Advance(s.delay)
	return s.inner.Collect(ctx)
}
