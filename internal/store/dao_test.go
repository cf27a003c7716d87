package store

import (
	"context"
	"database/sql"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDao(t *testing.T) (Dao, string) {
	path := filepath.Join(t.TempDir(), "pi_health.db")
	dao, err := NewDao(Config{DbPath: path})
	if !assert.NoError(t, err) {
		assert.FailNow(t, "创建Dao失败")
	}
	t.Cleanup(func() { _ = dao.Close() })
	return dao, path
}

func sampleAt(offset time.Duration) *core.HealthSample {
	return &core.HealthSample{
		Timestamp:     baseTime.Add(offset),
		CpuPercent:    core.Float(25.5),
		MemoryPercent: core.Float(40.2),
		DiskPercent:   core.Float(60),
		Temperature:   core.Float(50.5),
		CpuFrequency:  core.Float(1500),
		Uptime:        core.Float(3600 + offset.Seconds()),
	}
}

func TestNewDao(t *testing.T) {
	dao, _ := newTestDao(t)

	assert.True(t, dao.DB().Migrator().HasTable(TableName))
	columnTypes, err := dao.DB().Migrator().ColumnTypes(&HealthSampleDO{})
	assert.NoError(t, err)

	columns := make(map[string]string)
	for _, columnType := range columnTypes {
		columns[columnType.Name()] = strings.ToUpper(columnType.DatabaseTypeName())
	}
	assert.Equal(t, "INTEGER", columns["id"])
	assert.Equal(t, "TEXT", columns["timestamp"])
	for _, field := range core.MetricFields {
		assert.Equal(t, "REAL", columns[field], field)
	}
}

func TestNewDao_KeepsExistingData(t *testing.T) {
	dao, path := newTestDao(t)
	assert.NoError(t, dao.SaveSample(context.Background(), sampleAt(0)))
	assert.NoError(t, dao.Close())

	// 再次打开不应破坏已有数据
	dao, err := NewDao(Config{DbPath: path})
	if !assert.NoError(t, err) {
		assert.FailNow(t, "重新打开Dao失败")
	}
	defer dao.Close()
	count, err := dao.CountSamples(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNewDao_LegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite", path)
	if !assert.NoError(t, err) {
		assert.FailNow(t, "打开数据库失败")
	}
	_, err = raw.Exec(`CREATE TABLE IF NOT EXISTS health_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL, cpu_percent REAL, memory_percent REAL, disk_percent REAL,
		temperature REAL, cpu_frequency REAL, uptime REAL)`)
	assert.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO health_metrics (timestamp, cpu_percent, memory_percent, disk_percent, temperature, cpu_frequency, uptime)
		VALUES ('2023-01-01T12:00:00', 25.5, 40.2, 60.0, NULL, 1500.0, 3600)`)
	assert.NoError(t, err)
	assert.NoError(t, raw.Close())

	dao, err := NewDao(Config{DbPath: path})
	if !assert.NoError(t, err) {
		assert.FailNow(t, "打开旧数据库失败")
	}
	defer dao.Close()

	samples, err := dao.QuerySamples(context.Background(), SampleQuery{})
	assert.NoError(t, err)
	if assert.Equal(t, 1, len(samples)) {
		assert.Equal(t, time.Date(2023, 1, 1, 12, 0, 0, 0, time.Local).UTC(), samples[0].Timestamp)
		assert.Nil(t, samples[0].Temperature)
		assert.Equal(t, 1500.0, *samples[0].CpuFrequency)
	}

	// 新数据追加在旧数据之后
	s := sampleAt(0)
	assert.NoError(t, dao.SaveSample(context.Background(), s))
	assert.Equal(t, uint64(2), s.ID)
}

// 创建旧版本的表格，并写入不带时区的本地时间
func createLegacyStore(t *testing.T, timestamps ...string) string {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite", path)
	if !assert.NoError(t, err) {
		assert.FailNow(t, "打开数据库失败")
	}
	defer raw.Close()
	_, err = raw.Exec(`CREATE TABLE health_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL, cpu_percent REAL, memory_percent REAL, disk_percent REAL,
		temperature REAL, cpu_frequency REAL, uptime REAL)`)
	assert.NoError(t, err)
	for _, ts := range timestamps {
		_, err = raw.Exec(`INSERT INTO health_metrics (timestamp, cpu_percent) VALUES (?, 10)`, ts)
		assert.NoError(t, err)
	}
	return path
}

func setLocal(t *testing.T, loc *time.Location) {
	local := time.Local
	time.Local = loc
	t.Cleanup(func() { time.Local = local })
}

func TestNewDao_LegacyTimestampsInOtherZone(t *testing.T) {
	setLocal(t, time.FixedZone("CST", 8*3600))
	ctx := context.Background()

	// 本地时间20:00即UTC 12:00
	path := createLegacyStore(t, "2024-05-01T20:00:00.000000", "2024-05-01T20:05:00")
	dao, err := NewDao(Config{DbPath: path})
	if !assert.NoError(t, err) {
		assert.FailNow(t, "打开旧数据库失败")
	}
	defer dao.Close()

	// 旧数据之后写入的新数据
	assert.NoError(t, dao.SaveSample(ctx, sampleAt(30*time.Minute)))

	samples, err := dao.QuerySamples(ctx, SampleQuery{})
	assert.NoError(t, err)
	if assert.Equal(t, 3, len(samples)) {
		assert.Equal(t, baseTime, samples[0].Timestamp)
		assert.Equal(t, 10.0, *samples[0].CpuPercent)
		assert.Equal(t, baseTime.Add(5*time.Minute), samples[1].Timestamp)
		assert.Equal(t, baseTime.Add(30*time.Minute), samples[2].Timestamp)
	}

	samples, err = dao.QuerySamples(ctx, SampleQuery{From: baseTime.Add(-time.Hour), To: baseTime.Add(15 * time.Minute)})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(samples))

	samples, err = dao.QueryLatestSamples(ctx, 1)
	assert.NoError(t, err)
	if assert.Equal(t, 1, len(samples)) {
		assert.Equal(t, uint64(3), samples[0].ID)
	}

	// 转换后不再有旧格式的时间
	var legacy int64
	assert.NoError(t, dao.DB().Model(&HealthSampleDO{}).Where(legacyCondition, legacyPattern).Count(&legacy).Error)
	assert.Equal(t, int64(0), legacy)
}

func TestNewReadOnlyDao_LegacyTimestamps(t *testing.T) {
	setLocal(t, time.FixedZone("CST", 8*3600))
	ctx := context.Background()

	path := createLegacyStore(t, "2024-05-01T20:00:00", "2024-05-01T20:10:00.500000", "2024-05-01T21:00:00")
	reader, err := NewReadOnlyDao(Config{DbPath: path})
	if !assert.NoError(t, err) {
		assert.FailNow(t, "只读打开失败")
	}
	defer reader.Close()

	// 只读时不转换，查询条件按旧格式比较
	samples, err := reader.QuerySamples(ctx, SampleQuery{From: baseTime, To: baseTime.Add(time.Hour)})
	assert.NoError(t, err)
	if assert.Equal(t, 2, len(samples)) {
		assert.Equal(t, baseTime, samples[0].Timestamp)
		assert.Equal(t, baseTime.Add(10*time.Minute+500*time.Millisecond), samples[1].Timestamp)
	}
}

func TestDaoImpl_SaveSample(t *testing.T) {
	dao, _ := newTestDao(t)
	ctx := context.Background()

	written := make([]*core.HealthSample, 5)
	for i := range written {
		written[i] = sampleAt(time.Duration(i) * time.Minute)
		err := dao.SaveSample(ctx, written[i])
		assert.NoError(t, err)
		assert.Equal(t, uint64(i+1), written[i].ID)
	}

	samples, err := dao.QuerySamples(ctx, SampleQuery{From: baseTime, To: baseTime.Add(time.Hour)})
	assert.NoError(t, err)
	assert.Equal(t, written, samples)
}

func TestDaoImpl_SaveSample_MissingFields(t *testing.T) {
	dao, _ := newTestDao(t)
	ctx := context.Background()

	s := sampleAt(0)
	s.Temperature = nil
	s.CpuFrequency = nil
	s.CpuPercent = nil
	assert.NoError(t, dao.SaveSample(ctx, s))

	samples, err := dao.QueryLatestSamples(ctx, 1)
	assert.NoError(t, err)
	if assert.Equal(t, 1, len(samples)) {
		assert.Nil(t, samples[0].Temperature)
		assert.Nil(t, samples[0].CpuFrequency)
		assert.Nil(t, samples[0].CpuPercent)
		assert.Equal(t, 40.2, *samples[0].MemoryPercent)
	}
}

func TestDaoImpl_SaveSample_Invalid(t *testing.T) {
	dao, _ := newTestDao(t)

	s := sampleAt(0)
	s.DiskPercent = core.Float(180)
	err := dao.SaveSample(context.Background(), s)
	assert.True(t, errors.Is(err, ErrInvalidSample))

	count, err := dao.CountSamples(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDaoImpl_QuerySamples(t *testing.T) {
	dao, _ := newTestDao(t)
	ctx := context.Background()

	// 插入顺序与时间顺序不一致
	for _, minute := range []int{3, 0, 4, 1, 2} {
		assert.NoError(t, dao.SaveSample(ctx, sampleAt(time.Duration(minute)*time.Minute)))
	}

	samples, err := dao.QuerySamples(ctx, SampleQuery{})
	assert.NoError(t, err)
	assert.Equal(t, 5, len(samples))
	for i := 1; i < len(samples); i++ {
		assert.True(t, samples[i-1].Timestamp.Before(samples[i].Timestamp))
	}

	samples, err = dao.QuerySamples(ctx, SampleQuery{Order: Descending})
	assert.NoError(t, err)
	for i := 1; i < len(samples); i++ {
		assert.True(t, samples[i-1].Timestamp.After(samples[i].Timestamp))
	}

	/*
		时间范围：From包含，To不包含
	*/
	samples, err = dao.QuerySamples(ctx, SampleQuery{From: baseTime.Add(time.Minute), To: baseTime.Add(3 * time.Minute)})
	assert.NoError(t, err)
	if assert.Equal(t, 2, len(samples)) {
		assert.Equal(t, baseTime.Add(time.Minute), samples[0].Timestamp)
		assert.Equal(t, baseTime.Add(2*time.Minute), samples[1].Timestamp)
	}

	/*
		数量限制
	*/
	samples, err = dao.QuerySamples(ctx, SampleQuery{Limit: 2, Order: Descending})
	assert.NoError(t, err)
	if assert.Equal(t, 2, len(samples)) {
		assert.Equal(t, baseTime.Add(4*time.Minute), samples[0].Timestamp)
	}

	samples, err = dao.QueryLatestSamples(ctx, 3)
	assert.NoError(t, err)
	if assert.Equal(t, 3, len(samples)) {
		assert.Equal(t, baseTime.Add(2*time.Minute), samples[2].Timestamp)
	}

	_, err = dao.QueryLatestSamples(ctx, 0)
	assert.Error(t, err)
}

func TestDaoImpl_QueryBounds(t *testing.T) {
	dao, _ := newTestDao(t)
	ctx := context.Background()

	bounds, err := dao.QueryBounds(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), bounds.Count)
	assert.True(t, bounds.First.IsZero())

	for i := 0; i < 3; i++ {
		assert.NoError(t, dao.SaveSample(ctx, sampleAt(time.Duration(i)*time.Hour)))
	}
	bounds, err = dao.QueryBounds(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), bounds.Count)
	assert.Equal(t, baseTime, bounds.First)
	assert.Equal(t, baseTime.Add(2*time.Hour), bounds.Last)
}

func TestDaoImpl_RemoveSamplesBefore(t *testing.T) {
	dao, _ := newTestDao(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.NoError(t, dao.SaveSample(ctx, sampleAt(time.Duration(i)*time.Hour)))
	}
	removed, err := dao.RemoveSamplesBefore(ctx, baseTime.Add(5*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, int64(5), removed)

	samples, err := dao.QuerySamples(ctx, SampleQuery{})
	assert.NoError(t, err)
	assert.Equal(t, 5, len(samples))
	for _, s := range samples {
		assert.False(t, s.Timestamp.Before(baseTime.Add(5*time.Hour)))
	}
}

func TestNewReadOnlyDao(t *testing.T) {
	_, err := NewReadOnlyDao(Config{DbPath: filepath.Join(t.TempDir(), "missing.db")})
	assert.True(t, errors.Is(err, ErrStoreNotFound))

	dao, path := newTestDao(t)
	assert.NoError(t, dao.SaveSample(context.Background(), sampleAt(0)))

	reader, err := NewReadOnlyDao(Config{DbPath: path})
	if !assert.NoError(t, err) {
		assert.FailNow(t, "只读打开失败")
	}
	defer reader.Close()

	samples, err := reader.QuerySamples(context.Background(), SampleQuery{})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(samples))

	// 只读连接不允许写入
	err = reader.DB().Exec("DELETE FROM health_metrics").Error
	assert.Error(t, err)
}

func TestDaoImpl_LockContention(t *testing.T) {
	dao, path := newTestDao(t)
	ctx := context.Background()
	assert.NoError(t, dao.SaveSample(ctx, sampleAt(0)))

	// 另一个写者持有写锁
	raw, err := sql.Open("sqlite", path)
	if !assert.NoError(t, err) {
		assert.FailNow(t, "打开数据库失败")
	}
	defer raw.Close()
	conn, err := raw.Conn(ctx)
	if !assert.NoError(t, err) {
		assert.FailNow(t, "获取连接失败")
	}
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	if !assert.NoError(t, err) {
		assert.FailNow(t, "获取写锁失败")
	}
	_, err = conn.ExecContext(ctx, `INSERT INTO health_metrics (timestamp) VALUES ('2099-01-01T00:00:00.000000Z')`)
	assert.NoError(t, err)

	writer, err := NewDao(Config{DbPath: path, BusyTimeout: 50 * time.Millisecond})
	if err == nil {
		start := time.Now()
		err = writer.SaveSample(ctx, sampleAt(time.Minute))
		assert.True(t, errors.Is(err, ErrStoreBusy), "%v", err)
		assert.True(t, time.Since(start) < 5*time.Second)
		_ = writer.Close()
	} else {
		// 打开时的建表检查也可能因锁等待超时而失败
		assert.True(t, errors.Is(err, ErrStoreBusy), "%v", err)
	}

	// WAL模式下读者不被写者阻塞，且看不到未提交的数据
	reader, err := NewReadOnlyDao(Config{DbPath: path, BusyTimeout: 50 * time.Millisecond})
	if assert.NoError(t, err) {
		samples, err := reader.QuerySamples(ctx, SampleQuery{})
		assert.NoError(t, err)
		assert.Equal(t, 1, len(samples))
		_ = reader.Close()
	}

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	assert.NoError(t, err)
}
