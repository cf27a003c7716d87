package store

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/packagewjx/pi-health/internal/logging"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"os"
	"time"
)

var (
	ErrStoreBusy     = errors.New("数据库繁忙，等待锁超时")
	ErrStoreNotFound = errors.New("数据库文件不存在")
	ErrInvalidSample = errors.New("健康数据无效")
)

const (
	DefaultDbPath       = "pi_health.db"
	DefaultBusyTimeout  = 5 * time.Second
	DefaultQueryTimeout = 10 * time.Second
	DefaultMysqlDbName  = "pi_health"
)

type Order int

const (
	Ascending Order = iota
	Descending
)

// SampleQuery 查询条件。From包含，To不包含；零值代表不限制。
type SampleQuery struct {
	From  time.Time
	To    time.Time
	Limit int
	Order Order
}

type Bounds struct {
	First time.Time
	Last  time.Time
	Count int64
}

type UpdateDao interface {
	SaveSample(ctx context.Context, s *core.HealthSample) error

	// 永久删除before之前的数据，只由运维人员手动调用
	RemoveSamplesBefore(ctx context.Context, before time.Time) (int64, error)
}

type QueryDao interface {
	QuerySamples(ctx context.Context, q SampleQuery) ([]*core.HealthSample, error)
	QueryLatestSamples(ctx context.Context, limit int) ([]*core.HealthSample, error)
	CountSamples(ctx context.Context) (int64, error)
	QueryBounds(ctx context.Context) (*Bounds, error)
}

type ReadOnlyDao interface {
	DB() *gorm.DB
	QueryDao
	Close() error
}

type Dao interface {
	DB() *gorm.DB
	UpdateDao
	QueryDao
	Close() error
}

type Config struct {
	DbPath       string        // SQLite数据库文件路径
	MysqlHost    string        // 若不为空，则使用MySQL，格式为host:port
	BusyTimeout  time.Duration // 等待SQLite锁的最长时间
	QueryTimeout time.Duration // 单次数据库操作的最长时间
	Logger       *zap.Logger
}

func (config *Config) Complete() error {
	if config.DbPath == "" && config.MysqlHost == "" {
		config.DbPath = DefaultDbPath
	}
	if config.BusyTimeout < 0 || config.QueryTimeout < 0 {
		return fmt.Errorf("超时时间不能为负数")
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = DefaultBusyTimeout
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = DefaultQueryTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return nil
}

func (config *Config) location() string {
	if config.MysqlHost != "" {
		return "mysql://" + config.MysqlHost
	}
	return config.DbPath
}

type daoImpl struct {
	db       *gorm.DB
	timeout  time.Duration
	location string
	logger   *zap.Logger
	legacy   bool // 只读打开的数据库中仍有旧格式的时间
}

var _ Dao = &daoImpl{}

// NewDao 以读写方式打开数据库，并确保health_metrics表存在。已有数据不会被修改。
func NewDao(config Config) (Dao, error) {
	d, err := open(config, false)
	if err != nil {
		return nil, err
	}

	// 创建表格等。AutoMigrate只会新增缺失的列，不会删除已有的列
	if err := d.db.AutoMigrate(&HealthSampleDO{}); err != nil {
		_ = d.Close()
		return nil, translate(context.Background(), err, "创建表格时出现异常")
	}
	if converted, err := d.normalizeTimestamps(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	} else if converted > 0 {
		d.logger.Info("旧格式时间已转换", zap.Int64("rows", converted))
	}

	d.logger.Info("数据库初始化完成", zap.String("location", d.location))
	return d, nil
}

// NewReadOnlyDao 以只读方式打开已存在的数据库，供报表等读取进程使用。
func NewReadOnlyDao(config Config) (ReadOnlyDao, error) {
	d, err := open(config, true)
	if err != nil {
		return nil, err
	}
	if !d.db.Migrator().HasTable(&HealthSampleDO{}) {
		_ = d.Close()
		return nil, errors.Wrapf(ErrStoreNotFound, "%s中没有%s表", d.location, TableName)
	}
	legacy, err := d.hasLegacyTimestamps(context.Background())
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	if legacy {
		d.logger.Warn("数据库中的时间仍为旧格式，启动一次采集程序即可完成转换", zap.String("location", d.location))
	}
	d.legacy = legacy
	return d, nil
}

func open(config Config, readOnly bool) (*daoImpl, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}

	gormConfig := &gorm.Config{
		Logger: logging.NewGormLogger(config.Logger),
	}

	var dialector gorm.Dialector
	if config.MysqlHost != "" {
		dialector = mysql.Open(mysqlDSN(config.MysqlHost))
	} else {
		sqlDB, err := openSQLite(config.DbPath, readOnly, config.BusyTimeout)
		if err != nil {
			return nil, err
		}
		dialector = gormsqlite.New(gormsqlite.Config{DriverName: "sqlite", Conn: sqlDB})
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "连接数据库%s错误", config.location())
	}

	return &daoImpl{
		db:       db,
		timeout:  config.QueryTimeout,
		location: config.location(),
		logger:   config.Logger.Named("dao"),
	}, nil
}

func mysqlDSN(host string) string {
	user := os.Getenv("MYSQL_USER")
	if user == "" {
		user = "root"
	}
	dbName := os.Getenv("MYSQL_DATABASE")
	if dbName == "" {
		dbName = DefaultMysqlDbName
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, os.Getenv("MYSQL_PASSWORD"), host, dbName)
}

func (d *daoImpl) DB() *gorm.DB {
	return d.db
}

func (d *daoImpl) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *daoImpl) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func (d *daoImpl) SaveSample(ctx context.Context, s *core.HealthSample) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(ErrInvalidSample, err.Error())
	}

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	do := fromSample(s)
	do.ID = 0
	if err := d.db.WithContext(ctx).Create(do).Error; err != nil {
		return translate(ctx, err, fmt.Sprintf("插入%s的健康数据失败", do.Timestamp))
	}
	s.ID = do.ID
	return nil
}

func (d *daoImpl) RemoveSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	result := d.db.WithContext(ctx).
		Where("timestamp < ?", d.formatBound(before)).
		Delete(&HealthSampleDO{})
	if result.Error != nil {
		return 0, translate(ctx, result.Error, "删除历史数据失败")
	}
	d.logger.Info("已删除历史数据", zap.Int64("rows", result.RowsAffected),
		zap.String("before", core.FormatTimestamp(before)))
	return result.RowsAffected, nil
}

func (d *daoImpl) QuerySamples(ctx context.Context, q SampleQuery) ([]*core.HealthSample, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	tx := d.db.WithContext(ctx).Model(&HealthSampleDO{})
	if !q.From.IsZero() {
		tx = tx.Where("timestamp >= ?", d.formatBound(q.From))
	}
	if !q.To.IsZero() {
		tx = tx.Where("timestamp < ?", d.formatBound(q.To))
	}
	desc := q.Order == Descending
	tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	dos := make([]*HealthSampleDO, 0)
	if err := tx.Find(&dos).Error; err != nil {
		return nil, translate(ctx, err, "查询健康数据失败")
	}
	return toSamples(dos)
}

func (d *daoImpl) QueryLatestSamples(ctx context.Context, limit int) ([]*core.HealthSample, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit应该大于0，现在为%d", limit)
	}
	return d.QuerySamples(ctx, SampleQuery{Limit: limit, Order: Descending})
}

func (d *daoImpl) CountSamples(ctx context.Context) (int64, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var count int64
	if err := d.db.WithContext(ctx).Model(&HealthSampleDO{}).Count(&count).Error; err != nil {
		return 0, translate(ctx, err, "统计健康数据失败")
	}
	return count, nil
}

func (d *daoImpl) QueryBounds(ctx context.Context) (*Bounds, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	row := boundsRow{}
	err := d.db.WithContext(ctx).Model(&HealthSampleDO{}).
		Select("MIN(timestamp) AS first, MAX(timestamp) AS last, COUNT(*) AS count").
		Scan(&row).Error
	if err != nil {
		return nil, translate(ctx, err, "查询数据范围失败")
	}

	bounds := &Bounds{Count: row.Count}
	if row.First.Valid {
		if bounds.First, err = core.ParseTimestamp(row.First.String); err != nil {
			return nil, errors.Wrap(err, "解析最早时间失败")
		}
	}
	if row.Last.Valid {
		if bounds.Last, err = core.ParseTimestamp(row.Last.String); err != nil {
			return nil, errors.Wrap(err, "解析最晚时间失败")
		}
	}
	return bounds, nil
}

type boundsRow struct {
	First sql.NullString
	Last  sql.NullString
	Count int64
}

func toSamples(dos []*HealthSampleDO) ([]*core.HealthSample, error) {
	result := make([]*core.HealthSample, 0, len(dos))
	for _, do := range dos {
		s, err := do.toSample()
		if err != nil {
			return nil, errors.Wrapf(err, "第%d条记录的时间格式有误", do.ID)
		}
		result = append(result, s)
	}
	return result, nil
}
