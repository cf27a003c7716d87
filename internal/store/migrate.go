package store

import (
	"context"
	"github.com/packagewjx/pi-health/pkg/core"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"time"
)

const normalizeBatchSize = 500

// 旧版本写入的时间不以Z结尾
const (
	legacyCondition = "timestamp NOT LIKE ?"
	legacyPattern   = "%Z"
)

// normalizeTimestamps 把旧版本写入的本地时间改写为UTC格式，使新旧数据可以统一按文本排序与比较。
// 只改变时间的表示方式，表示的时刻与其他列都不变。无法解析的行保持原样。
func (d *daoImpl) normalizeTimestamps(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var pending int64
	if err := d.db.WithContext(ctx).Model(&HealthSampleDO{}).
		Where(legacyCondition, legacyPattern).Count(&pending).Error; err != nil {
		return 0, translate(ctx, err, "检查旧格式时间失败")
	}
	if pending == 0 {
		return 0, nil
	}
	d.logger.Info("转换旧格式的时间", zap.Int64("rows", pending))

	// 超时时间按行数放宽
	ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), d.timeout+time.Duration(pending)*time.Millisecond)
	defer cancel()

	var converted int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := make([]*HealthSampleDO, 0, normalizeBatchSize)
		return tx.Select("id", "timestamp").Where(legacyCondition, legacyPattern).
			FindInBatches(&rows, normalizeBatchSize, func(_ *gorm.DB, _ int) error {
				for _, row := range rows {
					t, err := core.ParseTimestamp(row.Timestamp)
					if err != nil {
						d.logger.Warn("无法解析的时间，保持原样", zap.Uint64("id", row.ID), zap.String("timestamp", row.Timestamp))
						continue
					}
					err = tx.Model(&HealthSampleDO{}).Where("id = ?", row.ID).
						Update("timestamp", core.FormatTimestamp(t)).Error
					if err != nil {
						return err
					}
					converted++
				}
				return nil
			}).Error
	})
	if err != nil {
		return 0, translate(ctx, err, "转换旧格式时间失败")
	}
	return converted, nil
}

// hasLegacyTimestamps 只读打开时检查是否存在尚未转换的旧数据
func (d *daoImpl) hasLegacyTimestamps(ctx context.Context) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	rows := make([]*HealthSampleDO, 0, 1)
	err := d.db.WithContext(ctx).Select("id").Where(legacyCondition, legacyPattern).Limit(1).Find(&rows).Error
	if err != nil {
		return false, translate(ctx, err, "检查旧格式时间失败")
	}
	return len(rows) > 0, nil
}

// formatBound 查询条件中的时间。尚未转换的旧数据库使用旧格式比较。
func (d *daoImpl) formatBound(t time.Time) string {
	if d.legacy {
		return core.FormatLegacyTimestamp(t)
	}
	return core.FormatTimestamp(t)
}
