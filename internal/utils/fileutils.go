package utils

import (
	"encoding/csv"
	"fmt"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"io"
	"strconv"
)

// SampleHeader CSV导出的表头，与数据表列名一致
func SampleHeader() []string {
	header := make([]string, 2, 2+len(core.MetricFields))
	header[0] = "id"
	header[1] = "timestamp"
	return append(header, core.MetricFields...)
}

func SampleToRecord(s *core.HealthSample) []string {
	record := make([]string, 2, 2+len(core.MetricFields))
	record[0] = strconv.FormatUint(s.ID, 10)
	record[1] = core.FormatTimestamp(s.Timestamp)
	for _, field := range core.MetricFields {
		// 缺失的指标留空
		if v := s.Value(field); v != nil {
			record = append(record, strconv.FormatFloat(*v, 'f', 2, 64))
		} else {
			record = append(record, "")
		}
	}
	return record
}

// WriteSamples 以CSV格式写出表头与所有样本
func WriteSamples(out io.Writer, samples []*core.HealthSample) error {
	writer := csv.NewWriter(out)

	if err := writer.Write(SampleHeader()); err != nil {
		return errors.Wrap(err, "写入表头出错")
	}
	for i, s := range samples {
		err := writer.Write(SampleToRecord(s))
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("写入第%d条数据出错", i))
		}
	}

	writer.Flush()
	return writer.Error()
}
