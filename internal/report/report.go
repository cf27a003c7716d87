package report

import (
	"context"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/packagewjx/pi-health/internal/classify"
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/packagewjx/pi-health/internal/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ViewType string

const (
	ViewDetailed = ViewType("detailed")
	ViewSummary  = ViewType("summary")
	ViewSimple   = ViewType("simple")
	ViewAll      = ViewType("all")
)

var ViewTypes = []ViewType{ViewDetailed, ViewSummary, ViewSimple, ViewAll}

type Format string

const (
	FormatTerminal = Format("terminal")
	FormatHTML     = Format("html")
	FormatCSV      = Format("csv")
	FormatJSON     = Format("json")
)

const (
	DefaultHours    = 24
	DefaultNumClass = 3
	DefaultNumRound = 30
	// 移动平均窗口
	DefaultSmoothWindow = 5
)

type Config struct {
	DbPath    string
	MysqlHost string
	Hours     uint
	From      time.Time
	To        time.Time
	View      ViewType
	Output    string // 为空时输出到终端，否则根据扩展名决定格式
	NumClass  int    // 负载状态的类别数
	Logger    *zap.Logger
}

func (config *Config) Complete() error {
	if config.Hours == 0 && config.From.IsZero() && config.To.IsZero() {
		config.Hours = DefaultHours
	}
	if config.View == "" {
		config.View = ViewSimple
	}
	valid := false
	for _, v := range ViewTypes {
		if config.View == v {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("未知的视图%s，可选值：detailed, summary, simple, all", config.View)
	}
	if _, err := FormatOf(config.Output); err != nil {
		return err
	}
	if config.NumClass <= 0 {
		config.NumClass = DefaultNumClass
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return nil
}

// FormatOf 根据输出文件的扩展名决定输出格式
func FormatOf(output string) (Format, error) {
	if output == "" {
		return FormatTerminal, nil
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".html", ".htm":
		return FormatHTML, nil
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("不支持的输出格式：%s，可选扩展名：.html, .csv, .json", output)
	}
}

// Views 展开all视图
func Views(view ViewType) []ViewType {
	if view == ViewAll {
		return []ViewType{ViewDetailed, ViewSummary, ViewSimple}
	}
	return []ViewType{view}
}

// OutputFile 视图为all时，每个视图输出到“视图名_文件名”，文件名保持在原目录中
func OutputFile(requested, view ViewType, output string) string {
	if requested != ViewAll {
		return output
	}
	dir, name := filepath.Split(output)
	return filepath.Join(dir, string(view)+"_"+name)
}

// Report 某一视图需要展示的数据
type Report struct {
	View       ViewType
	Series     *Series
	Stats      []*Stat
	Latest     map[string]*float64
	LoadStates *classify.LoadStates
}

func Build(view ViewType, series *Series, classifier classify.Config) (*Report, error) {
	r := &Report{
		View:   view,
		Series: series,
	}
	switch view {
	case ViewDetailed:
	case ViewSummary:
		r.Stats = Summarize(series)
		states, err := classify.ClassifyLoad(series.Samples, classifier)
		if err != nil {
			return nil, errors.Wrap(err, "负载状态分类失败")
		}
		r.LoadStates = states
	case ViewSimple:
		r.Latest = LatestValues(series)
	default:
		return nil, fmt.Errorf("未知的视图%s", view)
	}
	return r, nil
}

func (r *Report) Render(w io.Writer, format Format) error {
	switch format {
	case FormatHTML:
		return r.RenderHTML(w)
	case FormatCSV:
		return r.RenderCSV(w)
	case FormatJSON:
		return r.RenderJSON(w)
	case FormatTerminal:
		return r.RenderTerminal(w)
	default:
		return fmt.Errorf("不支持的输出格式：%s", format)
	}
}

// Generate 读取数据并生成报表。没有数据时只输出提示。
func Generate(ctx context.Context, dao store.QueryDao, config *Config, out io.Writer) error {
	if err := config.Complete(); err != nil {
		return err
	}
	logger := config.Logger.Named("report")
	format, _ := FormatOf(config.Output)

	series, err := Load(ctx, dao, Window{Hours: config.Hours, From: config.From, To: config.To})
	if err != nil {
		return err
	}
	logger.Debug("已读取健康数据", zap.Int("samples", series.Len()),
		zap.Time("from", series.From), zap.Time("to", series.To))
	if series.Len() == 0 {
		if config.From.IsZero() {
			_, _ = fmt.Fprintf(out, "最近%d小时没有数据\n", config.Hours)
		} else {
			_, _ = fmt.Fprintf(out, "%s到%s之间没有数据\n", config.From.Format(time.RFC3339), config.To.Format(time.RFC3339))
		}
		return nil
	}

	for _, view := range Views(config.View) {
		r, err := Build(view, series, classify.Config{NumClass: config.NumClass, Round: DefaultNumRound, Logger: logger})
		if err != nil {
			return err
		}
		if format == FormatTerminal {
			if err := r.Render(out, format); err != nil {
				return errors.Wrapf(err, "输出%s视图失败", view)
			}
			continue
		}

		file := OutputFile(config.View, view, config.Output)
		written, err := writeFile(file, func(w io.Writer) error {
			return r.Render(w, format)
		})
		if err != nil {
			return errors.Wrapf(err, "输出%s视图到%s失败", view, file)
		}
		_, _ = fmt.Fprintf(out, "%s视图已保存到%s（%s）\n", view, file, humanize.Bytes(written))
	}
	return nil
}

func writeFile(file string, render func(w io.Writer) error) (uint64, error) {
	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, err
		}
	}
	fout, err := os.Create(file)
	if err != nil {
		return 0, err
	}
	counter := &utils.WriterCounter{Writer: fout}
	if err := render(counter); err != nil {
		_ = fout.Close()
		return 0, err
	}
	return counter.Count, fout.Close()
}
