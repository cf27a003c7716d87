/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/packagewjx/pi-health/pkg/core"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"os"
	"strings"
)

var statusDb string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看数据库的状态",
	Long:  "以只读方式打开数据库，输出数据条数、最早与最晚的采集时间以及表结构。\n",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dao, err := store.NewReadOnlyDao(store.Config{DbPath: statusDb, Logger: logger})
		if err != nil {
			return err
		}
		defer dao.Close()

		bounds, err := dao.QueryBounds(context.Background())
		if err != nil {
			return err
		}
		columnTypes, err := dao.DB().Migrator().ColumnTypes(&store.HealthSampleDO{})
		if err != nil {
			return errors.Wrap(err, "读取表结构失败")
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"项目", "值"})
		table.Append([]string{"数据库", statusDb})
		if info, err := os.Stat(statusDb); err == nil {
			table.Append([]string{"文件大小", humanize.Bytes(uint64(info.Size()))})
		}
		table.Append([]string{"数据条数", humanize.Comma(bounds.Count)})
		if bounds.Count > 0 {
			table.Append([]string{"最早数据", core.FormatTimestamp(bounds.First)})
			table.Append([]string{"最晚数据", fmt.Sprintf("%s（%s）",
				core.FormatTimestamp(bounds.Last), humanize.Time(bounds.Last))})
		}
		columns := make([]string, 0, len(columnTypes))
		for _, columnType := range columnTypes {
			columns = append(columns, fmt.Sprintf("%s %s", columnType.Name(), strings.ToUpper(columnType.DatabaseTypeName())))
		}
		table.Append([]string{store.TableName, strings.Join(columns, ", ")})
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusDb, FlagDb, store.DefaultDbPath,
		"SQLite数据库文件路径")
}
