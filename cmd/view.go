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
	"github.com/packagewjx/pi-health/internal/report"
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

const (
	FlagHours   = "hours"
	FlagOutput  = "output"
	FlagView    = "view"
	FlagClasses = "classes"
)

var (
	viewHours     uint
	viewDb        string
	viewOutput    string
	viewType      string
	viewClasses   int
	viewMysqlHost string
)

// viewCmd represents the view command
var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "查看最近一段时间的健康数据",
	Long: "读取最近hours小时的健康数据并生成报表。视图可选detailed（每个指标一张图）、summary（汇总图与负载状态）、\n" +
		"simple（简洁面板）与all。未指定output时输出到终端；output的扩展名为.html、.csv或.json时输出对应格式的文件，\n" +
		"视图为all时每个视图分别输出到“视图名_output”。\n",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := &report.Config{
			DbPath:    viewDb,
			MysqlHost: viewMysqlHost,
			Hours:     viewHours,
			View:      report.ViewType(viewType),
			Output:    viewOutput,
			NumClass:  viewClasses,
			Logger:    logger,
		}
		if err := config.Complete(); err != nil {
			return err
		}

		dao, err := store.NewReadOnlyDao(store.Config{
			DbPath:    viewDb,
			MysqlHost: viewMysqlHost,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer dao.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return report.Generate(ctx, dao, config, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().UintVar(&viewHours, FlagHours, report.DefaultHours,
		"查看最近多少小时的数据")
	viewCmd.Flags().StringVar(&viewDb, FlagDb, store.DefaultDbPath,
		"SQLite数据库文件路径")
	viewCmd.Flags().StringVarP(&viewOutput, FlagOutput, "o", "",
		"输出文件，扩展名为.html、.csv或.json。为空时输出到终端")
	viewCmd.Flags().StringVar(&viewType, FlagView, string(report.ViewSimple),
		"视图类型：detailed、summary、simple或all")
	viewCmd.Flags().IntVar(&viewClasses, FlagClasses, report.DefaultNumClass,
		"summary视图中负载状态的类别数")
	viewCmd.Flags().StringVar(&viewMysqlHost, FlagMysqlHost, "",
		"Mysql服务器主机端口，格式为：host:port")
}
