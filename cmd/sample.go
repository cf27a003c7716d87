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
	"github.com/packagewjx/pi-health/internal/sampler"
	"github.com/packagewjx/pi-health/internal/source"
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/spf13/cobra"
	"os/signal"
	"syscall"
	"time"
)

const (
	FlagInterval    = "interval"
	FlagMaxFailures = "max-failures"
	FlagDiskPath    = "disk-path"
	FlagMysqlHost   = "mysql-host"
)

var (
	sampleInterval    uint
	sampleDb          string
	sampleMaxFailures uint
	sampleDiskPath    string
	sampleMysqlHost   string
)

// sampleCmd represents the sample command
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "定期采集本机健康数据并保存",
	Long: "每隔一段时间（通过interval指定，单位为秒）采集一次CPU、内存、磁盘、温度、频率与运行时间，并写入数据库。\n" +
		"读取失败的传感器对应的数据为空，不影响其他指标。收到SIGINT或SIGTERM后完成当前写入再退出。\n" +
		"连续写入失败达到max-failures次时以非零状态退出。\n",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := sampler.NewSampler(&sampler.Config{
			Interval:         time.Duration(sampleInterval) * time.Second,
			DbPath:           sampleDb,
			MysqlHost:        sampleMysqlHost,
			LogLevel:         cmd.Flag(FlagLogLevel).Value.String(),
			MaxWriteFailures: sampleMaxFailures,
			DiskPath:         sampleDiskPath,
		}, logger)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return s.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	sampleCmd.Flags().UintVarP(&sampleInterval, FlagInterval, "i", uint(sampler.DefaultInterval/time.Second),
		"采集间隔，单位为秒")
	sampleCmd.Flags().StringVar(&sampleDb, FlagDb, store.DefaultDbPath,
		"SQLite数据库文件路径")
	sampleCmd.Flags().UintVar(&sampleMaxFailures, FlagMaxFailures, sampler.DefaultMaxWriteFailures,
		"连续写入失败多少次后退出")
	sampleCmd.Flags().StringVar(&sampleDiskPath, FlagDiskPath, source.DefaultDiskPath,
		"统计磁盘使用率的挂载点")
	sampleCmd.Flags().StringVar(&sampleMysqlHost, FlagMysqlHost, "",
		"Mysql服务器主机端口，格式为：host:port。若不为空，则数据保存到Mysql而不是SQLite")
}
