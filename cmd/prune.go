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
	"github.com/packagewjx/pi-health/internal/store"
	"github.com/spf13/cobra"
	"time"
)

const FlagOlderThan = "older-than"

var (
	pruneDb        string
	pruneOlderThan time.Duration
)

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "删除过旧的健康数据",
	Long:  "永久删除采集时间早于older-than之前的数据。采集程序本身不会删除任何数据。\n",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return fmt.Errorf("必须通过--%s指定一个正的时间长度，例如720h", FlagOlderThan)
		}

		dao, err := store.NewDao(store.Config{DbPath: pruneDb, Logger: logger})
		if err != nil {
			return err
		}
		defer dao.Close()

		before := time.Now().Add(-pruneOlderThan)
		removed, err := dao.RemoveSamplesBefore(context.Background(), before)
		if err != nil {
			return err
		}
		fmt.Printf("已删除%s之前的%d条数据\n", before.Format(time.RFC3339), removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVar(&pruneDb, FlagDb, store.DefaultDbPath,
		"SQLite数据库文件路径")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, FlagOlderThan, 0,
		"删除多久之前的数据")
}
