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
	"fmt"
	"github.com/mitchellh/go-homedir"
	"github.com/packagewjx/pi-health/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"os"
	"strings"
)

const (
	FlagConfig   = "config"
	FlagLogLevel = "log-level"
	FlagDb       = "db"
)

const envPrefix = "PIHEALTH"

var cfgFile string

var logger = zap.NewNop()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pi-health",
	Short: "树莓派等嵌入式设备的健康数据采集与查看工具",
	Long: "pi-health定期采集本机的CPU、内存、磁盘、温度、频率与运行时间等健康数据，保存到本地SQLite数据库中。\n" +
		"采集到的数据可以通过view命令以终端图表、HTML、CSV或JSON的形式查看，也可以通过pull命令从远程设备复制数据库。\n",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 配置文件与环境变量中的值作为命令行参数的默认值
		if err := bindFlags(cmd); err != nil {
			return err
		}

		l, err := logging.New(viper.GetString(FlagLogLevel))
		if err != nil {
			return err
		}
		logger = l
		if viper.ConfigFileUsed() != "" {
			logger.Debug("使用配置文件", zap.String("file", viper.ConfigFileUsed()))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, FlagConfig, "", "配置文件 (默认为$HOME/.pi-health.yaml)")
	rootCmd.PersistentFlags().String(FlagLogLevel, logging.LevelInfo,
		"日志级别，可选值："+strings.Join(logging.Levels, ", "))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".pi-health" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".pi-health")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintln(os.Stderr, "读取配置文件失败：", err)
			os.Exit(1)
		}
	}
}

// bindFlags 把当前命令的参数绑定到viper。命令行中未设置的参数使用配置文件或环境变量中的值。
func bindFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if !f.Changed && viper.IsSet(f.Name) {
			err = f.Value.Set(fmt.Sprint(viper.Get(f.Name)))
		}
		if err == nil {
			err = viper.BindPFlag(f.Name, f)
		}
	})
	return err
}
