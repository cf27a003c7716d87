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
	"github.com/packagewjx/pi-health/internal/transfer"
	"github.com/spf13/cobra"
	"os/signal"
	"syscall"
)

const (
	FlagHost       = "host"
	FlagUser       = "user"
	FlagRemotePath = "remote-path"
	FlagLocalPath  = "local-path"
	FlagPort       = "port"
	FlagIdentity   = "identity"
	FlagKnownHosts = "known-hosts"
	FlagInsecure   = "insecure"
)

var pullConfig = &transfer.Config{}

// pullCmd represents the pull command
var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "通过SSH从远程设备复制数据库",
	Long: "使用SFTP把远程设备上的数据库复制到本地。依次尝试identity指定的私钥、ssh-agent与~/.ssh中的默认私钥。\n" +
		"复制先写入临时文件，完成后再替换本地文件，失败时不会留下不完整的文件。\n",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pullConfig.Logger = logger

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		result, err := transfer.Pull(ctx, pullConfig)
		if err != nil {
			return err
		}
		fmt.Printf("已从%s@%s:%s复制到%s，大小%s，耗时%v\n", pullConfig.User, pullConfig.Host, pullConfig.RemotePath,
			result.LocalPath, humanize.Bytes(result.Bytes), result.Duration.Round(1e6))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().StringVar(&pullConfig.Host, FlagHost, transfer.DefaultHost,
		"远程主机名或IP")
	pullCmd.Flags().StringVar(&pullConfig.User, FlagUser, transfer.DefaultUser,
		"SSH用户名")
	pullCmd.Flags().StringVar(&pullConfig.RemotePath, FlagRemotePath, transfer.DefaultRemotePath,
		"远程数据库路径，相对路径相对于远程用户的主目录")
	pullCmd.Flags().StringVar(&pullConfig.LocalPath, FlagLocalPath, transfer.DefaultLocalPath,
		"本地保存路径，目录不存在时自动创建")
	pullCmd.Flags().Uint16VarP(&pullConfig.Port, FlagPort, "p", transfer.DefaultPort,
		"SSH端口号")
	pullCmd.Flags().StringVar(&pullConfig.Identity, FlagIdentity, "",
		"私钥文件。为空时使用ssh-agent与~/.ssh中的默认私钥")
	pullCmd.Flags().StringVar(&pullConfig.KnownHostsPath, FlagKnownHosts, transfer.DefaultKnownHostsPath,
		"known_hosts文件")
	pullCmd.Flags().BoolVar(&pullConfig.InsecureIgnoreHostKey, FlagInsecure, false,
		"不校验远程主机密钥")
}
