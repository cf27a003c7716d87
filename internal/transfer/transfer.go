package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/packagewjx/pi-health/internal/utils"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrAuthFailed      = errors.New("SSH认证失败")
	ErrUnreachable     = errors.New("无法连接远程主机")
	ErrRemoteNotFound  = errors.New("远程文件不存在")
	ErrHostKeyMismatch = errors.New("远程主机密钥校验失败")
)

const (
	DefaultHost           = "rpi4"
	DefaultUser           = "admin"
	DefaultPort           = 22
	DefaultRemotePath     = "pi_health.db"
	DefaultLocalPath      = "pi_health.db"
	DefaultKnownHostsPath = "~/.ssh/known_hosts"
	DefaultTimeout        = 10 * time.Second
)

type Config struct {
	Host                  string
	User                  string
	Port                  uint16
	RemotePath            string // 相对路径相对于远程用户的主目录
	LocalPath             string
	Identity              string // 私钥文件，不支持带密码短语的私钥
	Password              string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool // 不校验远程主机密钥
	Timeout               time.Duration
	Logger                *zap.Logger `json:"-"`
}

func (config Config) String() string {
	c := config
	if c.Password != "" {
		c.Password = "******"
	}
	marshal, _ := json.Marshal(c)
	return string(marshal)
}

func (config *Config) Complete() error {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.User == "" {
		config.User = DefaultUser
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.RemotePath == "" {
		config.RemotePath = DefaultRemotePath
	}
	if config.LocalPath == "" {
		config.LocalPath = DefaultLocalPath
	}
	if config.KnownHostsPath == "" {
		config.KnownHostsPath = DefaultKnownHostsPath
	}
	if config.Timeout < 0 {
		return fmt.Errorf("超时时间不能为负数")
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	var err error
	for _, p := range []*string{&config.LocalPath, &config.Identity, &config.KnownHostsPath} {
		if *p, err = homedir.Expand(*p); err != nil {
			return errors.Wrapf(err, "展开路径%s失败", *p)
		}
	}
	return nil
}

func (config *Config) address() string {
	return net.JoinHostPort(config.Host, strconv.Itoa(int(config.Port)))
}

type Result struct {
	LocalPath string
	Bytes     uint64
	Duration  time.Duration
}

// Pull 通过SFTP把远程文件复制到本地。先写入同目录下的临时文件，完成后原子替换目标文件，
// 任何失败都不会留下不完整的文件。只尝试一次，不重试。
func Pull(ctx context.Context, config *Config) (*Result, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}
	logger := config.Logger.Named("transfer")
	start := time.Now()

	clientConfig, agentConn, err := clientConfig(config)
	if err != nil {
		return nil, err
	}
	if agentConn != nil {
		defer agentConn.Close()
	}

	logger.Info("正在连接远程主机", zap.String("address", config.address()), zap.String("user", config.User))
	client, err := dial(ctx, config, clientConfig)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	// ctx取消时关闭连接，使正在进行的复制立即失败
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, errors.Wrap(err, "创建SFTP会话失败")
	}
	defer sftpClient.Close()

	remote, err := sftpClient.Open(config.RemotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrRemoteNotFound, "%s:%s", config.Host, config.RemotePath)
		}
		return nil, errors.Wrapf(err, "打开远程文件%s失败", config.RemotePath)
	}
	defer remote.Close()
	if info, err := remote.Stat(); err == nil {
		logger.Info("开始复制", zap.String("remote", config.RemotePath), zap.String("size", humanize.Bytes(uint64(info.Size()))))
	}

	written, err := copyAtomic(remote, config.LocalPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "复制被取消")
		}
		return nil, err
	}

	result := &Result{
		LocalPath: config.LocalPath,
		Bytes:     written,
		Duration:  time.Since(start),
	}
	logger.Info("复制完成", zap.String("local", result.LocalPath),
		zap.String("size", humanize.Bytes(result.Bytes)), zap.Duration("duration", result.Duration))
	return result, nil
}

func dial(ctx context.Context, config *Config, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := &net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.address())
	if err != nil {
		return nil, errors.Wrapf(ErrUnreachable, "%s：%v", config.address(), err)
	}

	// 握手阶段同样受超时限制
	_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, config.address(), clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, classifyHandshakeError(config.address(), err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func classifyHandshakeError(address string, err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return errors.Wrapf(ErrHostKeyMismatch, "%s不在known_hosts中", address)
		}
		return errors.Wrapf(ErrHostKeyMismatch, "%s的密钥与known_hosts不一致", address)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return errors.Wrapf(ErrAuthFailed, "%s：%v", address, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
		return errors.Wrapf(ErrUnreachable, "%s：%v", address, err)
	}
	return errors.Wrapf(err, "与%s握手失败", address)
}

// copyAtomic 复制到目标目录中的临时文件，同步到磁盘后重命名为目标文件
func copyAtomic(src io.Reader, dest string) (uint64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.Wrapf(err, "创建本地目录%s失败", dir)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.part", filepath.Base(dest), uuid.New().String()))
	fout, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, errors.Wrap(err, "创建临时文件失败")
	}
	success := false
	defer func() {
		if !success {
			_ = fout.Close()
			_ = os.Remove(tmp)
		}
	}()

	counter := &utils.ReadCounter{Reader: src}
	if _, err = io.Copy(fout, counter); err != nil {
		return 0, errors.Wrap(err, "复制文件内容失败")
	}
	if err = fout.Sync(); err != nil {
		return 0, errors.Wrap(err, "同步临时文件失败")
	}
	if err = fout.Close(); err != nil {
		return 0, errors.Wrap(err, "关闭临时文件失败")
	}
	if err = os.Rename(tmp, dest); err != nil {
		return 0, errors.Wrapf(err, "重命名为%s失败", dest)
	}
	success = true
	return counter.Count, nil
}
