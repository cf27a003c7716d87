package transfer

import (
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
)

var defaultIdentities = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// clientConfig 返回的closer为ssh-agent连接，可能为nil，使用完毕后需要关闭
func clientConfig(config *Config) (*ssh.ClientConfig, io.Closer, error) {
	auth, agentConn, err := authMethods(config)
	if err != nil {
		return nil, nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !config.InsecureIgnoreHostKey {
		hostKeyCallback, err = knownhosts.New(config.KnownHostsPath)
		if err != nil {
			if agentConn != nil {
				_ = agentConn.Close()
			}
			return nil, nil, errors.Wrapf(err, "读取%s失败，可使用--insecure跳过主机密钥校验", config.KnownHostsPath)
		}
	}

	return &ssh.ClientConfig{
		User:            config.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}, agentConn, nil
}

// authMethods 公钥依次来自指定的私钥文件、ssh-agent与默认私钥，最后是密码。
// 同一种认证方式ssh只会尝试一次，因此所有公钥合并为一个认证方式。
func authMethods(config *Config) ([]ssh.AuthMethod, io.Closer, error) {
	var identity ssh.Signer
	if config.Identity != "" {
		signer, err := loadSigner(config.Identity)
		if err != nil {
			return nil, nil, err
		}
		identity = signer
	}

	var agentClient agent.ExtendedAgent
	var agentConn net.Conn
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			agentClient = agent.NewClient(conn)
			config.Logger.Debug("使用ssh-agent")
		}
	}

	defaults := make([]ssh.Signer, 0)
	if identity == nil {
		if dir, err := homedir.Expand("~/.ssh"); err == nil {
			for _, name := range defaultIdentities {
				// 默认私钥不存在或带有密码短语时直接跳过
				if signer, err := loadSigner(filepath.Join(dir, name)); err == nil {
					defaults = append(defaults, signer)
				}
			}
		}
	}

	methods := make([]ssh.AuthMethod, 0, 2)
	if identity != nil || agentClient != nil || len(defaults) > 0 {
		methods = append(methods, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			result := make([]ssh.Signer, 0, 1+len(defaults))
			if identity != nil {
				result = append(result, identity)
			}
			if agentClient != nil {
				if agentSigners, err := agentClient.Signers(); err == nil {
					result = append(result, agentSigners...)
				}
			}
			return append(result, defaults...), nil
		}))
	}
	if config.Password != "" {
		methods = append(methods, ssh.Password(config.Password))
	}
	if len(methods) == 0 {
		return nil, nil, errors.Wrap(ErrAuthFailed, "没有可用的认证方式：未指定私钥，ssh-agent不可用，也没有默认私钥")
	}
	return methods, agentConn, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "读取私钥%s失败", path)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); ok {
			return nil, errors.Wrapf(ErrAuthFailed, "私钥%s带有密码短语，请使用ssh-agent", path)
		}
		return nil, errors.Wrapf(err, "解析私钥%s失败", path)
	}
	return signer, nil
}
