// Package transport runs accounting commands on the batch head node.
package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort        = 22
	defaultUsername    = "root"
	defaultDialTimeout = 30 * time.Second
)

// Executor sends one command line to the remote host and returns its
// combined stdout/stderr.
type Executor interface {
	Execute(ctx context.Context, argv []string) (string, error)
}

// TransportError is returned on connection failures and non-zero exits.
// Output holds whatever the remote side printed, stderr included.
type TransportError struct {
	Command string
	Output  string
	Err     error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("execute %q: %v", e.Command, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Options SSH 连接参数
type Options struct {
	Host           string
	Port           int
	Username       string
	PrivateKeyPath string
	// KnownHostsPath 为空时不校验主机公钥
	KnownHostsPath string
	DialTimeout    time.Duration
	// CommandTimeout 为 0 时不限制单条命令耗时
	CommandTimeout time.Duration
}

// SSHExecutor opens a new key-authenticated connection for every command.
type SSHExecutor struct {
	opts Options
	log  *log.Helper
}

var _ Executor = (*SSHExecutor)(nil)

// NewSSHExecutor 创建 SSH 命令执行器
func NewSSHExecutor(opts Options, logger log.Logger) *SSHExecutor {
	if opts.Port == 0 {
		opts.Port = defaultPort
	}
	if opts.Username == "" {
		opts.Username = defaultUsername
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &SSHExecutor{
		opts: opts,
		log:  log.NewHelper(log.With(logger, "module", "transport/ssh")),
	}
}

// Address returns username@host:port.
func (e *SSHExecutor) Address() string {
	return e.opts.Username + "@" + net.JoinHostPort(e.opts.Host, strconv.Itoa(e.opts.Port))
}

// Execute runs argv joined by spaces as a single remote shell command.
// Cancelling ctx tears the connection down; the remote process may still
// finish on its own.
func (e *SSHExecutor) Execute(ctx context.Context, argv []string) (string, error) {
	command := strings.Join(argv, " ")
	if e.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.CommandTimeout)
		defer cancel()
	}
	e.log.WithContext(ctx).Debugf("Executing SSH command on %s: %s", e.Address(), command)

	client, err := e.dial(ctx)
	if err != nil {
		return "", &TransportError{Command: command, Err: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", &TransportError{Command: command, Err: fmt.Errorf("open session: %w", err)}
	}
	defer session.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	out, err := session.CombinedOutput(command)
	output := string(out)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		e.log.WithContext(ctx).Errorf("SSH command failed on %s: %s: %v", e.Address(), command, err)
		return output, &TransportError{Command: command, Output: output, Err: err}
	}
	return output, nil
}

func (e *SSHExecutor) dial(ctx context.Context) (*ssh.Client, error) {
	config, err := e.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(e.opts.Host, strconv.Itoa(e.opts.Port))
	dialer := net.Dialer{Timeout: e.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// 握手阶段同样受 DialTimeout 约束
	_ = conn.SetDeadline(time.Now().Add(e.opts.DialTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(e.opts.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", e.opts.PrivateKeyPath, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.opts.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(e.opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            e.opts.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.opts.DialTimeout,
	}, nil
}
