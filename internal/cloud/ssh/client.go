package ssh

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/chiquitav2/ddcloud/pkg/errors"
	applogger "github.com/chiquitav2/ddcloud/pkg/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Client runs bootstrap commands on a freshly created node
type Client interface {
	RunCommand(ctx context.Context, command string) (string, error)
	RunScript(ctx context.Context, command string, script io.Reader) (string, error)
	Close() error
}

// Config describes how to reach and authenticate against a node
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey []byte
	Timeout    time.Duration

	// KnownHostsFile verifies the host key when set. Without it any key is
	// accepted, since a node that was just created has none on record.
	KnownHostsFile string
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

type client struct {
	config *ssh.ClientConfig
	addr   string
	conn   *ssh.Client
	mutex  sync.Mutex
	logger *applogger.Logger
}

// NewClient prepares a client; the connection is opened on first use
func NewClient(cfg Config, logger *applogger.Logger) (Client, error) {
	var auth []ssh.AuthMethod

	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, apperrors.NewSSHError(apperrors.ErrCodeSSHConnection, "failed to parse private key", false, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		password := cfg.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(auth) == 0 {
		return nil, apperrors.NewSSHError(apperrors.ErrCodeSSHConnection, "no ssh password or key configured", false, nil)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = applogger.NewNop()
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, apperrors.NewSSHError(apperrors.ErrCodeSSHConnection, "failed to load known hosts", false, err).
				WithMetadata("known_hosts", cfg.KnownHostsFile)
		}
		hostKeys = cb
	}

	return &client{
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         timeout,
		},
		addr:   cfg.addr(),
		logger: logger.WithComponent("ssh.client").With(slog.String("addr", cfg.addr())),
	}, nil
}

// RunCommand executes a command and returns its combined output
func (c *client) RunCommand(ctx context.Context, command string) (string, error) {
	return c.run(ctx, command, nil)
}

// RunScript executes command with script streamed to its stdin
func (c *client) RunScript(ctx context.Context, command string, script io.Reader) (string, error) {
	return c.run(ctx, command, script)
}

func (c *client) run(ctx context.Context, command string, stdin io.Reader) (string, error) {
	op := c.logger.StartOp(ctx, "run_command", slog.String("command", command))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			op.Fail(err, "connection failed")
			return "", err
		}
	}

	session, err := c.conn.NewSession()
	if err != nil {
		c.logger.DebugContext(ctx, "ssh session failed, attempting reconnect", slog.String("error", err.Error()))
		if err := c.reconnect(ctx); err != nil {
			op.Fail(err, "reconnect failed")
			return "", err
		}
		session, err = c.conn.NewSession()
		if err != nil {
			err = apperrors.NewSSHError(apperrors.ErrCodeSSHConnection, "failed to create session after reconnect", true, err)
			op.Fail(err, "session creation failed after reconnect")
			return "", err
		}
	}
	defer session.Close()

	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
			_ = session.Close()
		case <-done:
		}
	}()

	err = session.Run(command)
	close(done)

	if ctx.Err() != nil {
		err = apperrors.NewSSHError(apperrors.ErrCodeSSHTimeout, "ssh command cancelled", true, ctx.Err())
		op.Fail(err, "command cancelled")
		return output.String(), err
	}
	if err != nil {
		err = apperrors.NewSSHError(apperrors.ErrCodeSSHCommand, "ssh command failed", false, err)
		op.Fail(err, "command execution failed", slog.String("output", output.String()))
		return output.String(), err
	}

	op.Complete("command executed successfully")
	return output.String(), nil
}

// connect dials honouring ctx; caller must hold the lock
func (c *client) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.config.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return apperrors.NewSSHError(apperrors.ErrCodeSSHConnection, "failed to connect to host", true, err).
			WithMetadata("addr", c.addr)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(raw, c.addr, c.config)
	if err != nil {
		raw.Close()
		return apperrors.NewSSHError(apperrors.ErrCodeSSHConnection, "ssh handshake failed", true, err).
			WithMetadata("addr", c.addr)
	}

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

func (c *client) reconnect(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return c.connect(ctx)
}

func (c *client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil {
			c.logger.WarnContext(context.Background(), "error closing ssh connection", slog.String("error", err.Error()))
		}
		return err
	}
	return nil
}

// WaitForPort polls until addr accepts TCP connections or timeout elapses
func WaitForPort(ctx context.Context, host string, port int, timeout, interval time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	if interval <= 0 {
		interval = time.Second
	}

	for {
		dialer := net.Dialer{Timeout: interval}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}

		if time.Now().Add(interval).After(deadline) {
			return apperrors.NewSSHError(apperrors.ErrCodeSSHTimeout, "port "+addr+" did not open in time", true, err)
		}

		select {
		case <-ctx.Done():
			return apperrors.NewSSHError(apperrors.ErrCodeSSHTimeout, "waiting for port cancelled", false, ctx.Err())
		case <-time.After(interval):
		}
	}
}
