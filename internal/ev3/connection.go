package ev3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ErrNotConnected indicates the operation needs an established session.
var ErrNotConnected = errors.New("ev3: not connected")

const (
	defaultUser = "robot"
	defaultHome = "/home/robot"
	sshPort     = "22"
)

// Logger is the logging surface a connection needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Config identifies the brick and its credentials.
type Config struct {
	Host     string
	User     string // "robot" when empty
	Password string
	Home     string // "/home/robot" when empty
}

// Connection is one SSH session to a brick.
type Connection struct {
	cfg Config
	log Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewConnection prepares a connection. Nothing is dialed until Connect.
func NewConnection(cfg Config, log Logger) *Connection {
	if cfg.User == "" {
		cfg.User = defaultUser
	}
	if cfg.Home == "" {
		cfg.Home = defaultHome
	}
	return &Connection{cfg: cfg, log: log}
}

// Connect dials the brick over SSH with password authentication.
func (c *Connection) Connect(ctx context.Context) error {
	sshCfg := &ssh.ClientConfig{
		User: c.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.cfg.Password),
		},
		// Bricks regenerate host keys on re-image; pinning them would
		// strand every freshly flashed brick.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(c.cfg.Host, sshPort)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("ev3: dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ev3: ssh handshake: %w", err)
	}

	c.mu.Lock()
	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.mu.Unlock()

	c.log.Info("brick connected", "host", c.cfg.Host)
	return nil
}

// Download places the script at remotePath under the brick's home
// directory, creating intermediate directories as needed.
func (c *Connection) Download(ctx context.Context, remotePath string, source []byte) error {
	client, err := c.clientLocked()
	if err != nil {
		return err
	}

	full := path.Join(c.cfg.Home, remotePath)
	if dir := path.Dir(full); dir != "." {
		if err := runCommand(ctx, client, fmt.Sprintf("mkdir -p %s", shellQuote(dir)), nil); err != nil {
			return fmt.Errorf("ev3: create %s: %w", dir, err)
		}
	}
	if err := runCommand(ctx, client, fmt.Sprintf("cat > %s", shellQuote(full)), source); err != nil {
		return fmt.Errorf("ev3: upload %s: %w", full, err)
	}

	c.log.Debug("script uploaded", "path", full, "size", len(source))
	return nil
}

// Run executes the script through the brick's launcher and streams its
// output to the callback line by line. It blocks until the program exits
// or ctx is done.
func (c *Connection) Run(ctx context.Context, remotePath string, output func(line string)) error {
	client, err := c.clientLocked()
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ev3: open session: %w", err)
	}
	defer session.Close()

	// The brick's interpreter writes program output to stderr.
	stderr, err := session.StderrPipe()
	if err != nil {
		return fmt.Errorf("ev3: stderr pipe: %w", err)
	}

	full := path.Join(c.cfg.Home, remotePath)
	cmd := fmt.Sprintf("brickrun -r -- pybricks-micropython %s", shellQuote(full))
	c.log.Info("program started", "path", full)
	if err := session.Start(cmd); err != nil {
		return fmt.Errorf("ev3: start program: %w", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- session.Wait() }()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if output != nil {
				output(line)
			}
		case err := <-waitErr:
			// Drain whatever output is already buffered.
			if lines != nil {
				for line := range lines {
					if output != nil {
						output(line)
					}
				}
			}
			if err != nil {
				return fmt.Errorf("ev3: program failed: %w", err)
			}
			return nil
		case <-ctx.Done():
			session.Signal(ssh.SIGINT)
			return ctx.Err()
		}
	}
}

// Disconnect closes the SSH connection. Safe to call in any state.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("ev3: close: %w", err)
	}
	return nil
}

func (c *Connection) clientLocked() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// runCommand runs one remote command to completion, optionally feeding
// stdin, honouring ctx.
func runCommand(ctx context.Context, client *ssh.Client, cmd string, stdin []byte) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return ctx.Err()
	}
}

// shellQuote wraps a path in single quotes for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
