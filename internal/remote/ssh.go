package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	sshUser       = "root"
	dialTimeout   = 10 * time.Second
	retryInterval = 5 * time.Second
)

// Executor runs commands on freshly provisioned servers over SSH. Hosts
// are ephemeral and reached by IP, so host keys are not checked.
type Executor struct {
	signer ssh.Signer
	logger *slog.Logger
}

func New(privateKeyPath string, logger *slog.Logger) (*Executor, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Executor{
		signer: signer,
		logger: logger.With("component", "remote"),
	}, nil
}

// Run executes command on addr as root, streaming stdin to it. Command
// output is captured and included in the error on failure.
func (e *Executor) Run(ctx context.Context, addr, command string, stdin io.Reader) error {
	client, err := e.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session on %s: %w", addr, err)
	}
	defer session.Close()

	var output bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &output
	session.Stderr = &output

	e.logger.Debug("running remote command", "addr", addr, "command", command)

	if err := session.Run(command); err != nil {
		return fmt.Errorf("remote command failed on %s: %w: %s", addr, err, tail(output.Bytes(), 1024))
	}

	return nil
}

// WaitReady polls until an SSH session can execute a trivial command.
// When the timeout elapses, one final attempt is made so the underlying
// error surfaces to the caller.
func (e *Executor) WaitReady(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := e.Run(ctx, addr, "hostname", nil); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	return e.Run(ctx, addr, "hostname", nil)
}

func (e *Executor) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            sshUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	return ssh.NewClient(cc, chans, reqs), nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
