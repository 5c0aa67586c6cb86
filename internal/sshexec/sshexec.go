// Package sshexec owns the SSH session lifecycle for remote command
// execution: one authenticated connection per logical operation, one exec
// channel per command, combined output collection and exit status capture.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"vmgate/internal/charset"
)

// IdleTimeout bounds both the TCP dial and silence on an established
// connection. It is the only liveness bound; there is no per-command
// cancellation.
const IdleTimeout = 10 * time.Second

// DefaultPort is used when Config.Port is zero.
const DefaultPort = 22

// Config identifies the remote host for one connection. It is immutable per
// call and never persisted here.
type Config struct {
	Host string
	Port int
	User string
}

// Addr returns the dialable host:port.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Result holds the outcome of one exec channel: the decoded combined output
// and the exit status, if the remote reported one. A nil ExitStatus means
// the remote closed the channel without an exit-status message; downstream
// classification treats that as success.
type Result struct {
	Output     string
	ExitStatus *uint32
}

// TransportError means the connection could not be established or dropped
// unexpectedly. Never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("SSH connection failed: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the server rejected the credential. Kept distinct from
// TransportError internally even though both surface the same terse prefix.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("SSH connection failed: authentication rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Session wraps one authenticated SSH connection. It executes one exec
// channel at a time and is never shared between operations.
type Session struct {
	client *ssh.Client
}

// Connect dials the host and authenticates with the given key. Host keys are
// not verified. The returned session must be closed by the caller; Close
// failures are conventionally ignored.
func Connect(ctx context.Context, cfg Config, signer ssh.Signer) (*Session, error) {
	d := net.Dialer{Timeout: IdleTimeout}
	raw, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, &TransportError{Op: "dial " + cfg.Addr(), Err: err}
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         IdleTimeout,
	}

	conn := &idleConn{Conn: raw, timeout: IdleTimeout}
	cc, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr(), clientCfg)
	if err != nil {
		_ = raw.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthError{Err: err}
		}
		return nil, &TransportError{Op: "handshake", Err: err}
	}

	return &Session{client: ssh.NewClient(cc, chans, reqs)}, nil
}

// Exec opens one exec channel, runs the command and collects stdout and
// stderr interleaved in arrival order into a single buffer, which is decoded
// via charset.Decode. A non-zero exit status is not an error here; that
// judgment belongs to the classifier. Exec fails only if the channel cannot
// be opened or the transport breaks.
func (s *Session) Exec(command string) (*Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "open exec channel", Err: err}
	}
	defer sess.Close()

	var buf combinedBuffer
	sess.Stdout = &buf
	sess.Stderr = &buf

	runErr := sess.Run(command)

	res := &Result{Output: charset.Decode(buf.Bytes())}
	switch {
	case runErr == nil:
		status := uint32(0)
		res.ExitStatus = &status
	default:
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(runErr, &exitErr):
			status := uint32(exitErr.ExitStatus())
			res.ExitStatus = &status
		case errors.As(runErr, &missingErr):
			// Remote closed without reporting a status.
		default:
			return nil, &TransportError{Op: "exec", Err: runErr}
		}
	}
	return res, nil
}

// Close disconnects. Best-effort: operations proceed to return their exec
// result regardless of the close outcome.
func (s *Session) Close() error {
	return s.client.Close()
}

// combinedBuffer interleaves stdout and stderr writes in arrival order. The
// ssh package copies the two streams from separate goroutines, so writes
// must be serialized.
type combinedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *combinedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *combinedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}

// idleConn trips the connection deadline after IdleTimeout of silence in
// either direction.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
