/*
Copyright 2025 WillIsback

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

package sshutils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/willisback/xsshend"
	"github.com/willisback/xsshend/lib/defaults"
	"github.com/willisback/xsshend/lib/utils"
)

// CommandOutput is the outcome of one remote command.
type CommandOutput struct {
	// ExitCode is the remote exit status.
	ExitCode int
	// Stdout is the captured standard output, bounded.
	Stdout []byte
	// Stderr is the captured standard error, bounded.
	Stderr []byte
}

// Session is the single-target transport capability the transfer pool and
// the command executor depend on. Mock implementations drive tests without
// network I/O.
type Session interface {
	// Connect opens TCP, performs the SSH handshake, authenticates and
	// opens the SFTP channel.
	Connect(ctx context.Context) error
	// Upload copies a local file under the remote directory and returns
	// the bytes written. progress, when non-nil, receives the cumulative
	// byte count during the copy.
	Upload(ctx context.Context, localPath, remoteDir string, progress func(written int64)) (int64, error)
	// RunCommand executes cmd remotely, bounded by timeout.
	RunCommand(ctx context.Context, cmd string, timeout time.Duration) (*CommandOutput, error)
	// RemoteHome returns the remote user's home directory when it was
	// discovered, empty otherwise.
	RemoteHome() string
	// Disconnect releases the transport. It is idempotent.
	Disconnect() error
}

// SessionConfig describes one target transport.
type SessionConfig struct {
	// User is the remote login.
	User string
	// HostPort is the opaque host[:port] from the catalog alias.
	HostPort string
	// Auth supplies the authentication methods.
	Auth *AuthResolver
	// ConnectTimeout bounds DNS, TCP connect and the handshake.
	ConnectTimeout time.Duration
	// HostKeyCallback verifies the server key. Defaults to accepting any
	// key, matching the catalog trust model.
	HostKeyCallback ssh.HostKeyCallback
	// Log optionally overrides the logger.
	Log log.FieldLogger
}

// CheckAndSetDefaults fills unset fields.
func (c *SessionConfig) CheckAndSetDefaults() error {
	if c.User == "" {
		return trace.BadParameter("missing session user")
	}
	if c.HostPort == "" {
		return trace.BadParameter("missing session host")
	}
	if c.Auth == nil {
		return trace.BadParameter("missing auth resolver")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if c.Log == nil {
		c.Log = log.WithFields(log.Fields{
			trace.Component: xsshend.ComponentSession,
			"target":        c.User + "@" + c.HostPort,
		})
	}
	return nil
}

// DialFunc constructs an unconnected session for one target. The pool and
// the executor depend on this to stay transport-agnostic.
type DialFunc func(cfg SessionConfig) (Session, error)

// NewSession returns the real SFTP-backed session. The transport is opened
// by Connect.
func NewSession(cfg SessionConfig) (Session, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &sftpSession{cfg: cfg}, nil
}

type sftpSession struct {
	cfg SessionConfig

	mu         sync.Mutex
	client     *ssh.Client
	sftpClient *sftp.Client
	agentConn  io.Closer
	remoteHome string
}

func (s *sftpSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	addr := EnsurePort(s.cfg.HostPort)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return trace.BadParameter("invalid host %q: %v", s.cfg.HostPort, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if _, err := net.DefaultResolver.LookupHost(dialCtx, host); err != nil {
		return &DNSError{Host: host, Err: err}
	}

	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() || dialCtx.Err() != nil {
			return &ConnectTimeoutError{Addr: addr, Err: err}
		}
		return trace.ConnectionProblem(err, "could not connect to %v", addr)
	}

	methods, agentConn, err := s.cfg.Auth.Methods()
	if err != nil {
		conn.Close()
		return trace.Wrap(err)
	}

	// The connect timeout also bounds reads and writes of the handshake;
	// the deadline is lifted once the transport is up.
	conn.SetDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            methods,
		HostKeyCallback: s.cfg.HostKeyCallback,
		Timeout:         s.cfg.ConnectTimeout,
	})
	if err != nil {
		conn.Close()
		if agentConn != nil {
			agentConn.Close()
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return &AuthExhaustedError{User: s.cfg.User, Addr: addr, Err: err}
		}
		return &HandshakeError{Addr: addr, Err: err}
	}
	conn.SetDeadline(time.Time{})

	client := ssh.NewClient(clientConn, chans, reqs)
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		if agentConn != nil {
			agentConn.Close()
		}
		return &SFTPOpenError{Err: err}
	}

	s.client = client
	s.sftpClient = sftpClient
	s.agentConn = agentConn
	s.remoteHome = discoverRemoteHome(client)
	s.cfg.Log.Debugf("Session established with %v@%v.", s.cfg.User, addr)
	return nil
}

// discoverRemoteHome asks the server for the login home directory. Best
// effort: expansion falls back to /home/<user> when it fails.
func discoverRemoteHome(client *ssh.Client) string {
	session, err := client.NewSession()
	if err != nil {
		return ""
	}
	defer session.Close()
	out, err := session.Output("pwd")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (s *sftpSession) RemoteHome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteHome
}

func (s *sftpSession) Upload(ctx context.Context, localPath, remoteDir string, progress func(int64)) (int64, error) {
	s.mu.Lock()
	sftpClient := s.sftpClient
	s.mu.Unlock()
	if sftpClient == nil {
		return 0, trace.NotFound("session is not connected")
	}

	local, err := os.Open(localPath)
	if err != nil {
		return 0, trace.ConvertSystemError(err)
	}
	defer local.Close()

	remotePath := JoinRemote(remoteDir, filepath.Base(localPath))

	// Idempotent: an existing parent is fine.
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil && !isExistError(err) {
			return 0, &UploadError{Path: remotePath, Err: err}
		}
		// Mkdir over SFTP ignores the requested mode on some servers;
		// chmod keeps the directory world-traversable either way.
		sftpClient.Chmod(dir, defaults.RemoteDirMode)
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return 0, &UploadError{Path: remotePath, Err: err}
	}

	writer := io.MultiWriter(&cancelWriter{ctx: ctx}, remote, &progressWriter{fn: progress})
	written, err := io.Copy(writer, local)
	closeErr := remote.Close()
	if err != nil {
		return written, &UploadError{Path: remotePath, Err: err}
	}
	if closeErr != nil {
		return written, &UploadError{Path: remotePath, Err: closeErr}
	}
	s.cfg.Log.Debugf("Uploaded %v to %v (%v).", localPath, remotePath, utils.HumanReadableSize(written))
	return written, nil
}

func (s *sftpSession) RunCommand(ctx context.Context, cmd string, timeout time.Duration) (*CommandOutput, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, trace.NotFound("session is not connected")
	}
	if timeout == 0 {
		timeout = defaults.CommandTimeout
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, trace.ConnectionProblem(err, "could not open exec channel")
	}
	defer session.Close()

	var stdout, stderr boundedBuffer
	stdout.limit = defaults.CommandOutputLimit
	stderr.limit = defaults.CommandOutputLimit
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(cmd); err != nil {
		return nil, trace.ConnectionProblem(err, "could not start command")
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, &CommandTimeoutError{Command: cmd, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	case <-ctx.Done():
		session.Close()
		return nil, trace.Wrap(ctx.Err())
	}

	out := &CommandOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			return out, nil
		}
		return nil, trace.ConnectionProblem(err, "remote command did not report a status")
	}
	return out, nil
}

func (s *sftpSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.sftpClient != nil {
		errs = append(errs, s.sftpClient.Close())
		s.sftpClient = nil
	}
	if s.client != nil {
		errs = append(errs, s.client.Close())
		s.client = nil
	}
	if s.agentConn != nil {
		errs = append(errs, s.agentConn.Close())
		s.agentConn = nil
	}
	return trace.NewAggregate(errs...)
}

// JoinRemote appends the file name to the destination directory, keeping a
// single separator.
func JoinRemote(remoteDir, fileName string) string {
	if strings.HasSuffix(remoteDir, "/") {
		return remoteDir + fileName
	}
	return remoteDir + "/" + fileName
}

// EnsurePort appends the default SSH port to a hostport that carries none.
func EnsurePort(hostport string) string {
	return utils.EnsurePort(hostport, defaults.SSHPort)
}

func isExistError(err error) bool {
	return err != nil && (errors.Is(err, os.ErrExist) || strings.Contains(err.Error(), "file exists"))
}

// cancelWriter fails the copy as soon as the context is done so a pool
// shutdown stops an in-flight upload at the next write.
type cancelWriter struct {
	ctx context.Context
}

func (c *cancelWriter) Write(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return len(b), nil
}

// progressWriter feeds the cumulative byte count to a callback.
type progressWriter struct {
	fn      func(int64)
	written int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.fn != nil {
		p.fn(p.written)
	}
	return len(b), nil
}

// boundedBuffer keeps at most limit bytes and silently drops the rest.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte { return b.buf.Bytes() }
