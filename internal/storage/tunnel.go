package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"findash/internal/config"
	"findash/internal/logger"
)

// Tunnel forwards connections accepted on a local port to a remote address through
// an SSH connection.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	remote   string
	log      *logger.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// OpenTunnel dials the SSH host and starts forwarding 127.0.0.1:<random> to remoteAddr.
// ctx bounds the dial and the SSH handshake only.
func OpenTunnel(ctx context.Context, cfg config.SSHConfig, remoteAddr string, log *logger.Logger) (*Tunnel, error) {
	tLog := log.With("service", "Tunnel", "ssh_host", cfg.Host)

	hostKeyCallback, err := hostKeyCallback(cfg, tLog)
	if err != nil {
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         15 * time.Second,
	}

	tLog.Info("Setting up SSH tunnel", "remote", remoteAddr)
	client, err := dialSSH(ctx, sshAddress(cfg), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial ssh %s: %w", cfg.Host, err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("listen local tunnel port: %w", err)
	}

	t := &Tunnel{client: client, listener: ln, remote: remoteAddr, log: tLog}
	t.wg.Add(1)
	go t.serve()
	tLog.Info("SSH tunnel established", "local", t.LocalAddr())
	return t, nil
}

func dialSSH(ctx context.Context, addr string, clientCfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: clientCfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if clientCfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(clientCfg.Timeout))
	}
	// Closing the connection is the only way to abort a handshake in progress.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func sshAddress(cfg config.SSHConfig) string {
	if _, _, err := net.SplitHostPort(cfg.Host); err == nil {
		return cfg.Host
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func hostKeyCallback(cfg config.SSHConfig, log *logger.Logger) (ssh.HostKeyCallback, error) {
	if cfg.KnownHosts == "" {
		log.Warn("SSH host key verification disabled, set SSH_KNOWN_HOSTS to enable it")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", cfg.KnownHosts, err)
	}
	return cb, nil
}

// LocalAddr is the 127.0.0.1:port address clients should connect to.
func (t *Tunnel) LocalAddr() string {
	return t.listener.Addr().String()
}

func (t *Tunnel) serve() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.log.Error("Tunnel accept failed", "error", err)
			}
			return
		}
		t.wg.Add(1)
		go t.forward(conn)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Error("Tunnel dial remote failed", "remote", t.remote, "error", err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// Close stops accepting connections and tears down the SSH client.
func (t *Tunnel) Close() error {
	if t == nil {
		return nil
	}
	t.closeOnce.Do(func() {
		lnErr := t.listener.Close()
		clientErr := t.client.Close()
		t.wg.Wait()
		if lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
			t.closeErr = lnErr
		} else if clientErr != nil && !errors.Is(clientErr, net.ErrClosed) {
			t.closeErr = clientErr
		}
		t.log.Info("SSH tunnel closed")
	})
	return t.closeErr
}
