package storage

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"findash/internal/config"
	"findash/internal/logger"
)

// startEchoServer accepts TCP connections and echoes everything back.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen echo: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// startSSHServer runs a minimal SSH server that only supports direct-tcpip forwarding.
func startSSHServer(t *testing.T, user, password string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, io.EOF
		},
	}
	srvCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen ssh: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nConn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(nConn, srvCfg)
		}
	}()
	return ln.Addr().String()
}

func serveSSHConn(nConn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nConn, cfg)
	if err != nil {
		nConn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var payload struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(payload.Host, strconv.Itoa(int(payload.Port))))
		if err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			_, _ = io.Copy(ch, target)
			ch.Close()
		}()
		go func() {
			_, _ = io.Copy(target, ch)
			target.Close()
		}()
	}
}

func TestTunnelForwardsThroughSSH(t *testing.T) {
	echoAddr := startEchoServer(t)
	sshAddr := startSSHServer(t, "ops", "s3cret")

	tunnel, err := OpenTunnel(context.Background(), config.SSHConfig{Host: sshAddr, User: "ops", Password: "s3cret"}, echoAddr, logger.Nop())
	if err != nil {
		t.Fatalf("open tunnel: %v", err)
	}
	defer tunnel.Close()

	conn, err := net.DialTimeout("tcp", tunnel.LocalAddr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial tunnel: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("expected echo, got %q", buf)
	}
}

func TestTunnelRejectsBadPassword(t *testing.T) {
	sshAddr := startSSHServer(t, "ops", "s3cret")
	_, err := OpenTunnel(context.Background(), config.SSHConfig{Host: sshAddr, User: "ops", Password: "wrong"}, "127.0.0.1:1", logger.Nop())
	if err == nil {
		t.Fatalf("expected auth failure")
	}
}

func TestTunnelHandshakeHonoursContext(t *testing.T) {
	// A TCP server that never speaks SSH stalls the handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		ln.Close()
	})
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		<-release
		c.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = OpenTunnel(ctx, config.SSHConfig{Host: ln.Addr().String(), User: "ops", Password: "s3cret"}, "127.0.0.1:1", logger.Nop())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("handshake was not aborted, took %s", elapsed)
	}
}

func TestSSHAddressDefaultsPort(t *testing.T) {
	if got := sshAddress(config.SSHConfig{Host: "bastion"}); got != "bastion:22" {
		t.Fatalf("unexpected address %s", got)
	}
	if got := sshAddress(config.SSHConfig{Host: "bastion", Port: 2222}); got != "bastion:2222" {
		t.Fatalf("unexpected address %s", got)
	}
	if got := sshAddress(config.SSHConfig{Host: "bastion:2200", Port: 2222}); got != "bastion:2200" {
		t.Fatalf("unexpected address %s", got)
	}
}
