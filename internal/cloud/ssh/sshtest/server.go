// Package sshtest runs an in-process SSH server for exercising bootstrap code.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Exec is one command received by the server
type Exec struct {
	User    string
	Command string
	Stdin   string
}

// Handler produces the output and exit status for a command
type Handler func(e Exec) (output string, exitStatus int)

// Server accepts password or public key logins for a single user
type Server struct {
	Host    string
	Port    int
	HostKey ssh.PublicKey

	listener net.Listener
	config   *ssh.ServerConfig
	handler  Handler

	mu    sync.Mutex
	execs []Exec
}

// Options configure accepted credentials
type Options struct {
	User          string
	Password      string
	AuthorizedKey ssh.PublicKey
}

// NewServer starts a server on a loopback port; it stops when the test ends
func NewServer(t testing.TB, opts Options, handler Handler) *Server {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("failed to create host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if opts.Password != "" && c.User() == opts.User && string(pass) == opts.Password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if opts.AuthorizedKey != nil && c.User() == opts.User &&
				string(key.Marshal()) == string(opts.AuthorizedKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	host, port, _ := net.SplitHostPort(listener.Addr().String())
	portNum, _ := strconv.Atoi(port)

	s := &Server{
		Host:     host,
		Port:     portNum,
		HostKey:  signer.PublicKey(),
		listener: listener,
		config:   config,
		handler:  handler,
	}
	go s.serve()
	t.Cleanup(func() { listener.Close() })

	return s
}

// Execs returns every command received so far
func (s *Server) Execs() []Exec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exec(nil), s.execs...)
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(sconn.User(), ch, requests)
	}
}

func (s *Server) handleSession(user string, ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		stdin, _ := io.ReadAll(ch)
		e := Exec{User: user, Command: payload.Command, Stdin: string(stdin)}

		s.mu.Lock()
		s.execs = append(s.execs, e)
		s.mu.Unlock()

		output, status := "", 0
		if s.handler != nil {
			output, status = s.handler(e)
		}
		_, _ = ch.Write([]byte(output))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}
