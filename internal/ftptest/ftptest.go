// Package ftptest runs a loopback FTP server over an in-memory
// filesystem so transport and coordinator tests can exercise real FTP
// round trips without external infrastructure.
package ftptest

import (
	"crypto/tls"
	"errors"
	"net"
	"testing"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"
)

const (
	User     = "s4test"
	Password = "s4test"
)

// Server is a running loopback FTP server.
type Server struct {
	Addr string
	Host string
	Port int
	FS   afero.Fs

	srv *ftpserver.FtpServer
}

// Start listens on an ephemeral localhost port and serves an in-memory
// filesystem until the test ends.
func Start(t *testing.T) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ftptest listen: %v", err)
	}

	s := &Server{
		Addr: ln.Addr().String(),
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		FS:   afero.NewMemMapFs(),
	}
	s.srv = ftpserver.NewFtpServer(&driver{fs: s.FS, listener: ln})

	go func() { _ = s.srv.ListenAndServe() }()
	t.Cleanup(func() { _ = s.srv.Stop() })
	return s
}

// driver wires ftpserverlib callbacks to the shared in-memory fs.
type driver struct {
	fs       afero.Fs
	listener net.Listener
}

func (d *driver) GetSettings() (*ftpserver.Settings, error) {
	return &ftpserver.Settings{
		Listener:          d.listener,
		IdleTimeout:       60,
		ConnectionTimeout: 10,
		DisableActiveMode: true,
	}, nil
}

func (d *driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	_ = cc
	return "s4 test server ready", nil
}

func (d *driver) ClientDisconnected(cc ftpserver.ClientContext) {
	_ = cc
}

func (d *driver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	_ = cc
	if user != User || pass != Password {
		return nil, errors.New("invalid credentials")
	}
	return d.fs, nil
}

func (d *driver) GetTLSConfig() (*tls.Config, error) {
	return nil, errors.New("tls not configured")
}

var _ ftpserver.MainDriver = (*driver)(nil)
