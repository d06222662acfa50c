// Package ftpclient is a narrow FTP-backed object transport. Every
// operation dials a fresh connection and tears it down before
// returning, so callers never share transport state.
package ftpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// Client holds connection settings for the remote FTP server.
type Client struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

func (c *Client) addr() string {
	port := c.Port
	if port == 0 {
		port = 21
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// connect dials and authenticates. The returned conn must be closed
// with quit.
func (c *Client) connect(ctx context.Context) (*ftp.ServerConn, error) {
	if c.Host == "" {
		return nil, errors.New("ftp host is required")
	}
	conn, err := ftp.Dial(c.addr(), ftp.DialWithContext(ctx), ftp.DialWithTimeout(c.timeout()))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", c.addr(), err)
	}
	if err := conn.Login(c.User, c.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return conn, nil
}

func quit(conn *ftp.ServerConn) { _ = conn.Quit() }

// EnsureFolder creates the folder and any missing parents. It is
// idempotent: an already existing folder is success.
func (c *Client) EnsureFolder(ctx context.Context, path string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer quit(conn)

	if conn.ChangeDir(path) == nil {
		return nil
	}
	// mkdir -p: create each prefix, ignoring "already exists" replies,
	// then confirm the full path is enterable.
	prefix := ""
	if strings.HasPrefix(path, "/") {
		prefix = "/"
	}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		if prefix == "" || prefix == "/" {
			prefix += seg
		} else {
			prefix += "/" + seg
		}
		_ = conn.MakeDir(prefix)
	}
	if err := conn.ChangeDir(path); err != nil {
		return fmt.Errorf("ftp mkdir %s: %w", path, err)
	}
	return nil
}

// RemoveFolder deletes a folder. The server rejects non-empty folders;
// that error is surfaced to the caller.
func (c *Client) RemoveFolder(ctx context.Context, path string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer quit(conn)

	if err := conn.RemoveDir(path); err != nil {
		return fmt.Errorf("ftp rmdir %s: %w", path, err)
	}
	return nil
}

// Put stores the reader's bytes at remotePath.
func (c *Client) Put(ctx context.Context, remotePath string, r io.Reader) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer quit(conn)

	if err := conn.Stor(remotePath, r); err != nil {
		return fmt.Errorf("ftp stor %s: %w", remotePath, err)
	}
	return nil
}

// Get copies the remote object's bytes into w.
func (c *Client) Get(ctx context.Context, remotePath string, w io.Writer) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer quit(conn)

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", remotePath, err)
	}
	_, copyErr := io.Copy(w, resp)
	closeErr := resp.Close()
	if copyErr != nil {
		return fmt.Errorf("ftp retr %s: %w", remotePath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("ftp retr %s: %w", remotePath, closeErr)
	}
	return nil
}

// RemoveFile deletes the remote object at remotePath.
func (c *Client) RemoveFile(ctx context.Context, remotePath string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer quit(conn)

	if err := conn.Delete(remotePath); err != nil {
		return fmt.Errorf("ftp dele %s: %w", remotePath, err)
	}
	return nil
}
