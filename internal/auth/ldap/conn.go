package ldap

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
)

// Conn is the subset of a directory connection the authenticator uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *goldap.SearchRequest) (*goldap.SearchResult, error)
	Close()
}

// Dialer opens directory connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// urlDialer dials a ldap:// or ldaps:// URL with go-ldap.
type urlDialer struct {
	url       string
	timeout   time.Duration
	startTLS  bool
	tlsConfig *tls.Config
}

func (d *urlDialer) Dial(ctx context.Context) (Conn, error) {
	nd := &net.Dialer{Timeout: d.timeout}
	if deadline, ok := ctx.Deadline(); ok {
		nd.Deadline = deadline
	}

	opts := []goldap.DialOpt{goldap.DialWithDialer(nd)}
	if d.tlsConfig != nil {
		opts = append(opts, goldap.DialWithTLSConfig(d.tlsConfig))
	}

	c, err := goldap.DialURL(d.url, opts...)
	if err != nil {
		return nil, err
	}
	if d.timeout > 0 {
		c.SetTimeout(d.timeout)
	}

	if d.startTLS {
		if err := c.StartTLS(d.tlsConfig); err != nil {
			c.Close()
			return nil, err
		}
	}
	return &conn{c: c}, nil
}

type conn struct {
	c *goldap.Conn
}

func (c *conn) Bind(username, password string) error {
	return c.c.Bind(username, password)
}

func (c *conn) Search(req *goldap.SearchRequest) (*goldap.SearchResult, error) {
	return c.c.Search(req)
}

func (c *conn) Close() {
	c.c.Close()
}
