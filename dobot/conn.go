package dobot

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Commander sends one text command and waits for its reply.
type Commander interface {
	Exec(ctx context.Context, cmd string) (Reply, error)
	Close() error
}

// textConn is a request/reply channel over one TCP socket. Requests are serialised.
type textConn struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	logger  logging.Logger
}

func newTextConn(conn net.Conn, timeout time.Duration, logger logging.Logger) *textConn {
	return &textConn{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
		logger:  logger,
	}
}

func (c *textConn) Exec(ctx context.Context, cmd string) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Reply{}, err
	}

	c.logger.Debugf("-> %s", cmd)
	if _, err := fmt.Fprint(c.conn, cmd); err != nil {
		return Reply{}, errors.Wrapf(err, "sending %s", cmd)
	}
	line, err := c.r.ReadString(';')
	if err != nil {
		return Reply{}, errors.Wrapf(err, "reading reply to %s", cmd)
	}
	line = strings.TrimSpace(line)
	c.logger.Debugf("<- %s", line)
	return ParseReply(line)
}

func (c *textConn) Close() error {
	return c.conn.Close()
}

func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrConnect, "%s: %v", addr, err)
	}
	return conn, nil
}
