// Package nut implements a client for the Network UPS Tools (NUT)
// line-oriented TCP protocol and the mapping of raw NUT variables into
// typed snapshots.
package nut

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrConnectionFailed = errors.New("nut: connection failed")
	ErrTimeout          = errors.New("nut: timeout")
	ErrAuthFailed       = errors.New("nut: authentication failed")
	ErrUpsNotFound      = errors.New("nut: unknown ups")
	ErrChannelClosed    = errors.New("nut: connection closed")
	ErrInvalidResponse  = errors.New("nut: invalid response")
)

const (
	connectTimeout = 10 * time.Second
	readTimeout    = 30 * time.Second
)

// Client speaks the NUT protocol to one upsd instance. All methods are
// safe for concurrent use; the connection is serialized under a mutex.
type Client struct {
	host     string
	port     int
	username string
	password string
	logger   *zap.Logger

	mu         sync.Mutex
	conn       net.Conn
	reader     *bufio.Reader
	connecting bool
}

func NewClient(host string, port int, username, password string, logger *zap.Logger) *Client {
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Connect dials upsd and authenticates when credentials are configured.
// An already-open connection is reused. A Connect racing another
// in-flight Connect fails fast instead of queueing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrConnectionFailed)
	}
	c.connecting = true
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.host, strconv.Itoa(c.port)))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	if err := c.authenticateLocked(); err != nil {
		c.closeLocked()
		return err
	}
	return nil
}

// authenticateLocked runs the optional USERNAME/PASSWORD exchange.
// Caller holds c.mu with an open connection.
func (c *Client) authenticateLocked() error {
	if c.username != "" {
		if err := c.commandLocked(fmt.Sprintf("USERNAME %s", c.username)); err != nil {
			return err
		}
	}
	if c.password != "" {
		if err := c.commandLocked(fmt.Sprintf("PASSWORD %s", c.password)); err != nil {
			return err
		}
	}
	return nil
}

// commandLocked sends one line and requires an OK response.
func (c *Client) commandLocked(cmd string) error {
	if err := c.writeLineLocked(cmd); err != nil {
		return err
	}
	line, err := c.readLineLocked()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		return fmt.Errorf("%w: %q", ErrAuthFailed, line)
	}
	return nil
}

// FetchVariables issues LIST VAR and collects every variable upsd
// reports for upsName. The whole exchange is bounded by a 30 s read
// deadline.
func (c *Client) FetchVariables(ctx context.Context, upsName string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrChannelClosed
	}
	deadline := time.Now().Add(readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	if err := c.writeLineLocked(fmt.Sprintf("LIST VAR %s", upsName)); err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	for {
		line, err := c.readLineLocked()
		if err != nil {
			return nil, err
		}
		switch {
		case strings.HasPrefix(line, "END LIST VAR"):
			return vars, nil
		case line == "ERR UNKNOWN-UPS":
			return nil, ErrUpsNotFound
		case strings.HasPrefix(line, "ERR"):
			return nil, fmt.Errorf("%w: %q", ErrInvalidResponse, line)
		case strings.HasPrefix(line, "VAR "):
			name, key, value, ok := parseVarLine(line)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidResponse, line)
			}
			// upsd can interleave lines for other devices; skip them.
			if name != upsName {
				continue
			}
			vars[key] = value
		case strings.HasPrefix(line, "BEGIN LIST VAR"):
			// header line, nothing to record
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidResponse, line)
		}
	}
}

// parseVarLine splits `VAR <ups> <key> "<value>"`.
func parseVarLine(line string) (ups, key, value string, ok bool) {
	parts := strings.SplitN(line, " ", 4)
	if len(parts) != 4 {
		return "", "", "", false
	}
	value = strings.TrimSuffix(strings.TrimPrefix(parts[3], `"`), `"`)
	return parts[1], parts[2], value, true
}

// Disconnect closes the connection. Safe to call at any time, in any
// state, repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

func (c *Client) writeLineLocked(line string) error {
	if c.conn == nil {
		return ErrChannelClosed
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return c.ioErrorLocked(err)
	}
	return nil
}

func (c *Client) readLineLocked() (string, error) {
	if c.reader == nil {
		return "", ErrChannelClosed
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", c.ioErrorLocked(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ioErrorLocked tears the connection down and classifies the failure.
// A half-dead NUT connection is useless: the protocol has no resync.
func (c *Client) ioErrorLocked(err error) error {
	c.closeLocked()
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrChannelClosed, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
