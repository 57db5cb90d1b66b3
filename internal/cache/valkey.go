package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/probestack/medic/internal/utils"
)

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible
// server. Connections are per-call; the engine's cache traffic is a handful
// of small keys per diagnosis cycle, so pooling buys nothing here.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          bool
}

// NewValkeyProvider creates a Provider and pings the target to fail fast when
// connectivity or credentials are wrong.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.do(ctx, "ping", func(c *respConn) error {
		reply, err := c.roundTrip("PING")
		if err != nil {
			return err
		}
		if string(reply) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, "get", func(c *respConn) error {
		reply, err := c.roundTrip("GET", key)
		if err != nil {
			return err
		}
		if reply == nil {
			return ErrCacheMiss
		}
		payload = reply
		return nil
	})
	return payload, err
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, "set", func(c *respConn) error {
		args := []string{"SET", key, string(value)}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		reply, err := c.roundTrip(args...)
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(reply), "OK") {
			return fmt.Errorf("unexpected SET response: %s", reply)
		}
		return nil
	})
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, "del", func(c *respConn) error {
		_, err := c.roundTrip("DEL", key)
		return err
	})
}

// Close is a no-op for the per-call connection model.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) do(ctx context.Context, op string, fn func(*respConn) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	conn, err := p.dial(ctx)
	if err != nil {
		return utils.NewAppError("cache."+op, "dial valkey", err)
	}
	defer conn.close()

	if err := conn.authenticate(p.cfg); err != nil {
		return utils.NewAppError("cache."+op, "authenticate", err)
	}
	if err := fn(conn); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		return utils.NewAppError("cache."+op, "valkey request failed", err)
	}
	return nil
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		raw net.Conn
		err error
	)
	if p.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(p.cfg.Addr)
		if splitErr != nil {
			host = p.cfg.Addr
		}
		raw, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         raw,
		reader:       bufio.NewReader(raw),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

// respConn speaks the subset of RESP the provider needs: simple strings,
// bulk strings, integers, nils and errors.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() { _ = c.conn.Close() }

func (c *respConn) authenticate(cfg ValkeyConfig) error {
	if cfg.Password != "" {
		args := []string{"AUTH"}
		if cfg.Username != "" {
			args = append(args, cfg.Username)
		}
		args = append(args, cfg.Password)
		reply, err := c.roundTrip(args...)
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(reply), "OK") {
			return fmt.Errorf("auth failed: %s", reply)
		}
	}
	if cfg.DB > 0 {
		reply, err := c.roundTrip("SELECT", strconv.Itoa(cfg.DB))
		if err != nil {
			return err
		}
		if !strings.EqualFold(string(reply), "OK") {
			return fmt.Errorf("select failed: %s", reply)
		}
	}
	return nil
}

// roundTrip writes one command and reads one reply. A nil reply with nil
// error means the RESP nil value.
func (c *respConn) roundTrip(args ...string) ([]byte, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(arg), arg)
	}
	if _, err := io.WriteString(c.conn, sb.String()); err != nil {
		return nil, err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, err
	}
	return c.readReply()
}

func (c *respConn) readReply() ([]byte, error) {
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	switch prefix {
	case '+', ':':
		return line, nil
	case '-':
		return nil, errors.New(string(line))
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return nil, err
		}
		if size < 0 {
			return nil, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return nil, err
		}
		return buf[:size], nil
	default:
		return nil, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
