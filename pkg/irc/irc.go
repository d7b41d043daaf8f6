package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/kasuboski/amnis/config"
	"github.com/kasuboski/amnis/pkg/cache"
	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	ctcpDelim      = "\x01"
	version        = "amnis"
	defaultTimeout = time.Second * 30
)

var ErrClosed = errors.New("irc connection closed")

// Client is a single server connection implementing transport.Transport.
type Client struct {
	conn          net.Conn
	nick          string
	acceptTimeout time.Duration
	dialer        *net.Dialer

	writeMu sync.Mutex

	offers     chan transport.Offer
	notices    chan transport.Notice
	registered chan struct{}
	// resumes holds the pending RESUME requests by peer and port.
	resumes *cache.Cache[string, chan int64]
	// streams holds the open DCC connections so Close can drop them.
	streams *cache.Cache[*stream, struct{}]

	done      chan struct{}
	closeOnce sync.Once
	regOnce   sync.Once
}

// Dial connects to the configured server, registers and waits for the
// server's welcome.
func Dial(ctx context.Context, cfg config.IRC, acceptTimeout time.Duration) (*Client, error) {
	addr := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))

	var conn net.Conn
	var err error
	if cfg.TLS {
		d := tls.Dialer{Config: &tls.Config{ServerName: cfg.Server}}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := New(ctx, conn, cfg.Nick, cfg.User, acceptTimeout)

	select {
	case <-c.registered:
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("connection to %s closed during registration", addr)
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// New registers over an established connection and starts reading from it.
func New(ctx context.Context, conn net.Conn, nick, user string, acceptTimeout time.Duration) *Client {
	if user == "" {
		user = nick
	}
	if acceptTimeout <= 0 {
		acceptTimeout = defaultTimeout
	}

	c := &Client{
		conn:          conn,
		nick:          nick,
		acceptTimeout: acceptTimeout,
		dialer:        &net.Dialer{Timeout: acceptTimeout},
		offers:        make(chan transport.Offer, 16),
		notices:       make(chan transport.Notice, 16),
		registered:    make(chan struct{}),
		resumes:       cache.New[string, chan int64](),
		streams:       cache.New[*stream, struct{}](),
		done:          make(chan struct{}),
	}

	go c.readLoop(ctx)

	if err := multierr.Combine(
		c.write("NICK", nick),
		c.write("USER", user, "0", "*", user),
	); err != nil {
		logger.FromCtx(ctx).Warnw("failed to register", zap.Error(err))
	}

	return c
}

func (c *Client) Offers() <-chan transport.Offer {
	return c.offers
}

func (c *Client) Notices() <-chan transport.Notice {
	return c.notices
}

// Registered is closed once the server has accepted our registration.
func (c *Client) Registered() <-chan struct{} {
	return c.registered
}

func (c *Client) Send(ctx context.Context, target, text string) error {
	return c.write("PRIVMSG", target, text)
}

func (c *Client) Reject(ctx context.Context, to, reason string) error {
	return c.write("NOTICE", to, reason)
}

// Close says goodbye and drops the connection along with any file transfers
// still running. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		quitErr := c.write("QUIT", "bye")
		close(c.done)
		err = multierr.Combine(quitErr, c.conn.Close())
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	c.closeStreams()
	return err
}

func (c *Client) closeStreams() {
	for _, s := range c.streams.Keys() {
		s.Close()
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) write(command string, params ...string) error {
	if c.closed() {
		return ErrClosed
	}

	msg := ircmsg.MakeMessage(nil, "", command, params...)
	line, err := msg.Line()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", command, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultTimeout)); err != nil {
		return err
	}
	_, err = c.conn.Write([]byte(line))
	return err
}

func (c *Client) ctcp(target, text string) error {
	return c.write("PRIVMSG", target, ctcpDelim+text+ctcpDelim)
}

func (c *Client) readLoop(ctx context.Context) {
	log := logger.FromCtx(ctx)
	defer close(c.offers)
	defer close(c.notices)

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		msg, err := ircmsg.ParseLine(line)
		if err != nil {
			log.Debugw("unparseable line", "line", line, zap.Error(err))
			continue
		}

		c.handle(ctx, msg)
	}

	if err := scanner.Err(); err != nil && !c.closed() {
		log.Warnw("irc connection lost", zap.Error(err))
	}

	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) handle(ctx context.Context, msg ircmsg.Message) {
	log := logger.FromCtx(ctx)

	switch strings.ToUpper(msg.Command) {
	case "PING":
		if err := c.write("PONG", msg.Params...); err != nil {
			log.Warnw("failed to answer ping", zap.Error(err))
		}
	case "001":
		if len(msg.Params) > 0 {
			c.nick = msg.Params[0]
		}
		c.regOnce.Do(func() { close(c.registered) })
		log.Infow("registered", "nick", c.nick)
	case "433":
		c.nick += "_"
		log.Infow("nick in use, retrying", "nick", c.nick)
		if err := c.write("NICK", c.nick); err != nil {
			log.Warnw("failed to change nick", zap.Error(err))
		}
	case "PRIVMSG":
		if len(msg.Params) < 2 {
			return
		}
		if text, ok := ctcpBody(msg.Params[1]); ok {
			c.handleCTCP(ctx, sourceNick(msg.Source), text)
		}
	case "NOTICE":
		if len(msg.Params) < 2 || !strings.EqualFold(msg.Params[0], c.nick) {
			return
		}
		from := sourceNick(msg.Source)
		if from == "" || strings.Contains(from, ".") {
			// server notices
			return
		}
		select {
		case c.notices <- transport.Notice{From: from, Text: msg.Params[1]}:
		default:
			log.Debugw("dropping notice", "from", from)
		}
	}
}

func (c *Client) handleCTCP(ctx context.Context, from, text string) {
	log := logger.FromCtx(ctx, "from", from)

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}

	switch strings.ToUpper(fields[0]) {
	case "VERSION":
		if err := c.write("NOTICE", from, ctcpDelim+"VERSION "+version+ctcpDelim); err != nil {
			log.Debugw("failed to answer version", zap.Error(err))
		}
	case "DCC":
		req, err := parseDCC(text)
		if err != nil {
			log.Debugw("ignoring dcc request", "text", text, zap.Error(err))
			return
		}

		switch req.kind {
		case "SEND":
			offer := req.offer(from)
			log.Debugw("received offer", "offer", offer.String())
			select {
			case c.offers <- offer:
			case <-c.done:
			}
		case "ACCEPT":
			if pending, ok := c.resumes.Get(resumeKey(from, req.port)); ok {
				select {
				case pending <- req.position:
				default:
				}
			}
		}
	}
}

func ctcpBody(text string) (string, bool) {
	if !strings.HasPrefix(text, ctcpDelim) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(text, ctcpDelim), ctcpDelim), true
}

func sourceNick(source string) string {
	nick, _, _ := strings.Cut(source, "!")
	return nick
}

func resumeKey(nick string, port int) string {
	return strings.ToLower(nick) + ":" + strconv.Itoa(port)
}
