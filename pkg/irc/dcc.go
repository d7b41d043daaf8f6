package irc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kasuboski/amnis/pkg/logger"
	"github.com/kasuboski/amnis/pkg/transport"
)

var ErrPassiveDCC = errors.New("passive dcc is not supported")

type dccRequest struct {
	kind     string
	filename string
	host     string
	port     int
	// size for SEND, position for ACCEPT
	size     *int64
	position int64
}

func (r dccRequest) offer(from string) transport.Offer {
	return transport.Offer{
		From:     from,
		Filename: r.filename,
		Length:   r.size,
		Host:     r.host,
		Port:     r.port,
	}
}

// parseDCC reads the body of a DCC CTCP:
//
//	DCC SEND <filename> <ip> <port> [<size>]
//	DCC ACCEPT <filename> <port> <position>
//
// Filenames with spaces arrive quoted.
func parseDCC(text string) (dccRequest, error) {
	args := splitArgs(text)
	if len(args) < 2 || !strings.EqualFold(args[0], "DCC") {
		return dccRequest{}, fmt.Errorf("not a dcc request")
	}

	req := dccRequest{kind: strings.ToUpper(args[1])}
	args = args[2:]

	switch req.kind {
	case "SEND":
		if len(args) < 3 {
			return dccRequest{}, fmt.Errorf("dcc send needs filename, address and port")
		}
		if !transport.ValidFilename(args[0]) {
			return dccRequest{}, fmt.Errorf("unsafe dcc filename %q", args[0])
		}
		req.filename = args[0]

		host, err := parseAddress(args[1])
		if err != nil {
			return dccRequest{}, err
		}
		req.host = host

		port, err := strconv.Atoi(args[2])
		if err != nil || port < 0 || port > 65535 {
			return dccRequest{}, fmt.Errorf("invalid dcc port %q", args[2])
		}
		if port == 0 {
			return dccRequest{}, ErrPassiveDCC
		}
		req.port = port

		if len(args) > 3 {
			if size, err := strconv.ParseInt(args[3], 10, 64); err == nil && size >= 0 {
				req.size = &size
			}
		}
	case "ACCEPT":
		if len(args) < 3 {
			return dccRequest{}, fmt.Errorf("dcc accept needs filename, port and position")
		}
		req.filename = args[0]

		port, err := strconv.Atoi(args[1])
		if err != nil {
			return dccRequest{}, fmt.Errorf("invalid dcc port %q", args[1])
		}
		req.port = port

		position, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return dccRequest{}, fmt.Errorf("invalid dcc position %q", args[2])
		}
		req.position = position
	default:
		return dccRequest{}, fmt.Errorf("unsupported dcc request %s", req.kind)
	}

	if req.filename == "" {
		return dccRequest{}, fmt.Errorf("dcc request without filename")
	}

	return req, nil
}

// splitArgs splits on spaces, keeping double quoted runs together.
func splitArgs(text string) []string {
	var args []string
	var b strings.Builder
	quoted := false
	started := false

	for _, r := range text {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case r == ' ' && !quoted:
			if started {
				args = append(args, b.String())
				b.Reset()
				started = false
			}
		default:
			b.WriteRune(r)
			started = true
		}
	}
	if started {
		args = append(args, b.String())
	}

	return args
}

// parseAddress accepts the classic unsigned 32-bit IPv4 form as well as a
// literal address.
func parseAddress(s string) (string, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, uint32(n))
		return ip.String(), nil
	}

	if ip := net.ParseIP(s); ip != nil {
		return ip.String(), nil
	}

	return "", fmt.Errorf("invalid dcc address %q", s)
}

func quoteFilename(name string) string {
	if strings.ContainsAny(name, " ") {
		return `"` + name + `"`
	}
	return name
}

func (c *Client) AcceptFresh(ctx context.Context, offer transport.Offer) (io.ReadCloser, error) {
	return c.connect(ctx, offer, 0)
}

// AcceptResume asks the peer to continue from offset and connects once it
// agrees. The peer has acceptTimeout to answer.
func (c *Client) AcceptResume(ctx context.Context, offer transport.Offer, offset int64) (io.ReadCloser, error) {
	key := resumeKey(offer.From, offer.Port)
	pending := make(chan int64, 1)
	if _, stored := c.resumes.Add(key, pending); !stored {
		return nil, fmt.Errorf("resume already pending for %s", key)
	}
	defer c.resumes.DeleteFunc(key, func(ch chan int64) bool { return ch == pending })

	request := fmt.Sprintf("DCC RESUME %s %d %d", quoteFilename(offer.Filename), offer.Port, offset)
	if err := c.ctcp(offer.From, request); err != nil {
		return nil, fmt.Errorf("failed to request resume: %w", err)
	}

	timer := time.NewTimer(c.acceptTimeout)
	defer timer.Stop()

	select {
	case position := <-pending:
		if position != offset {
			return nil, fmt.Errorf("peer resumed at %d instead of %d", position, offset)
		}
	case <-timer.C:
		return nil, fmt.Errorf("peer did not accept resume within %s", c.acceptTimeout)
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return c.connect(ctx, offer, offset)
}

func (c *Client) connect(ctx context.Context, offer transport.Offer, offset int64) (io.ReadCloser, error) {
	if offer.Port == 0 {
		return nil, ErrPassiveDCC
	}
	if c.closed() {
		return nil, ErrClosed
	}

	addr := net.JoinHostPort(offer.Host, strconv.Itoa(offer.Port))
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	s := &stream{conn: conn, position: uint64(offset)}
	s.onClose = func() { c.streams.Delete(s) }
	c.streams.Set(s, struct{}{})
	if c.closed() {
		s.Close()
		return nil, ErrClosed
	}

	logger.FromCtx(ctx).Debugw("dcc connected", "addr", addr, "offset", offset)
	return s, nil
}

// stream reads a DCC file transfer, acknowledging every read with the total
// file position as the protocol expects.
type stream struct {
	conn     net.Conn
	position uint64
	ack      [4]byte
	onClose  func()
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	if n > 0 {
		s.position += uint64(n)
		binary.BigEndian.PutUint32(s.ack[:], uint32(s.position))
		// senders often hang up right after the last byte
		_, _ = s.conn.Write(s.ack[:])
	}

	if err != nil && !errors.Is(err, io.EOF) && isReset(err) {
		return n, fmt.Errorf("%w: %w", transport.ErrPeerReset, err)
	}
	return n, err
}

func (s *stream) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	return s.conn.Close()
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
