package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrPeerReset marks a stream that ended because the sender closed the
// connection abruptly. Whether that means "done" or "resume" depends on how
// much of the file arrived.
var ErrPeerReset = errors.New("connection reset by peer")

// Transport is the chat side of the fetcher: it carries text to sources and
// hands over file offers.
type Transport interface {
	// Offers delivers inbound file offers. The channel closes with the transport.
	Offers() <-chan Offer
	// Notices delivers private notices addressed to us.
	Notices() <-chan Notice
	// AcceptFresh starts the transfer from byte zero.
	AcceptFresh(ctx context.Context, offer Offer) (io.ReadCloser, error)
	// AcceptResume asks the sender to continue from offset and starts the
	// transfer once it agrees.
	AcceptResume(ctx context.Context, offer Offer, offset int64) (io.ReadCloser, error)
	// Reject tells the peer its offer will not be taken.
	Reject(ctx context.Context, to, reason string) error
	Send(ctx context.Context, target, text string) error
	Close() error
}

// Offer is a peer's proposal to send one file.
type Offer struct {
	From     string `json:"from"`
	Filename string `json:"filename"`
	// Length is the size the peer declared. Nil when it declared none.
	Length *int64 `json:"length,omitempty"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

func (o Offer) String() string {
	if o.Length == nil {
		return fmt.Sprintf("%s from %s", o.Filename, o.From)
	}
	return fmt.Sprintf("%s from %s (%d bytes)", o.Filename, o.From, *o.Length)
}

// ValidFilename reports whether name is a plain file name that stays inside
// whatever directory it is joined to.
func ValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return name == filepath.Base(name)
}

// Notice is a private notice from another user.
type Notice struct {
	From string `json:"from"`
	Text string `json:"text"`
}
