package catalog

import (
	"bufio"
	"context"
	"errors"
	"io"
	"regexp"
	"strconv"

	"github.com/kasuboski/amnis/pkg/metadata"
)

// ErrTransient wraps every failure to fetch or read a listing. A cycle that
// sees it is abandoned and retried on the next poll.
var ErrTransient = errors.New("catalog unavailable")

// Client queries a source's pack listing.
type Client interface {
	Query(ctx context.Context, term, source string) ([]Offer, error)
}

// Offer is one pack listed by a source. Offers are only identified across
// polls by Filename; Index is the pack number in the source's own list.
type Offer struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	// Size is the listing's rounded size, in bytes. Nil when not reported.
	Size   *int64 `json:"size,omitempty"`
	Source string `json:"source"`
	// Meta is what the filename says about the episode, valid when Parsed.
	Meta   metadata.Metadata `json:"meta"`
	Parsed bool              `json:"parsed"`
}

var packLine = regexp.MustCompile(`p\.k\[\d+\] = \{b:"(.+?)", n:(\d+), s:(\d+), f:"(.+?)"\};`)

const megabyte = 1 << 20

// ParseListing reads a search page and returns every pack line in order.
// Lines that are not pack entries are ignored.
func ParseListing(r io.Reader) ([]Offer, error) {
	var offers []Offer

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		offer, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		offers = append(offers, offer)
	}

	return offers, scanner.Err()
}

func parseLine(line string) (Offer, bool) {
	match := packLine.FindStringSubmatch(line)
	if match == nil {
		return Offer{}, false
	}

	index, err := strconv.Atoi(match[2])
	if err != nil {
		return Offer{}, false
	}

	offer := Offer{
		Index:    index,
		Filename: match[4],
		Source:   match[1],
	}

	if size, err := strconv.ParseInt(match[3], 10, 64); err == nil {
		bytes := size * megabyte
		offer.Size = &bytes
	}

	offer.Meta, offer.Parsed = metadata.Parse(offer.Filename)

	return offer, true
}
