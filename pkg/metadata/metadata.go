package metadata

import (
	"fmt"
	"regexp"
	"strconv"
)

// releasePattern matches names like "[Group] Show Title - 05 [720p].mkv".
const releasePattern = `^\[([^\]]+)\] (.+?) - (\d+) \[(1080|720|480)p\]\.mkv$`

var releaseRegex = regexp.MustCompile(releasePattern)

// Metadata is what a release filename tells us about the episode it carries.
type Metadata struct {
	Tag        string `json:"tag"`
	Show       string `json:"show"`
	Episode    int    `json:"episode"`
	Resolution int    `json:"resolution"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("show: %s, episode: %d, resolution: %dp", m.Show, m.Episode, m.Resolution)
}

// Parse extracts metadata from a release filename. The bool is false when the
// name does not follow the release convention; callers treat that as a filter
// rather than an error.
func Parse(filename string) (Metadata, bool) {
	match := releaseRegex.FindStringSubmatch(filename)
	if match == nil {
		return Metadata{}, false
	}

	// the ledger stores episodes as int32
	episode, err := strconv.ParseInt(match[3], 10, 32)
	if err != nil {
		return Metadata{}, false
	}

	resolution, err := strconv.Atoi(match[4])
	if err != nil {
		return Metadata{}, false
	}

	return Metadata{
		Tag:        match[1],
		Show:       match[2],
		Episode:    int(episode),
		Resolution: resolution,
	}, true
}
