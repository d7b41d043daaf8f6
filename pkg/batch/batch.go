package batch

import (
	"slices"
	"strconv"
	"strings"
)

const commandPrefix = "xdcc batch "

// Item is one selected pack: the source that offers it and its pack index.
type Item struct {
	Source string
	Index  int
}

// Request is a single batch request for one source.
type Request struct {
	Source  string `json:"source"`
	Token   string `json:"token"`
	Indices []int  `json:"indices"`
}

// Message is the text sent to the source to request the batch.
func (r Request) Message() string {
	return commandPrefix + r.Token
}

// Compress renders indices as comma separated runs, e.g. [1,2,3,5,7,8,9]
// becomes "1-3,5,7-9". Input order and duplicates do not matter. An empty
// input gives an empty string.
func Compress(indices []int) string {
	sorted := normalize(indices)
	if len(sorted) == 0 {
		return ""
	}

	var b strings.Builder
	start := sorted[0]
	prev := sorted[0]

	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(start))
		if prev != start {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(prev))
		}
	}

	for _, n := range sorted[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush()
		start, prev = n, n
	}
	flush()

	return b.String()
}

// Group builds one request per source, in the order sources first appear in
// items. Sources without indices produce no request.
func Group(items []Item) []Request {
	order := make([]string, 0)
	bySource := make(map[string][]int)

	for _, it := range items {
		if _, ok := bySource[it.Source]; !ok {
			order = append(order, it.Source)
		}
		bySource[it.Source] = append(bySource[it.Source], it.Index)
	}

	requests := make([]Request, 0, len(order))
	for _, source := range order {
		indices := normalize(bySource[source])
		if len(indices) == 0 {
			continue
		}
		requests = append(requests, Request{
			Source:  source,
			Token:   Compress(indices),
			Indices: indices,
		})
	}

	return requests
}

func normalize(indices []int) []int {
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
