package show

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

type PatternKind string

const (
	Literal PatternKind = "literal"
	Regex   PatternKind = "regex"
)

var ErrEmptyPattern = errors.New("show pattern is empty")

// Pattern is how a policy recognizes its releases. A Literal matches as a
// case-insensitive substring, a Regex is compiled case-insensitively.
type Pattern struct {
	Kind PatternKind `json:"kind"`
	Expr string      `json:"expr"`

	re *regexp.Regexp
}

// NewLiteral returns a pattern matching name literally.
func NewLiteral(name string) (Pattern, error) {
	if strings.TrimSpace(name) == "" {
		return Pattern{}, ErrEmptyPattern
	}
	return Pattern{Kind: Literal, Expr: name}, nil
}

// NewRegex compiles expr into a case-insensitive pattern.
func NewRegex(expr string) (Pattern, error) {
	if strings.TrimSpace(expr) == "" {
		return Pattern{}, ErrEmptyPattern
	}

	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid show pattern %q: %w", expr, err)
	}

	return Pattern{Kind: Regex, Expr: expr, re: re}, nil
}

// Matches reports whether filename belongs to this pattern.
func (p Pattern) Matches(filename string) bool {
	switch p.Kind {
	case Regex:
		if p.re == nil {
			return false
		}
		return p.re.MatchString(filename)
	case Literal:
		fold := cases.Fold()
		return strings.Contains(fold.String(filename), fold.String(p.Expr))
	default:
		return false
	}
}

func (p Pattern) String() string {
	return fmt.Sprintf("%s(%s)", p.Kind, p.Expr)
}

// Policy is a configured show: which releases belong to it, the first episode
// worth fetching and whether finished files go into a per-show directory.
type Policy struct {
	DisplayName  string  `json:"name"`
	Pattern      Pattern `json:"pattern"`
	StartEpisode int     `json:"start"`
	AutoArchive  *bool   `json:"autoArchive,omitempty"`
}

// Archives resolves the per-show override against the global default.
func (p Policy) Archives(defaultAutoArchive bool) bool {
	if p.AutoArchive != nil {
		return *p.AutoArchive
	}
	return defaultAutoArchive
}

// TargetDir is where a finished release for this policy is moved to.
func (p Policy) TargetDir(completeDir string, defaultAutoArchive bool) string {
	if p.Archives(defaultAutoArchive) && p.DisplayName != "" {
		return filepath.Join(completeDir, p.DisplayName)
	}
	return completeDir
}

// Match returns the first policy, in declaration order, whose pattern matches
// filename.
func Match(filename string, policies []Policy) (*Policy, bool) {
	for i := range policies {
		if policies[i].Pattern.Matches(filename) {
			return &policies[i], true
		}
	}

	return nil, false
}

// TargetDir resolves the archive directory for a filename that may not have a
// policy anymore.
func TargetDir(p *Policy, completeDir string, defaultAutoArchive bool) string {
	if p == nil {
		return completeDir
	}
	return p.TargetDir(completeDir, defaultAutoArchive)
}
