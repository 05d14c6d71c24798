// Package matcher extracts structured events from ARK server log lines.
//
// Matchers are pure: they look at one line and never hold state. The tailer
// owns the "startup observed" flag and passes it to Chain.Evaluate.
package matcher

import (
	"regexp"
	"strconv"
	"strings"
)

// StartupPhrase marks the log line written once the server advertises itself for joining.
const StartupPhrase = "Server has completed startup and is now advertising for join."

// Kind identifies which rule produced a Result.
type Kind int

const (
	KindNone Kind = iota
	KindMilestone
	KindMemory
	KindPlayer
)

func (k Kind) String() string {
	switch k {
	case KindMilestone:
		return "milestone"
	case KindMemory:
		return "memory"
	case KindPlayer:
		return "player"
	default:
		return "none"
	}
}

// Action is a player activity verb.
type Action string

const (
	Joined Action = "joined"
	Left   Action = "left"
)

// Result is what a matcher extracted from a line.
type Result struct {
	Kind Kind

	// MemoryMB is set for KindMemory, and for KindMilestone when the startup
	// line carried a memory annotation.
	MemoryMB  float64
	HasMemory bool

	PlayerName string
	PlayerID   string
	Action     Action
}

// Matcher tries to extract a Result from a single line.
type Matcher interface {
	Name() string
	Match(line string) (Result, bool)
}

var (
	startupMemoryRe = regexp.MustCompile(`\((\d+\.?\d*)\s*GB\s+Mem\)`)
	logMemoryRe     = regexp.MustCompile(`LogMemory:.*?Current/Peak\s*([\d.]+)\s*MB`)
	playerRe        = regexp.MustCompile(`\d{4}\.\d{2}\.\d{2}_\d{2}\.\d{2}\.\d{2}:\s(?P<name>.*?)\s+\[UniqueNetId:(?P<id>[a-fA-F0-9]+)[^\]]*\]\s+(?P<action>joined|left)\s+this\s+ARK!`)
)

// Milestone matches the startup line and its optional "(X GB Mem)" annotation.
type Milestone struct{}

func (Milestone) Name() string { return "milestone" }

func (Milestone) Match(line string) (Result, bool) {
	if !strings.Contains(line, StartupPhrase) {
		return Result{}, false
	}
	res := Result{Kind: KindMilestone}
	if m := startupMemoryRe.FindStringSubmatch(line); m != nil {
		if gb, err := strconv.ParseFloat(m[1], 64); err == nil {
			res.MemoryMB = gb * 1024
			res.HasMemory = true
		}
	}
	return res, true
}

// LogMemory matches periodic "LogMemory: ... Current/Peak N MB" reports.
type LogMemory struct{}

func (LogMemory) Name() string { return "log-memory" }

func (LogMemory) Match(line string) (Result, bool) {
	m := logMemoryRe.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	mb, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Result{}, false
	}
	return Result{Kind: KindMemory, MemoryMB: mb, HasMemory: true}, true
}

// PlayerActivity matches "<ts>: Name [UniqueNetId:hex ...] joined|left this ARK!".
type PlayerActivity struct{}

func (PlayerActivity) Name() string { return "player-activity" }

func (PlayerActivity) Match(line string) (Result, bool) {
	m := playerRe.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	res := Result{Kind: KindPlayer}
	for i, name := range playerRe.SubexpNames() {
		switch name {
		case "name":
			res.PlayerName = m[i]
		case "id":
			res.PlayerID = m[i]
		case "action":
			res.Action = Action(m[i])
		}
	}
	return res, true
}

// Chain evaluates matchers in priority order; the first match wins.
type Chain struct {
	matchers []Matcher
}

// NewChain builds a chain over the given matchers, evaluated in order.
func NewChain(ms ...Matcher) *Chain {
	return &Chain{matchers: append([]Matcher(nil), ms...)}
}

// Default returns the ARK chain: milestone, log memory, player activity.
func Default() *Chain {
	return NewChain(Milestone{}, LogMemory{}, PlayerActivity{})
}

// Evaluate runs the chain against line. Milestone results are suppressed when
// startupSeen is true so that a stream reports startup once; evaluation then
// falls through to the next matcher.
func (c *Chain) Evaluate(line string, startupSeen bool) (Result, bool) {
	for _, m := range c.matchers {
		res, ok := m.Match(line)
		if !ok {
			continue
		}
		if res.Kind == KindMilestone && startupSeen {
			continue
		}
		return res, true
	}
	return Result{}, false
}
