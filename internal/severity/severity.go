// Package severity defines the ordered severity scale shared by rules,
// risk scoring, escalation policies and notification routing.
package severity

import (
	"fmt"
	"strings"
)

// Level is an alert severity.
type Level string

const (
	Critical Level = "CRITICAL"
	High     Level = "HIGH"
	Medium   Level = "MEDIUM"
	Warning  Level = "WARNING"
	Low      Level = "LOW"
	Info     Level = "INFO"
)

// All lists every level from most to least severe.
var All = []Level{Critical, High, Medium, Warning, Low, Info}

var ranks = map[Level]int{
	Critical: 6,
	High:     5,
	Medium:   4,
	Warning:  3,
	Low:      2,
	Info:     1,
}

// Rank returns the ordering weight of l; unknown levels rank 0.
func (l Level) Rank() int {
	return ranks[l]
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := ranks[l]
	return ok
}

// AtLeast reports whether l is as severe as other or more.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

func (l Level) String() string { return string(l) }

// Parse converts a case-insensitive name into a Level.
func Parse(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return l, nil
}

// Max returns the more severe of a and b.
func Max(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Bump returns the level one step more severe than l, capped at Critical.
func Bump(l Level) Level {
	for i := len(All) - 1; i > 0; i-- {
		if All[i] == l {
			return All[i-1]
		}
	}
	return l
}
