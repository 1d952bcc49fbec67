package domain

import (
	"strconv"
	"strings"
)

// Level identifies one depth of the work-breakdown tree.
type Level int

// Level values, from the root level down to the leaf level.
const (
	LevelL1 Level = iota + 1
	LevelL2
	LevelL3
	LevelL4
)

// MinLevel and MaxLevel bound the supported tree depth.
const (
	MinLevel = LevelL1
	MaxLevel = LevelL4
)

// IsValid reports whether the level is within L1..L4.
func (l Level) IsValid() bool {
	return l >= MinLevel && l <= MaxLevel
}

// String renders the level as "L1".."L4".
func (l Level) String() string {
	return "L" + strconv.Itoa(int(l))
}

// Next returns the child level and false when l is already the leaf level.
func (l Level) Next() (Level, bool) {
	if !l.IsValid() || l == MaxLevel {
		return l, false
	}
	return l + 1, true
}

// Prev returns the parent level and false when l is already the root level.
func (l Level) Prev() (Level, bool) {
	if !l.IsValid() || l == MinLevel {
		return l, false
	}
	return l - 1, true
}

// ParseLevel accepts "L2", "l2", or "2".
func ParseLevel(raw string) (Level, error) {
	raw = strings.TrimSpace(strings.ToUpper(raw))
	raw = strings.TrimPrefix(raw, "L")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidLevel
	}
	level := Level(n)
	if !level.IsValid() {
		return 0, ErrInvalidLevel
	}
	return level, nil
}
