package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errNoDueDate = errors.New("none only supports the = operator")

// dateBound is a resolved date literal. Day-granular literals cover the
// whole calendar day starting at start; instant literals have day == false.
type dateBound struct {
	start time.Time
	day   bool
	none  bool
}

// end returns the exclusive end of the bound's interval.
func (d dateBound) end() time.Time {
	if d.day {
		return d.start.AddDate(0, 0, 1)
	}
	return d.start
}

// match reports whether due satisfies op against the bound.
func (d dateBound) match(op Op, due time.Time) bool {
	if !d.day {
		switch op {
		case OpLt:
			return due.Before(d.start)
		case OpLe:
			return !due.After(d.start)
		case OpGt:
			return due.After(d.start)
		case OpGe:
			return !due.Before(d.start)
		default:
			return due.Equal(d.start)
		}
	}
	switch op {
	case OpLt:
		return due.Before(d.start)
	case OpLe:
		return due.Before(d.end())
	case OpGt:
		return !due.Before(d.end())
	case OpGe:
		return !due.Before(d.start)
	default:
		return !due.Before(d.start) && due.Before(d.end())
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// resolveDate interprets a date literal relative to now.
func resolveDate(value string, now time.Time) (dateBound, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	today := startOfDay(now)

	switch v {
	case "none":
		return dateBound{none: true}, nil
	case "now":
		return dateBound{start: now}, nil
	case "today":
		return dateBound{start: today, day: true}, nil
	case "tomorrow":
		return dateBound{start: today.AddDate(0, 0, 1), day: true}, nil
	case "yesterday":
		return dateBound{start: today.AddDate(0, 0, -1), day: true}, nil
	case "sow":
		offset := (int(today.Weekday()) + 6) % 7
		return dateBound{start: today.AddDate(0, 0, -offset), day: true}, nil
	case "eow":
		offset := (7 - int(today.Weekday())) % 7
		return dateBound{start: today.AddDate(0, 0, offset), day: true}, nil
	case "som":
		return dateBound{start: today.AddDate(0, 0, 1-today.Day()), day: true}, nil
	case "eom":
		first := today.AddDate(0, 0, 1-today.Day())
		return dateBound{start: first.AddDate(0, 1, -1), day: true}, nil
	}

	if b, ok, err := resolveRelative(v, now, today); ok {
		return b, err
	}

	if t, err := time.ParseInLocation("2006-01-02", v, now.Location()); err == nil {
		return dateBound{start: t, day: true}, nil
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(v)); err == nil {
		return dateBound{start: t}, nil
	}
	return dateBound{}, fmt.Errorf("unrecognized date %q", value)
}

// maxRelative bounds relative offsets per unit to about a century.
var maxRelative = map[byte]int{
	'h': 100 * 8766,
	'd': 100 * 366,
	'w': 100 * 53,
	'm': 100 * 12,
}

// resolveRelative handles [+|-]N(h|d|w|m). The bool result reports whether
// the literal has the relative shape at all.
func resolveRelative(v string, now, today time.Time) (dateBound, bool, error) {
	if len(v) < 2 {
		return dateBound{}, false, nil
	}
	unit := v[len(v)-1]
	if !strings.ContainsRune("hdwm", rune(unit)) {
		return dateBound{}, false, nil
	}
	num := v[:len(v)-1]
	sign := 1
	switch num[0] {
	case '+':
		num = num[1:]
	case '-':
		sign = -1
		num = num[1:]
	}
	if num == "" || strings.TrimLeft(num, "0123456789") != "" {
		return dateBound{}, false, nil
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return dateBound{}, true, fmt.Errorf("relative date %q: %w", v, err)
	}
	if n > maxRelative[unit] {
		return dateBound{}, true, fmt.Errorf("relative date %q is out of range (at most %d%c)", v, maxRelative[unit], unit)
	}
	n *= sign

	switch unit {
	case 'h':
		return dateBound{start: now.Add(time.Duration(n) * time.Hour)}, true, nil
	case 'd':
		return dateBound{start: today.AddDate(0, 0, n), day: true}, true, nil
	case 'w':
		return dateBound{start: today.AddDate(0, 0, 7*n), day: true}, true, nil
	default:
		return dateBound{start: today.AddDate(0, n, 0), day: true}, true, nil
	}
}
