package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"heartglow/pkg/led"
)

// Section is one [name] block. Every getter records the option as read.
// A nil *Section behaves as an empty section.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// Name returns the section name.
func (s *Section) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Has reports whether the option is set.
func (s *Section) Has(option string) bool {
	if s == nil {
		return false
	}
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Unused returns the options never read, sorted.
func (s *Section) Unused() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// lookup returns the raw value and marks the option read.
func (s *Section) lookup(option string) (string, bool) {
	if s == nil {
		return "", false
	}
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// String returns a string option, the fallback if given, or an error.
func (s *Section) String(option string, fallback ...string) (string, error) {
	if v, ok := s.lookup(option); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", ErrMissingOption(s.Name(), option)
}

// Int returns an integer option.
func (s *Section) Int(option string, fallback ...int) (int, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, ErrMissingOption(s.Name(), option)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, ErrInvalidValue(s.Name(), option, v, "integer")
	}
	return i, nil
}

// IntRange returns an integer option within [minVal, maxVal].
func (s *Section) IntRange(option string, minVal, maxVal int, fallback ...int) (int, error) {
	v, err := s.Int(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v < minVal {
		return 0, ErrOutOfRange(s.Name(), option, float64(v), "must have minimum of "+strconv.Itoa(minVal))
	}
	if v > maxVal {
		return 0, ErrOutOfRange(s.Name(), option, float64(v), "must have maximum of "+strconv.Itoa(maxVal))
	}
	return v, nil
}

// Float returns a float option.
func (s *Section) Float(option string, fallback ...float64) (float64, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, ErrMissingOption(s.Name(), option)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, ErrInvalidValue(s.Name(), option, v, "float")
	}
	return f, nil
}

// FloatBounds constrains FloatWithBounds. Nil fields are unchecked.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
	Below  *float64 // <
}

// Bound returns a pointer to v for use in FloatBounds literals.
func Bound(v float64) *float64 { return &v }

// FloatWithBounds returns a float option checked against bounds.
func (s *Section) FloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.Float(option, fallback...)
	if err != nil {
		return 0, err
	}
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return 0, ErrOutOfRange(s.Name(), option, v, "must have minimum of "+format(*bounds.MinVal))
	case bounds.MaxVal != nil && v > *bounds.MaxVal:
		return 0, ErrOutOfRange(s.Name(), option, v, "must have maximum of "+format(*bounds.MaxVal))
	case bounds.Above != nil && v <= *bounds.Above:
		return 0, ErrOutOfRange(s.Name(), option, v, "must be above "+format(*bounds.Above))
	case bounds.Below != nil && v >= *bounds.Below:
		return 0, ErrOutOfRange(s.Name(), option, v, "must be below "+format(*bounds.Below))
	}
	return v, nil
}

// Duration returns an option given in seconds as a time.Duration.
func (s *Section) Duration(option string, fallback time.Duration) (time.Duration, error) {
	v, err := s.FloatWithBounds(option, FloatBounds{MinVal: Bound(0)}, fallback.Seconds())
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

// Bool accepts 1/0, true/false, yes/no and on/off.
func (s *Section) Bool(option string, fallback ...bool) (bool, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return false, ErrMissingOption(s.Name(), option)
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, ErrInvalidValue(s.Name(), option, v, "boolean")
}

// Choice returns a string option that must be one of choices, compared
// case-insensitively. The canonical spelling from choices is returned.
func (s *Section) Choice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.String(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.Name(), option, v, choices)
}

// IntList returns a comma separated list of integers.
func (s *Section) IntList(option string, fallback ...[]int) ([]int, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return nil, ErrMissingOption(s.Name(), option)
	}
	var result []int
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		i, err := strconv.Atoi(p)
		if err != nil {
			return nil, ErrInvalidValue(s.Name(), option, p, "integer")
		}
		result = append(result, i)
	}
	return result, nil
}

// Color returns an "r, g, b" option with channels 0..255.
func (s *Section) Color(option string, fallback led.Color) (led.Color, error) {
	list, err := s.IntList(option, []int{int(fallback.R), int(fallback.G), int(fallback.B)})
	if err != nil {
		return led.Color{}, err
	}
	if len(list) != 3 {
		return led.Color{}, ErrInvalidValue(s.Name(), option, fmtInts(list), "three channels r, g, b")
	}
	var ch [3]uint8
	for i, v := range list {
		if v < 0 || v > 255 {
			return led.Color{}, ErrOutOfRange(s.Name(), option, float64(v), "channel must be within 0..255")
		}
		ch[i] = uint8(v)
	}
	return led.Color{R: ch[0], G: ch[1], B: ch[2]}, nil
}

func fmtInts(list []int) string {
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
