// Device configuration file parsing
//
// Copyright (C) 2026  heartglow authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package config reads the sectioned device configuration file. Options are
// tracked as they are read so unknown keys can be reported after loading.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config is a parsed configuration file.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string

	accessed map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads a configuration file. [include pattern] headers pull in other
// files relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.loadFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Includes are not allowed.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(data), "<string>", nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	dir := filepath.Dir(abs)
	return c.parse(f, path, func(pattern string) error {
		glob := filepath.Join(dir, pattern)
		matches, err := filepath.Glob(glob)
		if err != nil {
			return fmt.Errorf("config: invalid include pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
			return fmt.Errorf("config: include file does not exist: %s", glob)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if err := c.loadFile(m, visited); err != nil {
				return err
			}
		}
		return nil
	})
}

// parse reads sections from r. include is nil when includes are not allowed.
func (c *Config) parse(r io.Reader, name string, include func(pattern string) error) error {
	var section string
	var options map[string]string
	flush := func() {
		if section != "" {
			c.addSection(section, options)
		}
		section, options = "", nil
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, name)
			}
			if pattern, ok := strings.CutPrefix(header, "include "); ok {
				pattern = strings.TrimSpace(pattern)
				if include == nil {
					return fmt.Errorf("config: include not allowed at line %d in %s", lineNum, name)
				}
				if pattern == "" {
					return fmt.Errorf("config: empty include at line %d in %s", lineNum, name)
				}
				if err := include(pattern); err != nil {
					return err
				}
				continue
			}
			section = strings.ToLower(header)
			options = make(map[string]string)
			continue
		}

		if section == "" {
			return fmt.Errorf("config: option outside of a section at line %d in %s", lineNum, name)
		}
		key, value, ok := splitOption(line)
		if !ok {
			return fmt.Errorf("config: malformed line %d in %s: %q", lineNum, name, line)
		}
		options[key] = value
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", name, err)
	}
	return nil
}

// splitOption splits "key: value" or "key = value" at whichever delimiter
// comes first, so values may contain the other one (broker URLs).
func splitOption(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	return strings.ToLower(key), strings.TrimSpace(line[idx+1:]), true
}

// addSection adds a section, merging into an existing one of the same name.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[k] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// Section returns the named section, or an error if it is missing.
func (c *Config) Section(name string) (*Section, error) {
	if sec := c.SectionOptional(name); sec != nil {
		return sec, nil
	}
	return nil, ErrMissingSection(name)
}

// SectionOptional returns the named section, or nil if it is missing.
// Getters on a nil Section return their fallbacks.
func (c *Config) SectionOptional(name string) *Section {
	name = strings.ToLower(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessed[name] = struct{}{}
	if sec, ok := c.sections[name]; ok {
		return sec
	}
	return nil
}

// Has reports whether a section exists.
func (c *Config) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[strings.ToLower(name)]
	return ok
}

// SectionNames returns the section names in file order.
func (c *Config) SectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Unused returns the sections and options that were never read, formatted
// as "section" or "section.option", sorted.
func (c *Config) Unused() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []string
	for _, name := range c.order {
		if _, ok := c.accessed[name]; !ok {
			result = append(result, name)
			continue
		}
		for _, opt := range c.sections[name].Unused() {
			result = append(result, name+"."+opt)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnused returns an error naming every unread section and option.
func (c *Config) CheckUnused() error {
	if unused := c.Unused(); len(unused) > 0 {
		return NewConfigError("", "", "unknown options: "+strings.Join(unused, ", "))
	}
	return nil
}
