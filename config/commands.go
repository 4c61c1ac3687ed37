package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/m4xw311/conductor/errors"
	"gopkg.in/yaml.v3"
)

const approvalsFileName = "approvals.yaml"

// approvals is the on-disk shape of commands approved with "always allow".
type approvals struct {
	AllowedCommands map[string][]string `yaml:"allowed_commands"`
}

// IsCommandAllowed reports whether command was pre-approved for dir. Entries
// match exactly, or as a regular expression anchored to the whole command.
func (c *Config) IsCommandAllowed(command, dir string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	for _, pattern := range c.AllowedCommands[cleanDir(dir)] {
		if pattern == command {
			return true
		}
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// AllowCommand adds command to the allow-list of dir in memory.
func (c *Config) AllowCommand(command, dir string) {
	if c.AllowedCommands == nil {
		c.AllowedCommands = map[string][]string{}
	}
	dir = cleanDir(dir)
	for _, existing := range c.AllowedCommands[dir] {
		if existing == command {
			return
		}
	}
	c.AllowedCommands[dir] = append(c.AllowedCommands[dir], command)
}

// SaveApprovals persists the allow-list. It is a no-op when no approvals
// path is known.
func (c *Config) SaveApprovals() error {
	if c.approvalsPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.approvalsPath), 0o755); err != nil {
		return errors.Wrapf(err, "could not create approvals directory")
	}
	data, err := yaml.Marshal(approvals{AllowedCommands: c.AllowedCommands})
	if err != nil {
		return errors.Wrapf(err, "could not serialize approvals")
	}
	return errors.Wrapf(os.WriteFile(c.approvalsPath, data, 0o644), "could not write approvals")
}

func (c *Config) loadApprovals() error {
	data, err := os.ReadFile(c.approvalsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "could not read approvals")
	}
	var a approvals
	if err := yaml.Unmarshal(data, &a); err != nil {
		return errors.Wrapf(err, "could not parse approvals %s", c.approvalsPath)
	}
	for dir, cmds := range a.AllowedCommands {
		for _, cmd := range cmds {
			c.AllowCommand(cmd, dir)
		}
	}
	return nil
}

func cleanDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
