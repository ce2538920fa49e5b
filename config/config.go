// Package config loads the repo-local configuration file: an
// hgrc-equivalent layered over built-in defaults, decoded with
// gopkg.in/yaml.v2 into an immutable Config value (no global mutable
// config, per the store.Repository design).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

const DefaultMergeSimilarity = 0.5

// PathMapping names a remote the way [paths] entries do in an hgrc: a
// short alias (commonly "default") resolved to a URL or local directory.
type PathMapping struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// reIgnore pairs a raw ignore pattern with its compiled regexp.
type reIgnore struct {
	Pattern string
	Re      *regexp.Regexp
}

// Config is the immutable, fully-validated repository configuration.
type Config struct {
	Username        string        `yaml:"username"`
	Paths           []PathMapping `yaml:"paths"`
	IgnorePatterns  []string      `yaml:"ignore"`
	MergeSimilarity float64       `yaml:"merge_similarity"`

	reIgnore []reIgnore
}

// Unmarshal decodes raw YAML into a Config, applying built-in defaults
// first and validating the result.
func Unmarshal(raw []byte) (*Config, error) {
	cfg := &Config{
		MergeSimilarity: DefaultMergeSimilarity,
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like ignore patterns)", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads and validates the config file at filename.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	cfg, err := Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MergeSimilarity < 0 || c.MergeSimilarity > 1 {
		return fmt.Errorf("merge_similarity must be between 0 and 1, got %v", c.MergeSimilarity)
	}
	seen := make(map[string]bool)
	for _, p := range c.Paths {
		if seen[p.Name] {
			return fmt.Errorf("duplicate path alias %q", p.Name)
		}
		seen[p.Name] = true
	}
	for _, pat := range c.IgnorePatterns {
		re, err := compileGlob(pat)
		if err != nil {
			return fmt.Errorf("failed to parse ignore pattern %q: %v", pat, err)
		}
		c.reIgnore = append(c.reIgnore, reIgnore{Pattern: pat, Re: re})
	}
	return nil
}

// compileGlob turns a "..." glob-style pattern (as used throughout the
// repository's ignore/typemap syntax) into an anchored regexp.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	re := regexp.QuoteMeta(pattern)
	re = strings.ReplaceAll(re, `\.\.\.`, ".*")
	return regexp.Compile("^" + re + "$")
}

// IsIgnored reports whether path matches any configured ignore pattern.
func (c *Config) IsIgnored(path string) bool {
	for _, p := range c.reIgnore {
		if p.Re.MatchString(path) {
			return true
		}
	}
	return false
}

// Path resolves a configured remote alias, returning ok=false if absent.
func (c *Config) Path(name string) (string, bool) {
	for _, p := range c.Paths {
		if p.Name == name {
			return p.URL, true
		}
	}
	return "", false
}
