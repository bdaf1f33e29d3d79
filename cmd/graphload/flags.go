package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hanpama/graphload/internal/config"
)

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// settings binds command-line flags to configuration fields. Flags hold
// their own copy of the configuration; only flags given on the command line
// are applied over the loaded file.
type settings struct {
	fs    *flag.FlagSet
	path  string
	flags config.Config
	apply map[string]func(*config.Config)
	usage string
}

func newSettings(name, usage string) *settings {
	s := &settings{
		fs:    flag.NewFlagSet(name, flag.ContinueOnError),
		flags: config.Default(),
		apply: map[string]func(*config.Config){},
		usage: usage,
	}
	s.fs.SetOutput(new(bytes.Buffer))
	s.fs.StringVar(&s.path, "config", "", "YAML configuration file")
	bind(s, "limits.max-depth", "Maximum selection depth", s.fs.IntVar, func(c *config.Config) *int { return &c.Limits.MaxDepth })
	bind(s, "limits.max-cost", "Maximum estimated cost", s.fs.IntVar, func(c *config.Config) *int { return &c.Limits.MaxCost })
	bind(s, "limits.max-selections", "Maximum selected fields", s.fs.IntVar, func(c *config.Config) *int { return &c.Limits.MaxSelections })
	bind(s, "limits.max-page-size", "Largest page size", s.fs.IntVar, func(c *config.Config) *int { return &c.Limits.MaxPageSize })
	bind(s, "limits.default-page-size", "Default page size", s.fs.IntVar, func(c *config.Config) *int { return &c.Limits.DefaultPageSize })
	bind(s, "cursor.secret", "Cursor signing secret", s.fs.StringVar, func(c *config.Config) *string { return &c.Cursor.Secret })
	bind(s, "log.level", "Log level", s.fs.StringVar, func(c *config.Config) *string { return &c.Log.Level })
	bind(s, "log.dev", "Development logs", s.fs.BoolVar, func(c *config.Config) *bool { return &c.Log.Development })
	return s
}

// bind registers a flag defined by define whose value lands in field.
func bind[T any](s *settings, name, usage string, define func(p *T, name string, value T, usage string), field func(*config.Config) *T) {
	p := field(&s.flags)
	define(p, name, *p, usage)
	s.apply[name] = func(dst *config.Config) { *field(dst) = *field(&s.flags) }
}

func (s *settings) list(name, usage string, field func(*config.Config) *[]string) {
	var l stringListFlag
	s.fs.Var(&l, name, usage)
	s.apply[name] = func(dst *config.Config) { *field(dst) = append([]string(nil), l...) }
}

// resolve parses args, loads the configuration file and applies the flags
// given on the command line over it.
func (s *settings) resolve(args []string) (config.Config, error) {
	if err := s.fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, s.usage)
		return config.Config{}, err
	}
	if s.fs.NArg() > 0 {
		fmt.Fprint(os.Stderr, s.usage)
		return config.Config{}, fmt.Errorf("unexpected arguments %q", s.fs.Args())
	}
	cfg, err := config.Load(s.path)
	if err != nil {
		return config.Config{}, err
	}
	s.fs.Visit(func(f *flag.Flag) {
		if set, ok := s.apply[f.Name]; ok {
			set(&cfg)
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
