// Package config loads ingest profiles from TOML. A profile bundles the
// folder template, pipeline options, sniffing exceptions, and the XMP
// attribution patch so a studio can keep one file per job type.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/fpang/media-ingest/internal/filehandler"
	"github.com/fpang/media-ingest/internal/hashing"
	"github.com/fpang/media-ingest/internal/template"
)

// Ingest contains pipeline options.
type Ingest struct {
	Hash      string `toml:"hash"`
	Verify    string `toml:"verify"`
	Dedupe    bool   `toml:"dedupe"`
	Overwrite bool   `toml:"overwrite"`
	Backup    string `toml:"backup"`
	Triage    bool   `toml:"triage"`
	Bundle    bool   `toml:"bundle"`
}

// Rule is the TOML form of one routing rule.
type Rule struct {
	Label      string   `toml:"label"`
	MediaTypes []string `toml:"media_types"`
	Extensions []string `toml:"extensions"`
	Pattern    string   `toml:"pattern"`
}

// Template is the TOML form of a folder template.
type Template struct {
	Name     string            `toml:"name"`
	JobRoot  string            `toml:"job_root"`
	Scaffold []string          `toml:"scaffold"`
	Defaults map[string]string `toml:"defaults"`
	Rules    []Rule            `toml:"rules"`
}

// Sniff configures the triage corruption check.
type Sniff struct {
	// GenericTypes lists detected content types that exempt raw-classified
	// files from the broad-category mismatch check.
	GenericTypes []string `toml:"generic_types"`
}

// XMP carries the attribution patch merged into sidecars. An explicitly empty
// string in the file clears the corresponding sidecar field.
type XMP struct {
	Enabled      bool    `toml:"enabled"`
	Creator      *string `toml:"creator"`
	Rights       *string `toml:"rights"`
	WebStatement *string `toml:"web_statement"`
	Credit       *string `toml:"credit"`
}

// Config is the root of an ingest profile.
type Config struct {
	Ingest   Ingest   `toml:"ingest"`
	Template Template `toml:"template"`
	Sniff    Sniff    `toml:"sniff"`
	XMP      XMP      `toml:"xmp"`
}

// Default returns the built-in profile: sha256, sentinel verification, dedupe
// on, triage on, and the date-based default template.
func Default() *Config {
	return &Config{
		Ingest: Ingest{
			Hash:   string(hashing.SHA256),
			Verify: "sentinel",
			Dedupe: true,
			Triage: true,
		},
		Sniff: Sniff{
			GenericTypes: []string{"application/octet-stream"},
		},
	}
}

// Load reads a profile from path. A missing file is an error here; callers
// that want the built-in defaults pass an empty path.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts a typo would silently break.
func (c *Config) Validate() error {
	if _, err := hashing.Parse(c.Ingest.Hash); err != nil {
		return err
	}
	switch c.Ingest.Verify {
	case "", "none", "sentinel", "full":
	default:
		return fmt.Errorf("unknown verify mode: %q (want none, sentinel, or full)", c.Ingest.Verify)
	}
	if len(c.Template.Rules) > 0 {
		tmpl, err := c.FolderTemplate()
		if err != nil {
			return err
		}
		if err := tmpl.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FolderTemplate converts the TOML template into the engine's form, or
// returns the built-in default when the profile defines no rules.
func (c *Config) FolderTemplate() (*template.FolderTemplate, error) {
	if len(c.Template.Rules) == 0 {
		return template.Default(), nil
	}

	t := &template.FolderTemplate{
		Name:     c.Template.Name,
		JobRoot:  c.Template.JobRoot,
		Scaffold: c.Template.Scaffold,
		Defaults: c.Template.Defaults,
	}
	if t.Name == "" {
		t.Name = "profile"
	}

	for _, r := range c.Template.Rules {
		rule := template.RoutingRule{Label: r.Label, Pattern: r.Pattern}
		if len(r.MediaTypes) > 0 || len(r.Extensions) > 0 {
			pred := &template.RulePredicate{Extensions: r.Extensions}
			for _, mt := range r.MediaTypes {
				switch filehandler.MediaType(mt) {
				case filehandler.MediaPhotos, filehandler.MediaVideos, filehandler.MediaRaw, filehandler.MediaOther:
					pred.MediaTypes = append(pred.MediaTypes, filehandler.MediaType(mt))
				default:
					return nil, fmt.Errorf("template %q: rule %q references unknown media type %q", t.Name, r.Label, mt)
				}
			}
			rule.Match = pred
		}
		t.Rules = append(t.Rules, rule)
	}

	return t, nil
}
