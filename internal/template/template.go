package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/filehandler"
)

// MaxPathDepth is the deepest destination pattern a template may produce.
const MaxPathDepth = 10

// tokenRe matches {NAME} placeholders inside a destination pattern.
var tokenRe = regexp.MustCompile(`\{([^{}/\\]*)\}`)

// PathSafetyError reports an expansion whose result would escape or corrupt
// the project tree. It is recorded as a per-file error; it never aborts a run.
type PathSafetyError struct {
	Pattern string
	Result  string
	Reason  string
}

func (e *PathSafetyError) Error() string {
	return fmt.Sprintf("unsafe destination path %q (pattern %q): %s", e.Result, e.Pattern, e.Reason)
}

// RulePredicate restricts a routing rule to certain media types and/or
// extensions. Empty slices mean "any". Extensions are compared lower-case
// with the leading dot.
type RulePredicate struct {
	MediaTypes []filehandler.MediaType
	Extensions []string
}

// Matches reports whether the predicate accepts a file of the given type and
// extension.
func (p *RulePredicate) Matches(mt filehandler.MediaType, ext string) bool {
	if len(p.MediaTypes) > 0 {
		ok := false
		for _, want := range p.MediaTypes {
			if want == mt {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(p.Extensions) > 0 {
		ext = strings.ToLower(ext)
		ok := false
		for _, want := range p.Extensions {
			if strings.ToLower(want) == ext {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// RoutingRule maps matching files to a destination pattern. A nil Match
// accepts every file, which is how a template expresses its catch-all.
type RoutingRule struct {
	Label   string
	Match   *RulePredicate
	Pattern string
}

// FolderTemplate is an ordered routing-rule list plus the static shape of a
// project: scaffold directories created on every run, default token values,
// and an optional job-root pattern prepended to every destination.
type FolderTemplate struct {
	Name     string
	Rules    []RoutingRule
	Scaffold []string
	Defaults map[string]string
	JobRoot  string
}

// Validate checks the template at authoring time: every pattern (including
// the job root) references only vocabulary tokens and stays within depth
// limits, and scaffold directories are literal relative paths. A template
// whose last rule is conditional is accepted with a warning, since unmatched
// files then fall back to the built-in unsorted pattern.
func (t *FolderTemplate) Validate() error {
	if len(t.Rules) == 0 {
		return fmt.Errorf("template %q has no routing rules", t.Name)
	}

	patterns := make([]string, 0, len(t.Rules)+1)
	if t.JobRoot != "" {
		patterns = append(patterns, t.JobRoot)
	}
	for _, r := range t.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("template %q: rule %q has an empty pattern", t.Name, r.Label)
		}
		patterns = append(patterns, r.Pattern)
	}

	for _, pat := range patterns {
		if err := validatePattern(t.Name, pat); err != nil {
			return err
		}
	}

	for _, dir := range t.Scaffold {
		if tokenRe.MatchString(dir) {
			return fmt.Errorf("template %q: scaffold directory %q must be token-free", t.Name, dir)
		}
		if strings.HasPrefix(dir, "/") || strings.HasPrefix(dir, "\\") {
			return fmt.Errorf("template %q: scaffold directory %q must be relative", t.Name, dir)
		}
		for _, seg := range strings.Split(strings.ReplaceAll(dir, "\\", "/"), "/") {
			if seg == "." || seg == ".." {
				return fmt.Errorf("template %q: scaffold directory %q contains a traversal segment", t.Name, dir)
			}
		}
	}

	if last := t.Rules[len(t.Rules)-1]; last.Match != nil {
		log.Warn().
			Str("template", t.Name).
			Str("last_rule", last.Label).
			Msg("Template has no unconditional catch-all rule; unmatched files go to the unsorted fallback")
	}

	return nil
}

func validatePattern(tmplName, pattern string) error {
	for _, m := range tokenRe.FindAllStringSubmatch(pattern, -1) {
		if !Vocabulary[m[1]] {
			return fmt.Errorf("template %q: pattern %q references unknown token %q", tmplName, pattern, m[1])
		}
	}
	if depth := len(strings.Split(pattern, "/")); depth > MaxPathDepth {
		return fmt.Errorf("template %q: pattern %q exceeds maximum depth %d", tmplName, pattern, MaxPathDepth)
	}
	return nil
}

// Route returns the first rule whose predicate accepts the file.
func (t *FolderTemplate) Route(mt filehandler.MediaType, ext string) (RoutingRule, bool) {
	for _, r := range t.Rules {
		if r.Match == nil || r.Match.Matches(mt, ext) {
			return r, true
		}
	}
	return RoutingRule{}, false
}

// Expand substitutes the token context into a pattern and validates the
// assembled result. The returned path is slash-separated, relative, and
// contains no "." or ".." segment. Empty segments produced by empty token
// values are dropped.
func Expand(pattern string, ctx TokenContext) (string, error) {
	expanded := tokenRe.ReplaceAllStringFunc(pattern, func(m string) string {
		name := m[1 : len(m)-1]
		return ctx[name]
	})

	if strings.ContainsRune(expanded, 0) {
		return "", &PathSafetyError{Pattern: pattern, Result: expanded, Reason: "contains NUL byte"}
	}
	for _, r := range expanded {
		if r < 0x20 || r == 0x7f {
			return "", &PathSafetyError{Pattern: pattern, Result: expanded, Reason: "contains control byte"}
		}
	}
	if strings.HasPrefix(expanded, "/") || strings.HasPrefix(expanded, "\\") || hasDrivePrefix(expanded) {
		return "", &PathSafetyError{Pattern: pattern, Result: expanded, Reason: "absolute path marker"}
	}

	segs := strings.Split(strings.ReplaceAll(expanded, "\\", "/"), "/")
	out := segs[:0]
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return "", &PathSafetyError{Pattern: pattern, Result: expanded, Reason: fmt.Sprintf("path segment %q", seg)}
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return "", &PathSafetyError{Pattern: pattern, Result: expanded, Reason: "expands to empty path"}
	}

	return strings.Join(out, "/"), nil
}

func hasDrivePrefix(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Default returns the built-in date-based template used when no profile is
// supplied: photos, raw, and videos split by capture date, everything else
// into an unsorted folder.
func Default() *FolderTemplate {
	return &FolderTemplate{
		Name:    "default",
		JobRoot: "{YYYY}-{MM}-{DD}_{JOB}",
		Rules: []RoutingRule{
			{
				Label:   "photos",
				Match:   &RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaPhotos}},
				Pattern: "photos/{YYYY}-{MM}-{DD}",
			},
			{
				Label:   "raw",
				Match:   &RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaRaw}},
				Pattern: "raw/{YYYY}-{MM}-{DD}",
			},
			{
				Label:   "videos",
				Match:   &RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaVideos}},
				Pattern: "videos/{YYYY}-{MM}-{DD}",
			},
			{
				Label:   "unsorted",
				Pattern: "unsorted",
			},
		},
		Scaffold: []string{"exports", "selects"},
	}
}

// FallbackPattern routes files a catch-all-less template fails to match.
const FallbackPattern = "unsorted"
