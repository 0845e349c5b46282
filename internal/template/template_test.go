package template

import (
	"errors"
	"strings"
	"testing"

	"github.com/fpang/media-ingest/internal/filehandler"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		tmpl        FolderTemplate
		expectError string
	}{
		{
			name: "valid with catch-all",
			tmpl: FolderTemplate{
				Name:  "ok",
				Rules: []RoutingRule{{Label: "all", Pattern: "{YYYY}/{MM}"}},
			},
		},
		{
			name:        "no rules",
			tmpl:        FolderTemplate{Name: "empty"},
			expectError: "no routing rules",
		},
		{
			name: "unknown token",
			tmpl: FolderTemplate{
				Name:  "bad",
				Rules: []RoutingRule{{Label: "all", Pattern: "{NOPE}/x"}},
			},
			expectError: "unknown token",
		},
		{
			name: "unknown token in job root",
			tmpl: FolderTemplate{
				Name:    "bad",
				JobRoot: "{WHAT}",
				Rules:   []RoutingRule{{Label: "all", Pattern: "x"}},
			},
			expectError: "unknown token",
		},
		{
			name: "too deep",
			tmpl: FolderTemplate{
				Name:  "deep",
				Rules: []RoutingRule{{Label: "all", Pattern: "a/b/c/d/e/f/g/h/i/j/k"}},
			},
			expectError: "maximum depth",
		},
		{
			name: "token in scaffold",
			tmpl: FolderTemplate{
				Name:     "bad",
				Rules:    []RoutingRule{{Label: "all", Pattern: "x"}},
				Scaffold: []string{"exports/{YYYY}"},
			},
			expectError: "token-free",
		},
		{
			name: "absolute scaffold",
			tmpl: FolderTemplate{
				Name:     "bad",
				Rules:    []RoutingRule{{Label: "all", Pattern: "x"}},
				Scaffold: []string{"/etc"},
			},
			expectError: "relative",
		},
		{
			name: "traversal scaffold",
			tmpl: FolderTemplate{
				Name:     "bad",
				Rules:    []RoutingRule{{Label: "all", Pattern: "x"}},
				Scaffold: []string{"a/../b"},
			},
			expectError: "traversal",
		},
		{
			name: "conditional last rule only warns",
			tmpl: FolderTemplate{
				Name: "warned",
				Rules: []RoutingRule{{
					Label:   "photos",
					Match:   &RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaPhotos}},
					Pattern: "photos",
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if tt.expectError == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.expectError) {
				t.Errorf("error = %v, want containing %q", err, tt.expectError)
			}
		})
	}
}

func TestRouteFirstMatchWins(t *testing.T) {
	tmpl := FolderTemplate{
		Name: "order",
		Rules: []RoutingRule{
			{Label: "jpeg", Match: &RulePredicate{Extensions: []string{".jpg"}}, Pattern: "jpeg"},
			{Label: "photos", Match: &RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaPhotos}}, Pattern: "photos"},
			{Label: "rest", Pattern: "rest"},
		},
	}

	tests := []struct {
		mt       filehandler.MediaType
		ext      string
		expected string
	}{
		{filehandler.MediaPhotos, ".jpg", "jpeg"},
		{filehandler.MediaPhotos, ".png", "photos"},
		{filehandler.MediaVideos, ".mov", "rest"},
	}
	for _, tt := range tests {
		rule, ok := tmpl.Route(tt.mt, tt.ext)
		if !ok {
			t.Fatalf("Route(%v, %s): no match", tt.mt, tt.ext)
		}
		if rule.Label != tt.expected {
			t.Errorf("Route(%v, %s) = %q, want %q", tt.mt, tt.ext, rule.Label, tt.expected)
		}
	}
}

func TestRouteNoCatchAll(t *testing.T) {
	tmpl := FolderTemplate{
		Name: "partial",
		Rules: []RoutingRule{
			{Label: "photos", Match: &RulePredicate{MediaTypes: []filehandler.MediaType{filehandler.MediaPhotos}}, Pattern: "photos"},
		},
	}
	if _, ok := tmpl.Route(filehandler.MediaVideos, ".mov"); ok {
		t.Error("expected no match for unrouted media type")
	}
}

func TestExpandSafety(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		ctx     TokenContext
		want    string
		unsafe  bool
	}{
		{
			name:    "plain",
			pattern: "photos/{YYYY}/{MM}",
			ctx:     TokenContext{"YYYY": "2026", "MM": "03"},
			want:    "photos/2026/03",
		},
		{
			name:    "dotdot token",
			pattern: "photos/{JOB}",
			ctx:     TokenContext{"JOB": ".."},
			unsafe:  true,
		},
		{
			name:    "compositional escape",
			pattern: "{CLIENT}{JOB}",
			ctx:     TokenContext{"CLIENT": ".", "JOB": "."},
			unsafe:  true,
		},
		{
			name:    "absolute result",
			pattern: "{JOB}/x",
			// Raw context, as if sanitization were bypassed: whole-result
			// validation must still reject it.
			ctx:    TokenContext{"JOB": "/etc"},
			unsafe: true,
		},
		{
			name:    "drive letter",
			pattern: "{JOB}",
			ctx:     TokenContext{"JOB": "C:stuff"},
			unsafe:  true,
		},
		{
			name:    "control byte",
			pattern: "{JOB}",
			ctx:     TokenContext{"JOB": "a\x01b"},
			unsafe:  true,
		},
		{
			name:    "empty tokens collapse",
			pattern: "photos/{CLIENT}/{YYYY}",
			ctx:     TokenContext{"CLIENT": "", "YYYY": "2026"},
			want:    "photos/2026",
		},
		{
			name:    "all empty",
			pattern: "{CLIENT}",
			ctx:     TokenContext{"CLIENT": ""},
			unsafe:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.pattern, tt.ctx)
			if tt.unsafe {
				var pse *PathSafetyError
				if !errors.As(err, &pse) {
					t.Fatalf("expected PathSafetyError, got %v (result %q)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expand: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expand = %q, want %q", got, tt.want)
			}
			for _, seg := range strings.Split(got, "/") {
				if seg == "." || seg == ".." {
					t.Errorf("unsafe segment %q in %q", seg, got)
				}
			}
		})
	}
}

func TestDefaultTemplateIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default template invalid: %v", err)
	}
}
