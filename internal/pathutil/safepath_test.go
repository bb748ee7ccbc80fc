package pathutil

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"assets/badge", false},
		{"assets/./badge", true},
		{"assets/../README.md", true},
		{"..", true},
		{"assets/...", false},
		{".github/streak.svg", false},
		{`assets\..\x`, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasDotSegments(tt.path); got != tt.want {
				t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestCheckRelative(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"assets/badge", false},
		{"assets/pic.png", false},
		{"streak.svg", false},
		{"", true},
		{"   ", true},
		{"/etc/passwd", true},
		{`\share\x`, true},
		{"../outside", true},
		{"assets/", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := CheckRelative(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckRelative(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	root := t.TempDir()
	got, err := Join(root, "assets/badge.svg")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if want := filepath.Join(root, "assets", "badge.svg"); got != want {
		t.Fatalf("Join = %q, want %q", got, want)
	}
	if _, err := Join(root, "../x"); err == nil {
		t.Fatal("Join should reject escaping paths")
	}
}

func FuzzCheckRelative(f *testing.F) {
	f.Add("assets/badge")
	f.Add("../x")
	f.Add("/abs")
	f.Fuzz(func(t *testing.T, p string) {
		if CheckRelative(p) != nil {
			return
		}
		joined := filepath.Join("/repo", filepath.FromSlash(p))
		rel, err := filepath.Rel("/repo", joined)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			t.Fatalf("accepted %q escapes root (rel=%q)", p, rel)
		}
	})
}
