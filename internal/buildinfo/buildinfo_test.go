package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "meetly/"+Version) {
		t.Errorf("UserAgent() = %q, want prefix %q", ua, "meetly/"+Version)
	}
}

func TestBuildInfo_Keys(t *testing.T) {
	info := BuildInfo()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if _, ok := info[k]; !ok {
			t.Errorf("BuildInfo() missing key %q", k)
		}
	}
}
