package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	got := String()
	if !strings.HasPrefix(got, "skyhap 1.2.3 (") {
		t.Errorf("String() = %q", got)
	}
}
