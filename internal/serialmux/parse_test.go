package serialmux

import "testing"

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"s1,512,10", LineEcho},
		{"s15, 1023, 10", LineEcho},
		{"r", LineEcho},
		{"q", LineEcho},
		{"t", LineEcho},
		{"point 3: at 120, ramp 10, target 512", LineQueryReport},
		{"point 3: garbage", LineOther},
		{"invalid args", LineInvalidArgs},
		{"unknown command", LineUnknownCommand},
		{"  unknown command  ", LineUnknownCommand},
		{"skyhap", LineOther},
		{"", LineOther},
		{"hello", LineOther},
	}
	for _, tt := range tests {
		if got := ClassifyLine(tt.line); got != tt.want {
			t.Errorf("ClassifyLine(%q) = %s, want %s", tt.line, got, tt.want)
		}
	}
}

func TestParseQueryReport(t *testing.T) {
	ps, err := ParseQueryReport("point 9: at 0, ramp 10, target 1023\r")
	if err != nil {
		t.Fatalf("ParseQueryReport: %v", err)
	}
	want := PointState{Index: 9, At: 0, Ramp: 10, Target: 1023}
	if ps != want {
		t.Errorf("got %+v, want %+v", ps, want)
	}

	for _, bad := range []string{"", "point", "point x: at 1, ramp 2, target 3", "s1,2,3"} {
		if _, err := ParseQueryReport(bad); err == nil {
			t.Errorf("ParseQueryReport(%q) expected error", bad)
		}
	}
}
