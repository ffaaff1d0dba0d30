package device

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "spaces", in: "Front Door", want: "front_door"},
		{name: "non-ascii and punctuation", in: "  Büro / Keller ", want: "b_ro_keller"},
		{name: "digits kept", in: "Garage-Door 2", want: "garage_door_2"},
		{name: "nothing usable", in: "!!!", want: ""},
		{name: "truncated", in: strings.Repeat("0", 60), want: strings.Repeat("0", 50)},
		{name: "truncation drops separator", in: strings.Repeat("a", 49) + " b", want: strings.Repeat("a", 49)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
