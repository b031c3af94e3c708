package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"1.2.3", "v1_2_3"},
		{"1.2.3-alpha", "v1_2_3_alpha"},
		{"1.2.3.", "v1_2_3"},
		{"..1..2__3..", "v1_2_3"},
		{"1.28.159535 (stable)", "v1_28_159535_stable"},
		{"", "v"},
		{"---", "v"},
		{"v1.0", "v1_0"},
		{"v1.2", "v1_2"},
		{"valve", "valve"},
		{"V1.2", "vV1_2"},
		{"Ünïcode 2", "vn_code_2"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"1.2.3", "1.2.3-alpha", "", "alpha", "v", "vv1", "1.0.0+build.77",
		"  spaced  out  ", "__init__", "DayZ 1.26", "x/y\\z:w",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}
