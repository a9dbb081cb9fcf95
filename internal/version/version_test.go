// SPDX-License-Identifier: MPL-2.0

package version

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  Tuple
		ok    bool
	}{
		{"0.0.0", Tuple{0, 0, 0}, true},
		{"v0.0.0", Tuple{0, 0, 0}, true},
		{"v0.0", Tuple{0, 0}, true},
		{"v0.0 beta", Tuple{0, 0}, true},
		{"version 1,2,3 beta", Tuple{1, 2, 3}, true},
		{"v1.2.3-rc.1", Tuple{1, 2, 3}, true},
		{"Release 2.10", Tuple{2, 10}, true},
		{"1, 2, 3", Tuple{1, 2, 3}, true},
		{"v1.", Tuple{1}, true},
		{"12", Tuple{12}, true},
		{"main", nil, false},
		{"", nil, false},
		{"release-candidate", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, ok := Parse(tt.input)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompare_Policies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		a, b   Tuple
		policy PrefixPolicy
		want   int
	}{
		{"equal", Tuple{1, 2, 3}, Tuple{1, 2, 3}, PrefixLess, 0},
		{"major greater", Tuple{2, 0}, Tuple{1, 9, 9}, PrefixLess, 1},
		{"minor less", Tuple{1, 1}, Tuple{1, 2}, PrefixLess, -1},
		{"prefix less", Tuple{1, 2}, Tuple{1, 2, 0}, PrefixLess, -1},
		{"prefix zero pad equal", Tuple{1, 2}, Tuple{1, 2, 0}, PrefixZeroPad, 0},
		{"prefix zero pad less", Tuple{1, 2}, Tuple{1, 2, 1}, PrefixZeroPad, -1},
		{"empty less", nil, Tuple{0}, PrefixLess, -1},
		{"empty less zero pad", nil, Tuple{0}, PrefixZeroPad, -1},
		{"both empty", nil, Tuple{}, PrefixLess, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Compare(tt.a, tt.b, tt.policy); got != tt.want {
				t.Errorf("Compare(%v, %v, %v) = %d, want %d", tt.a, tt.b, tt.policy, got, tt.want)
			}
		})
	}
}

func TestCompare_AntisymmetricAndReflexive(t *testing.T) {
	t.Parallel()

	samples := []Tuple{
		nil,
		{0},
		{0, 0},
		{0, 0, 0},
		{1},
		{1, 0},
		{1, 0, 0},
		{1, 2},
		{1, 2, 0},
		{1, 2, 1},
		{2},
		{10, 0, 1},
		{99, 0, 0},
	}

	for _, policy := range []PrefixPolicy{PrefixLess, PrefixZeroPad} {
		for _, a := range samples {
			if got := Compare(a, a, policy); got != 0 {
				t.Errorf("%v: Compare(%v, %v) = %d, want 0", policy, a, a, got)
			}
			for _, b := range samples {
				if ab, ba := Compare(a, b, policy), Compare(b, a, policy); ab != -ba {
					t.Errorf("%v: Compare(%v, %v) = %d but Compare(%v, %v) = %d", policy, a, b, ab, b, a, ba)
				}
			}
		}
	}
}

func TestTuple_String(t *testing.T) {
	t.Parallel()

	if got := (Tuple{1, 20, 3}).String(); got != "1.20.3" {
		t.Errorf("String() = %q, want %q", got, "1.20.3")
	}
	if got := Tuple(nil).String(); got != "" {
		t.Errorf("String() of empty tuple = %q, want empty", got)
	}
}

func TestParsePrefixPolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []PrefixPolicy{PrefixLess, PrefixZeroPad} {
		got, err := ParsePrefixPolicy(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePrefixPolicy(%q) = %v, %v", p.String(), got, err)
		}
	}
	if got, err := ParsePrefixPolicy(""); err != nil || got != PrefixLess {
		t.Errorf("ParsePrefixPolicy(\"\") = %v, %v; want PrefixLess", got, err)
	}
	if _, err := ParsePrefixPolicy("lexical"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestIsPrerelease(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"v1.2.0-beta.1": true,
		"1.0.0-rc1":     true,
		"v1.2.0":        false,
		"v1.2":          false,
		"main":          false,
		"v0.0 beta":     false,
	}
	for tag, want := range tests {
		if got := IsPrerelease(tag); got != want {
			t.Errorf("IsPrerelease(%q) = %v, want %v", tag, got, want)
		}
	}
}

func TestMustParse_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("MustParse should panic on a string without digits")
		}
	}()
	_ = MustParse("trunk")
}
