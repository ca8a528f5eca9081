package masking

import "testing"

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"a", "a"},
		{"ab", "a*"},
		{"secret", "s*c*e*"},
		{"alice-secret", "a*i*e*s*c*e*"},
		{"密码abc", "密*a*c"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskKeepsLength(t *testing.T) {
	in := "0123456789abcdef"
	if got := Mask(in); len([]rune(got)) != len([]rune(in)) {
		t.Errorf("Mask changed length: %q -> %q", in, got)
	}
}
