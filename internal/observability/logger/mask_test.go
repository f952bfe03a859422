package logger

import "testing"

func TestMaskAuthorization(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bearer abcdef1234", "Bearer ****1234"},
		{"bearer abcdef1234", "Bearer ****1234"},
		{"raw-secret-value", "****alue"},
		{"abc", "****abc"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := MaskAuthorization(tc.in); got != tc.want {
			t.Fatalf("MaskAuthorization(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
