package database

import "testing"

func TestBooleanPrefixQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"lake", "+lake*"},
		{"  lake   stur ", "+lake* +stur*"},
		{`+walleye -"erie" (bass)~`, "+walleye* +erie* +bass*"},
		{"A69-1601", "+A69* +1601*"},
	}
	for _, tt := range tests {
		if got := BooleanPrefixQuery(tt.in); got != tt.want {
			t.Errorf("BooleanPrefixQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
