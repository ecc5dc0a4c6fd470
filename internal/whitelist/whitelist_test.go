package whitelist

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestIsWhitelisted(t *testing.T) {
	checker := NewChecker([]string{" Example.com ", "trusted.org"}, zaptest.NewLogger(t))

	tests := []struct {
		from string
		want bool
	}{
		{"alice@example.com", true},
		{"ALICE@EXAMPLE.COM", true},
		{"bob@mail.example.com", true},
		{"Bob <bob@trusted.org>", true},
		{"eve@example.com.evil.net", false},
		{"eve@notexample.com", false},
		{"no-at-sign", false},
		{"trailing@", false},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			if got := checker.IsWhitelisted(tt.from); got != tt.want {
				t.Errorf("IsWhitelisted(%q) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestEmptyChecker(t *testing.T) {
	var nilChecker *Checker
	if nilChecker.IsWhitelisted("a@example.com") {
		t.Error("nil checker should whitelist nothing")
	}
	if NewChecker(nil, nil).IsWhitelisted("a@example.com") {
		t.Error("empty checker should whitelist nothing")
	}
}
