package core

import (
	"testing"

	"pgregory.net/rapid"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name   string
		a, b   [2]string
		wantEq bool
	}{
		{"same content", [2]string{"Hello", "World"}, [2]string{"Hello", "World"}, true},
		{"different body", [2]string{"Hello", "World"}, [2]string{"Hello", "World!"}, false},
		{"shifted boundary", [2]string{"ab", "c"}, [2]string{"a", "bc"}, false},
		{"empty", [2]string{"", ""}, [2]string{"", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Checksum(tt.a[0], tt.a[1]) == Checksum(tt.b[0], tt.b[1])
			if got != tt.wantEq {
				t.Errorf("checksum equality = %v, want %v", got, tt.wantEq)
			}
		})
	}

	if len(Checksum("x", "y")) != 64 {
		t.Errorf("expected hex sha256 length 64, got %d", len(Checksum("x", "y")))
	}
}

func TestChecksumProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		subject := rapid.String().Draw(rt, "subject")
		body := rapid.String().Draw(rt, "body")

		if Checksum(subject, body) != Checksum(subject, body) {
			rt.Fatalf("checksum is not deterministic")
		}

		other := rapid.String().Draw(rt, "other_body")
		if other != body && Checksum(subject, other) == Checksum(subject, body) {
			rt.Fatalf("collision between %q and %q", body, other)
		}
	})
}

func TestRuleAppliesTo(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		account string
		want    bool
	}{
		{"global enabled", Rule{Enabled: true}, "a1", true},
		{"disabled", Rule{Enabled: false}, "a1", false},
		{"scoped match", Rule{Enabled: true, Scope: RuleScope{AccountIDs: []string{"a1", "a2"}}}, "a2", true},
		{"scoped miss", Rule{Enabled: true, Scope: RuleScope{AccountIDs: []string{"a1"}}}, "a3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.AppliesTo(tt.account); got != tt.want {
				t.Errorf("AppliesTo(%q) = %v, want %v", tt.account, got, tt.want)
			}
		})
	}
}

func TestAggregateStats(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(rt, "accounts")
		perAccount := make(map[string]ProcessingStats, n)
		wantProcessed := 0
		for i := 0; i < n; i++ {
			s := ProcessingStats{
				TotalEmails:     rapid.IntRange(0, 100).Draw(rt, "total"),
				ProcessedEmails: rapid.IntRange(0, 100).Draw(rt, "processed"),
				SpamEmails:      rapid.IntRange(0, 100).Draw(rt, "spam"),
			}
			perAccount[string(rune('a'+i))] = s
			wantProcessed += s.ProcessedEmails
		}

		got := AggregateStats(perAccount)
		if got.ProcessedEmails != wantProcessed {
			rt.Fatalf("aggregate processed = %d, want %d", got.ProcessedEmails, wantProcessed)
		}
	})
}

func TestProcessingRunClone(t *testing.T) {
	run := &ProcessingRun{
		State:        RunProcessing,
		Accounts:     []string{"a1"},
		AccountStats: map[string]ProcessingStats{"a1": {TotalEmails: 3}},
	}

	c := run.Clone()
	c.AccountStats["a1"] = ProcessingStats{TotalEmails: 99}
	c.Accounts[0] = "changed"

	if run.AccountStats["a1"].TotalEmails != 3 {
		t.Error("clone shares the stats map with the original")
	}
	if run.Accounts[0] != "a1" {
		t.Error("clone shares the accounts slice with the original")
	}
	if (*ProcessingRun)(nil).Clone() != nil {
		t.Error("cloning nil should return nil")
	}
}

func TestEmailChecksumFallsBackToHTML(t *testing.T) {
	a := &Email{Subject: "Your invoice", HTMLBody: "<p>Invoice #1001</p>"}
	b := &Email{Subject: "Your invoice", HTMLBody: "<p>verify your bank password</p>"}
	if a.Checksum() == b.Checksum() {
		t.Error("HTML-only emails with the same subject share a checksum")
	}

	text := &Email{Subject: "s", Body: "plain", HTMLBody: "<p>plain</p>"}
	if text.Checksum() != Checksum("s", "plain") {
		t.Error("text body should take precedence over the HTML body")
	}
}

func TestParseUserValidation(t *testing.T) {
	tests := []struct {
		in   string
		want UserValidation
		ok   bool
	}{
		{"", ValidationUnset, true},
		{"unset", ValidationUnset, true},
		{"spam", ValidationConfirmedSpam, true},
		{"confirmed_spam", ValidationConfirmedSpam, true},
		{"ham", ValidationConfirmedHam, true},
		{"confirmed_ham", ValidationConfirmedHam, true},
		{"maybe", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseUserValidation(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseUserValidation(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
