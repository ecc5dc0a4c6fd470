package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
)

func TestLoadRunInputSeesEditsBetweenRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write("accounts:\n  - id: a1\n    provider: imap\n  - id: a2\n    provider: gmail\n")
	cfg, err := config.NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}

	first, err := loadRunInput(cfg)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if len(first.accounts) != 2 || first.accounts[1].Status != core.AccountActive {
		t.Fatalf("first accounts = %+v", first.accounts)
	}

	write("triage:\n  max_age_days: 3\n" +
		"accounts:\n  - id: a1\n    provider: imap\n  - id: a2\n    provider: gmail\n    status: inactive\n" +
		"rules:\n  - id: r1\n    text: Crypto offers are spam.\n    enabled: true\n")
	second, err := loadRunInput(cfg)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second.accounts[1].Status != core.AccountInactive {
		t.Errorf("deactivated account still %q", second.accounts[1].Status)
	}
	if len(second.rules) != 1 || second.maxAgeDays != 3 {
		t.Errorf("second input = %+v", second)
	}
}

func TestLoadRunInputRequiresAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}
	if _, err := loadRunInput(cfg); err == nil {
		t.Error("expected an error without accounts")
	}
}
