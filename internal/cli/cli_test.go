package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// sqliteConfig writes a config selecting a sqlite store in a temp dir.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "anoncredits.toml")
	body := fmt.Sprintf("[storage]\nbackend = \"sqlite\"\npath = %q\n", filepath.Join(dir, "ac.db"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "anoncredits ") {
		t.Errorf("version output = %q", out)
	}
}

func TestMigrateCommand(t *testing.T) {
	cfg := sqliteConfig(t)
	out, err := runCLI(t, "migrate", "--config", cfg)
	if err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	if !strings.Contains(out, "sqlite schema is up to date") {
		t.Errorf("migrate output = %q", out)
	}
}

func TestMigrateCommand_MemoryBackend(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := runCLI(t, "migrate"); err == nil {
		t.Error("migrate on memory backend error = nil, want error")
	}
}

func TestCreditsAdjustAndShow(t *testing.T) {
	cfg := sqliteConfig(t)

	if _, err := runCLI(t, "credits", "adjust", "--config", cfg, "--create=false", "--reason", "", "nobody", "5"); err == nil {
		t.Error("adjust on unknown identity error = nil, want error")
	}

	out, err := runCLI(t, "credits", "adjust", "--config", cfg, "--create", "--reason", "promo", "cli-user", "25")
	if err != nil {
		t.Fatalf("adjust error: %v", err)
	}
	if !strings.Contains(out, "Balance: 125") {
		t.Errorf("adjust output = %q, want balance 125", out)
	}

	out, err = runCLI(t, "credits", "adjust", "--config", cfg, "--create=false", "--reason", "penalty", "--", "cli-user", "-150")
	if err != nil {
		t.Fatalf("negative adjust error: %v", err)
	}
	if !strings.Contains(out, "Balance: -25") {
		t.Errorf("adjust output = %q, want balance -25", out)
	}

	out, err = runCLI(t, "credits", "show", "--config", cfg, "--limit", "0", "cli-user")
	if err != nil {
		t.Fatalf("show error: %v", err)
	}
	for _, want := range []string{"Balance:  -25", "adjust", "penalty", "promo", "initial", "Initial credits"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestCreditsAdjust_BadAmount(t *testing.T) {
	cfg := sqliteConfig(t)
	_, err := runCLI(t, "credits", "adjust", "--config", cfg, "--create=false", "--reason", "", "u", "ten")
	if err == nil || !strings.Contains(err.Error(), "not an integer") {
		t.Errorf("error = %v, want integer parse error", err)
	}
}

func TestCreditsGrant(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := runCLI(t, "credits", "grant", "--config", cfg, "--create", "--reason", "referral", "earner", "50")
	if err != nil {
		t.Fatalf("grant error: %v", err)
	}
	if !strings.Contains(out, "Granted earner +50") || !strings.Contains(out, "Balance: 150") {
		t.Errorf("grant output = %q, want +50 and balance 150", out)
	}

	if _, err := runCLI(t, "credits", "grant", "--config", cfg, "--create=false", "--reason", "", "--", "earner", "-5"); err == nil {
		t.Error("grant of a negative amount error = nil, want error")
	}

	out, err = runCLI(t, "credits", "show", "--config", cfg, "--limit", "0", "earner")
	if err != nil {
		t.Fatalf("show error: %v", err)
	}
	for _, want := range []string{"Balance:  150", "earn", "referral"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
