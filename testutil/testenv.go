// Package testutil provides shared environment helpers for the E2E tests,
// which drive the built mseval binary against a live backend.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AllowedAccountsVar lists the accounts E2E tests may log in as and delete
// evaluations from.
const AllowedAccountsVar = "MSEVAL_ALLOWED_TEST_ACCOUNTS"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// parseDotEnvLine splits one .env line. Blank lines, comments and lines
// without "=" are skipped; an optional "export " prefix and surrounding
// quotes are removed.
func parseDotEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}

	return key, strings.Trim(strings.TrimSpace(value), "\"'"), true
}

// ValidateAllowlist crashes the process unless the account named by
// emailVar is listed in MSEVAL_ALLOWED_TEST_ACCOUNTS. E2E runs delete what
// they create, so they must never run against a personal account.
func ValidateAllowlist(emailVar string) {
	if err := checkAllowlist(os.Getenv(AllowedAccountsVar), emailVar, os.Getenv(emailVar)); err != nil {
		fmt.Fprintln(os.Stderr, "FATAL: "+err.Error())
		os.Exit(1)
	}
}

func checkAllowlist(allowlist, emailVar, email string) error {
	if allowlist == "" {
		return fmt.Errorf("%s not set (example: %s=e2e@example.com)", AllowedAccountsVar, AllowedAccountsVar)
	}

	if email == "" {
		return fmt.Errorf("%s not set", emailVar)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), email) {
			return nil
		}
	}

	return fmt.Errorf("%s=%q is not in %s=%q", emailVar, email, AllowedAccountsVar, allowlist)
}

// RequireEnv returns the value of each variable, crashing with one message
// naming every missing one.
func RequireEnv(names ...string) map[string]string {
	values := make(map[string]string, len(names))

	var missing []string

	for _, n := range names {
		v := os.Getenv(n)
		if v == "" {
			missing = append(missing, n)
		}

		values[n] = v
	}

	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "FATAL: required environment variables not set: %s\n", strings.Join(missing, ", "))
		fmt.Fprintln(os.Stderr, "Set them in .env at the module root or in the environment.")
		os.Exit(1)
	}

	return values
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
