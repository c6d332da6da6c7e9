//go:build e2e

// Package e2e drives the built mseval binary against a live backend. It needs
// MSEVAL_E2E_BASE_URL, MSEVAL_E2E_EMAIL and MSEVAL_E2E_PASSWORD, and the
// account must be listed in MSEVAL_ALLOWED_TEST_ACCOUNTS. Values may come
// from a .env file at the module root.
//
//	go test -tags e2e ./e2e/
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mseval/internal/manuscript/manuscripttest"
	"github.com/tonimelisma/mseval/testutil"
)

const (
	envBaseURL  = "MSEVAL_E2E_BASE_URL"
	envEmail    = "MSEVAL_E2E_EMAIL"
	envPassword = "MSEVAL_E2E_PASSWORD"
)

var (
	binaryPath string
	email      string
	password   string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	env := testutil.RequireEnv(envBaseURL, envEmail, envPassword)
	testutil.ValidateAllowlist(envEmail)

	email, password = env[envEmail], env[envPassword]

	// Build binary to temp dir.
	tmpDir, err := os.MkdirTemp("", "mseval-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "mseval")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	cleanup := setupIsolation()
	os.Setenv("MSEVAL_BASE_URL", env[envBaseURL])

	code := m.Run()

	cleanup()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// runCLIResult runs the binary and returns its output and error.
func runCLIResult(stdin string, args ...string) (string, string, error) {
	cmd := exec.Command(binaryPath, args...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// runCLI runs the binary and fails the test on a non-zero exit.
func runCLI(t *testing.T, stdin string, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := runCLIResult(stdin, args...)
	if err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func TestE2E_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	manuscript := filepath.Join(dir, fmt.Sprintf("mseval-e2e-%d.pdf", time.Now().UnixNano()))
	require.NoError(t, os.WriteFile(manuscript, manuscripttest.PDF(3, 0), 0o600))

	var evaluationID string

	t.Cleanup(func() {
		// Best-effort cleanup: delete what the test created, then log out.
		if evaluationID != "" {
			_, _, _ = runCLIResult("", "rm", evaluationID)
		}

		_, _, _ = runCLIResult("", "logout")
	})

	t.Run("login", func(t *testing.T) {
		_, stderr := runCLI(t, password+"\n", "login", "--email", email)
		assert.Contains(t, stderr, "Logged in as")
		assert.FileExists(t, sessionFile)
	})

	t.Run("status", func(t *testing.T) {
		stdout, _ := runCLI(t, "", "status", "--json")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Equal(t, true, out["logged_in"])
		assert.Equal(t, "valid", out["token_state"])
	})

	t.Run("whoami", func(t *testing.T) {
		stdout, _ := runCLI(t, "", "whoami", "--json")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.True(t, strings.EqualFold(email, fmt.Sprint(out["email"])))
	})

	t.Run("evaluate_wait", func(t *testing.T) {
		stdout, _ := runCLI(t, "", "evaluate", manuscript, "--wait", "--json")

		var out struct {
			ID     json.RawMessage `json:"id"`
			Status string          `json:"status"`
		}

		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		require.NotEmpty(t, out.ID)
		assert.Equal(t, "completed", out.Status)

		evaluationID = strings.Trim(string(out.ID), `"`)
	})

	t.Run("list", func(t *testing.T) {
		require.NotEmpty(t, evaluationID, "evaluate_wait must run first")

		stdout, _ := runCLI(t, "", "list", "--all")
		assert.Contains(t, stdout, filepath.Base(manuscript))
	})

	t.Run("download", func(t *testing.T) {
		require.NotEmpty(t, evaluationID, "evaluate_wait must run first")

		out := t.TempDir()
		runCLI(t, "", "download", evaluationID, "--dir", out)

		data, err := os.ReadFile(filepath.Join(out, "evaluation-"+evaluationID+"-report.pdf"))
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

		stdout, _ := runCLI(t, "", "downloads", evaluationID)
		assert.Contains(t, stdout, out)
	})

	t.Run("rm", func(t *testing.T) {
		require.NotEmpty(t, evaluationID, "evaluate_wait must run first")

		runCLI(t, "", "rm", evaluationID)

		_, _, err := runCLIResult("", "show", evaluationID)
		assert.Error(t, err, "deleted evaluation should not be found")

		evaluationID = ""
	})

	t.Run("logout", func(t *testing.T) {
		runCLI(t, "", "logout")
		assert.NoFileExists(t, sessionFile)

		_, _, err := runCLIResult("", "whoami")
		assert.Error(t, err)
	})
}

func TestE2E_BadPassword(t *testing.T) {
	_, stderr, err := runCLIResult("definitely-wrong-password\n", "login", "--email", email)
	require.Error(t, err)
	assert.Contains(t, stderr, "Error:")
}
