package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLIForTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `
service:
  log_level: debug
connections:
  - type: vicon
    name: Stage
    hostname: 10.0.0.5
  - type: unicorn
  - name: orphan
`

func TestVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05+02:00")

	code, stdout, _ := runCLIForTest(t, "version", "--json")
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T01:04:05Z", info.BuildTime)
}

func TestVersionRejectsArguments(t *testing.T) {
	code, _, stderr := runCLIForTest(t, "version", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: lmcbridge version")
}

func TestUnknownCommand(t *testing.T) {
	code, stdout, stderr := runCLIForTest(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
	assert.Contains(t, stdout, "Usage:")
}

func TestNounHelp(t *testing.T) {
	code, stdout, _ := runCLIForTest(t, "system", "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Actions: start, watch")

	code, _, stderr := runCLIForTest(t, "config")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Actions: check, show")

	code, _, stderr = runCLIForTest(t, "system", "explode")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown system action: explode")
}

func TestConfigCheckReportsFingerprintAndWarnings(t *testing.T) {
	path := writeConfig(t, validConfig)

	code, stdout, _ := runCLIForTest(t, "config", "check", "--config", path, "--json")
	require.Equal(t, 0, code, stdout)

	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Connections)
	assert.Len(t, report.Fingerprint, 64)
	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], `unknown type "unicorn"`)
	assert.Contains(t, report.Warnings[1], "no type")
}

func TestConfigCheckAcceptsDirectory(t *testing.T) {
	path := writeConfig(t, validConfig)

	code, stdout, _ := runCLIForTest(t, "config", "check", "--config", filepath.Dir(path))
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Status: Configuration check PASSED.")
	assert.Contains(t, stdout, "BLAKE3: ")
}

func TestConfigCheckFailsOnInvalidConfig(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: loud\n")

	code, stdout, _ := runCLIForTest(t, "config", "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "log_level")
	assert.Contains(t, stdout, "FAILED")
}

func TestConfigShowKeepsConnectionOrder(t *testing.T) {
	path := writeConfig(t, validConfig)

	code, stdout, _ := runCLIForTest(t, "config", "show", "--config", path, "--json")
	require.Equal(t, 0, code)
	assertOrdered(t, stdout, `"type": "vicon"`, `"name": "Stage"`, `"hostname": "10.0.0.5"`)

	code, stdout, _ = runCLIForTest(t, "config", "show", "--config", path)
	require.Equal(t, 0, code)
	assertOrdered(t, stdout, "type: vicon", "name: Stage", "hostname: 10.0.0.5")
	assert.Contains(t, stdout, "termination_grace: 5s")
}

func TestDriverUsageError(t *testing.T) {
	code, stdout, stderr := runCLIForTest(t, "driver")
	assert.Equal(t, 2, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "the following arguments are required: type")
}

func TestDriverReportsUnsupportedType(t *testing.T) {
	code, stdout, _ := runCLIForTest(t, "driver", "vicon", "-p", "hostname=10.0.0.5")
	assert.Equal(t, 1, code)

	var record map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stdout)), &record))
	assert.Contains(t, record["error"], "unsupported mocap type")
}

func TestWatchRequiresAPIKey(t *testing.T) {
	t.Setenv("LMCBRIDGE_API_KEY", "")

	code, _, stderr := runCLIForTest(t, "system", "watch")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "API key required")
}

func assertOrdered(t *testing.T, s string, parts ...string) {
	t.Helper()
	last := -1
	for _, p := range parts {
		i := strings.Index(s, p)
		require.GreaterOrEqual(t, i, 0, "missing %q in:\n%s", p, s)
		assert.Greater(t, i, last, "%q out of order", p)
		last = i
	}
}
