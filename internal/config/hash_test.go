package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFingerprint(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("connections: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint() failed: %v", err)
	}
	if len(got) != 64 {
		t.Fatalf("len(Fingerprint()) = %d, want 64 hex chars", len(got))
	}
	if want := FingerprintBytes([]byte("connections: []\n")); got != want {
		t.Fatalf("Fingerprint() = %s, want %s", got, want)
	}

	if FingerprintBytes([]byte("a")) == FingerprintBytes([]byte("b")) {
		t.Fatal("different inputs produced the same fingerprint")
	}
}

func TestFingerprintKnownVector(t *testing.T) {
	// BLAKE3 of the empty input.
	const want = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if got := FingerprintBytes(nil); got != want {
		t.Fatalf("FingerprintBytes(nil) = %s, want %s", got, want)
	}
}

func TestFingerprintMissingFile(t *testing.T) {
	if _, err := Fingerprint(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
