package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yllada/vpn-rotator/common"
)

func writeAuthFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "auth.txt")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
	// WriteFile respects the umask; force the exact mode.
	if err := os.Chmod(path, perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateAuthFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		perm    os.FileMode
		wantErr bool
	}{
		{"valid", "user\npassword\n", 0600, false},
		{"valid without trailing newline", "user\npassword", 0600, false},
		{"world readable", "user\npassword\n", 0644, true},
		{"group readable", "user\npassword\n", 0640, true},
		{"single line", "useronly\n", 0600, true},
		{"three lines", "user\npassword\nextra\n", 0600, true},
		{"empty username", "\npassword\n", 0600, true},
		{"blank password line", "user\n   \n", 0600, true},
		{"empty file", "", 0600, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeAuthFile(t, tt.content, tt.perm)

			err := ValidateAuthFile(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAuthFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, common.ErrInvalidAuthFile) {
				t.Errorf("error = %v, want ErrInvalidAuthFile sentinel", err)
			}
		})
	}
}

func TestValidateAuthFile_Missing(t *testing.T) {
	err := ValidateAuthFile(filepath.Join(t.TempDir(), "auth.txt"))
	if err == nil {
		t.Fatal("ValidateAuthFile() should fail for a missing file")
	}
	if !errors.Is(err, common.ErrInvalidAuthFile) {
		t.Errorf("error = %v, want ErrInvalidAuthFile sentinel", err)
	}
}

func TestNew_LoadsConfig(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if c.cfg == nil {
		t.Fatal("New() should load the configuration")
	}
	if c.installDir != dir {
		t.Errorf("installDir = %q, want %q", c.installDir, dir)
	}
}

func TestHistory_NoDatabase(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// No history database exists yet; this must not be an error.
	if err := c.History(10); err != nil {
		t.Errorf("History() error = %v, want nil for missing database", err)
	}
}
