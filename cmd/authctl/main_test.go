package main

import (
	"bytes"
	"strings"
	"testing"

	"eduportal.org/internal/auth"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHashPasswordFromArg(t *testing.T) {
	out, err := execute(t, "", "hash-password", "s3cret-pass")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := auth.VerifyPassword(hash, "s3cret-pass"); err != nil {
		t.Fatalf("printed hash does not verify: %v", err)
	}
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, err := execute(t, "from-stdin\n", "hash-password")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if err := auth.VerifyPassword(strings.TrimSpace(out), "from-stdin"); err != nil {
		t.Fatalf("printed hash does not verify: %v", err)
	}
}

func TestHashPasswordEmptyStdin(t *testing.T) {
	if _, err := execute(t, "", "hash-password"); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestDatabaseCommandsRequireDSN(t *testing.T) {
	for _, args := range [][]string{
		{"migrate", "status"},
		{"user", "disable", "u1"},
		{"permissions", "sync"},
	} {
		_, err := execute(t, "", args...)
		if err == nil || !strings.Contains(err.Error(), "missing DSN") {
			t.Fatalf("%v: expected missing DSN error, got %v", args, err)
		}
	}
}

func TestUserCreateRequiresEmail(t *testing.T) {
	if _, err := execute(t, "pw\n", "user", "create"); err == nil {
		t.Fatal("expected required flag error")
	}
}
