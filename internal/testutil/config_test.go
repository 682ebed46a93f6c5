package testutil

import (
	"strings"
	"testing"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to local test database port 55432", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(k, "")
		}

		cfg := DefaultTestDBConfig()
		want := TestDBConfig{Host: "localhost", Port: "55432", User: "kerdos", Password: "kerdos", DBName: "kerdos"}
		if cfg != want {
			t.Errorf("expected %+v, got %+v", want, cfg)
		}
	})

	t.Run("respects TEST_DB_* environment variables", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		t.Setenv("TEST_DB_USER", "ci")
		t.Setenv("TEST_DB_PASSWORD", "ci-pass")
		t.Setenv("TEST_DB_NAME", "kerdos_ci")

		cfg := DefaultTestDBConfig()
		want := TestDBConfig{Host: "postgres", Port: "5432", User: "ci", Password: "ci-pass", DBName: "kerdos_ci"}
		if cfg != want {
			t.Errorf("expected %+v, got %+v", want, cfg)
		}
	})
}

func TestEnvBool(t *testing.T) {
	t.Setenv("KERDOS_TEST_FLAG", "Yes")
	if !envBool("KERDOS_TEST_FLAG") {
		t.Fatal("expected Yes to be truthy")
	}
	t.Setenv("KERDOS_TEST_FLAG", "0")
	if envBool("KERDOS_TEST_FLAG") {
		t.Fatal("expected 0 to be falsy")
	}
}

func TestTestDBConfigDSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "kerdos", Password: "p@ss", DBName: "kerdos"}

	if got, want := cfg.DSN(""), "postgres://kerdos:p%40ss@db:5432/kerdos?sslmode=disable"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := cfg.DSN("t_abc"); !strings.Contains(got, "search_path=t_abc%2Cpublic") {
		t.Errorf("expected schema search_path in %q", got)
	}
}
