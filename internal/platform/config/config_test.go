package config

import (
	"testing"
	"time"

	kit "gharchive/internal/platform/testkit"
)

func TestPrefixAndKey(t *testing.T) {
	gha := New().Prefix("GHA_")
	if got := gha.key("IO_TIMEOUT"); got != "GHA_IO_TIMEOUT" {
		t.Fatalf("key() = %q, want %q", got, "GHA_IO_TIMEOUT")
	}
	if got := gha.Prefix("S3_").key("REGION"); got != "GHA_S3_REGION" {
		t.Fatalf("nested key() = %q", got)
	}
}

func TestMustString(t *testing.T) {
	c := New().Prefix("GHA_")
	t.Setenv("GHA_PG_DBURL", "  postgres://x ")
	if got := c.MustString("PG_DBURL"); got != "postgres://x" {
		t.Fatalf("MustString = %q", got)
	}
	kit.MustPanic(t, func() { _ = c.MustString("MISSING") })
}

func TestMustDuration(t *testing.T) {
	c := New().Prefix("D_")
	t.Setenv("D_TIMEOUT", " 250ms ")
	if got := c.MustDuration("TIMEOUT"); got != 250*time.Millisecond {
		t.Fatalf("MustDuration = %v", got)
	}
	t.Setenv("D_BAD", "nope")
	kit.MustPanic(t, func() { _ = c.MustDuration("BAD") })
}

func TestMustURL(t *testing.T) {
	c := New().Prefix("U_")
	t.Setenv("U_BASE", "https://data.gharchive.org")
	if u := c.MustURL("BASE"); u.Host != "data.gharchive.org" {
		t.Fatalf("MustURL host = %q", u.Host)
	}
	t.Setenv("U_REL", "/relative")
	kit.MustPanic(t, func() { _ = c.MustURL("REL") })
}

func TestMayFallbacks(t *testing.T) {
	c := New().Prefix("M_")
	t.Setenv("M_NAME", " tally ")
	t.Setenv("M_N", " 7 ")
	t.Setenv("M_NBAD", "x")
	t.Setenv("M_B", "true")
	t.Setenv("M_BBAD", "nope")
	t.Setenv("M_D", "150ms")
	t.Setenv("M_DBAD", "nope")

	if got := c.MayString("MISSING", "def"); got != "def" {
		t.Fatalf("MayString default = %q", got)
	}
	if got := c.MayString("NAME", "x"); got != "tally" {
		t.Fatalf("MayString = %q", got)
	}
	if got := c.MayInt("N", 0); got != 7 {
		t.Fatalf("MayInt = %d", got)
	}
	if got := c.MayInt("NBAD", 3); got != 3 {
		t.Fatalf("MayInt bad -> %d", got)
	}
	if !c.MayBool("B", false) || c.MayBool("BBAD", false) {
		t.Fatalf("MayBool mismatch")
	}
	if got := c.MayDuration("D", time.Second); got != 150*time.Millisecond {
		t.Fatalf("MayDuration = %v", got)
	}
	if got := c.MayDuration("DBAD", time.Minute); got != time.Minute {
		t.Fatalf("MayDuration bad -> %v", got)
	}
}

func TestMayEnum(t *testing.T) {
	c := New().Prefix("E_")
	if got := c.MayEnum("MISS", "skip", "skip", "fail"); got != "skip" {
		t.Fatalf("MayEnum default = %q", got)
	}
	t.Setenv("E_POLICY", "FAIL")
	if got := c.MayEnum("POLICY", "skip", "skip", "fail"); got != "fail" {
		t.Fatalf("MayEnum = %q, want fail", got)
	}
	if got := c.MayEnum("MISSING", "", "skip"); got != "" {
		t.Fatalf("MayEnum empty default = %q", got)
	}
	t.Setenv("E_BAD", "retry")
	kit.MustPanic(t, func() { _ = c.MayEnum("BAD", "skip", "skip", "fail") })
}
