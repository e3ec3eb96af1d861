package command

import (
	"bytes"
	"testing"
)

func mustRule(t *testing.T, line string) Rule {
	t.Helper()
	r, ok := ParseRule(line)
	if !ok {
		t.Fatalf("ParseRule(%q) failed", line)
	}
	return r
}

func TestACLPrecedenceFirstFinalRuleWins(t *testing.T) {
	rules := List{
		mustRule(t, `allow %sys "*" final`),
		mustRule(t, `deny %dev "show *"`),
		mustRule(t, `allow juser "show version"`),
	}
	cmd, err := Parse("show version", Exact)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := rules.Check(Principal("juser:sys:dev"), cmd)
	if got != Allow {
		t.Fatalf("Check = %v, want Allow (first rule is final)", got)
	}
}

func TestACLDenyAlwaysFinal(t *testing.T) {
	rules := List{
		mustRule(t, `deny %dev "show *"`),
		mustRule(t, `allow %dev "show version"`),
	}
	cmd, _ := Parse("show version", Exact)
	got := rules.Check(Principal("juser:dev"), cmd)
	if got != Deny {
		t.Fatalf("Check = %v, want Deny", got)
	}
}

func TestACLNoMatchIsNeutral(t *testing.T) {
	rules := List{mustRule(t, `allow otheruser "show version"`)}
	cmd, _ := Parse("show version", Exact)
	if got := rules.Check(Principal("juser:dev"), cmd); got != Neutral {
		t.Fatalf("Check = %v, want Neutral", got)
	}
}

func TestParseRuleRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"allow",
		"maybe user \"cmd\"",
		`allow user unquoted`,
	} {
		if _, ok := ParseRule(line); ok {
			t.Errorf("ParseRule(%q) unexpectedly succeeded", line)
		}
	}
}

func TestACLRoundTrip(t *testing.T) {
	rules := List{
		mustRule(t, `allow %sys "*" final`),
		mustRule(t, `deny %dev "show *"`),
	}
	var buf bytes.Buffer
	if err := WriteACL(&buf, rules); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadACL(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(rules) {
		t.Fatalf("round trip rule count = %d, want %d", len(got), len(rules))
	}
	for i := range rules {
		if got[i].Canonical() != rules[i].Canonical() {
			t.Errorf("rule %d = %q, want %q", i, got[i].Canonical(), rules[i].Canonical())
		}
	}
}
