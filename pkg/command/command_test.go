package command

import "testing"

func TestParseCanonicalization(t *testing.T) {
	c, err := Parse(`  show   acl for %group  `, Exact)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"show", "acl", "for", "%group"}
	if len(c.Tokens) != len(want) {
		t.Fatalf("tokens = %+v, want %v", c.Tokens, want)
	}
	for i, w := range want {
		if c.Tokens[i].Text != w {
			t.Fatalf("token %d = %q, want %q", i, c.Tokens[i].Text, w)
		}
	}
	if c.Canonical() != "show acl for %group" {
		t.Fatalf("canonical = %q", c.Canonical())
	}
}

func TestCanonicalFixedPoint(t *testing.T) {
	inputs := []string{
		`  show   acl for %group  `,
		`say "hello world"`,
		`say hello\ world`,
		`quote "with \"escaped\" text"`,
	}
	for _, s := range inputs {
		c1, err := Parse(s, Exact)
		if err != nil {
			t.Fatalf("parse(%q): %v", s, err)
		}
		c2, err := Parse(c1.Canonical(), Exact)
		if err != nil {
			t.Fatalf("re-parse(%q): %v", c1.Canonical(), err)
		}
		c3, err := Parse(c2.Canonical(), Exact)
		if err != nil {
			t.Fatalf("re-parse2: %v", err)
		}
		if c2.Canonical() != c3.Canonical() {
			t.Fatalf("not a fixed point: %q != %q", c2.Canonical(), c3.Canonical())
		}
	}
}

func TestWildcardMatch(t *testing.T) {
	pattern, err := Parse("show *", Pattern)
	if err != nil {
		t.Fatalf("parse pattern: %v", err)
	}
	cases := []struct {
		cmd   string
		match bool
	}{
		{"show version", true},
		{"show", true},
		{"ping", false},
	}
	for _, tc := range cases {
		cmd, err := Parse(tc.cmd, Exact)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.cmd, err)
		}
		if got := Match(cmd, pattern); got != tc.match {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.cmd, "show *", got, tc.match)
		}
	}
}

func TestWildcardMatchesEmptyRemainder(t *testing.T) {
	pattern, err := Parse("show *", Pattern)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmd, err := Parse("show", Exact)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !Match(cmd, pattern) {
		t.Fatalf("expected wildcard to match zero remaining tokens")
	}
}

func TestWildcardOnlyMatchesEverything(t *testing.T) {
	pattern, err := Parse("*", Pattern)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, s := range []string{"", "anything at all", "a b c"} {
		cmd, err := Parse(s, Exact)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if !Match(cmd, pattern) {
			t.Errorf("expected %q to match bare wildcard", s)
		}
	}
}

func TestWildcardMustBeTerminal(t *testing.T) {
	if _, err := Parse("* show", Pattern); err == nil {
		t.Fatalf("expected error for non-terminal wildcard")
	}
}

func TestMatchWithoutWildcardRequiresEquality(t *testing.T) {
	a, _ := Parse("show version", Exact)
	b, _ := Parse("show version", Pattern)
	if !Match(a, b) {
		t.Fatalf("identical token sequences must match")
	}
	c, _ := Parse("show versions", Pattern)
	if Match(a, c) {
		t.Fatalf("differing tokens must not match")
	}
}

func TestUnbalancedQuoteFails(t *testing.T) {
	if _, err := Parse(`say "oops`, Exact); err == nil {
		t.Fatalf("expected error for unbalanced quote")
	}
}
