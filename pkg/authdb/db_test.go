package authdb

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
}

func seedFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "passwd", "root:x:0:0:root:/root:/bin/bash\nalice:x:1000:1000:Alice:/home/alice:/bin/bash\n")
	writeFixture(t, dir, "shadow", "root:!:19000:0:99999:7:::\nalice:$6$abc:19000:0:99999:7:::\n")
	writeFixture(t, dir, "group", "root:x:0:\nalice:x:1000:\nwheel:x:10:alice\n")
	writeFixture(t, dir, "gshadow", "root:!::\nalice:!::\nwheel:!::alice\n")
	return dir
}

func TestUserAddRoundTrip(t *testing.T) {
	dir := seedFixtures(t)

	db, err := Open(dir, All)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	u := db.AddUser("new_user")
	u.UID = 500
	u.GID = 500
	u.Home = "/home/new_user"
	u.Shell = "/bin/sh"
	u.PasswordHash = "!"
	u.Changed = 19000
	u.Max = 99999
	u.Warn = 7

	g := db.AddGroup("new_user")
	g.GID = 500

	if err := db.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	reopened, err := Open(dir, All)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	found, err := reopened.FindUser("new_user", 0)
	if err != nil {
		t.Fatalf("find new_user: %v", err)
	}
	if found.UID != 500 || found.GID != 500 || found.Home != "/home/new_user" {
		t.Fatalf("round-tripped user mismatch: %+v", found)
	}

	for _, name := range []string{"passwd", "shadow"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		count := 0
		for _, line := range splitLines(string(data)) {
			if line == "" {
				continue
			}
			if hasPrefixColon(line, "new_user") {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("%s should contain exactly one new_user line, found %d", name, count)
		}
	}
}

func TestNextUIDSkipsUsed(t *testing.T) {
	dir := seedFixtures(t)
	db, err := Open(dir, All)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := db.NextUID(1000); got != 1001 {
		t.Fatalf("NextUID(1000) = %d, want 1001", got)
	}
	if got := db.NextUID(0); got != 1 {
		t.Fatalf("NextUID(0) = %d, want 1", got)
	}
}

func TestCredsOrdering(t *testing.T) {
	dir := seedFixtures(t)
	db, err := Open(dir, All)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	creds, err := db.Creds("alice")
	if err != nil {
		t.Fatalf("creds: %v", err)
	}
	if creds != "alice:alice:wheel" {
		t.Fatalf("creds = %q, want %q", creds, "alice:alice:wheel")
	}
}

func TestClosePoisonsDB(t *testing.T) {
	dir := seedFixtures(t)
	db, err := Open(dir, All)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Close()
	if _, err := db.FindUser("alice", 0); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestUserOnlyInOneFileRetained(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "passwd", "onlypw:x:2000:2000:Only PW:/home/onlypw:/bin/sh\n")
	writeFixture(t, dir, "shadow", "onlysh:!:19000:0:99999:7:::\n")
	db, err := Open(dir, Passwd|Shadow)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(db.Users) != 2 {
		t.Fatalf("expected 2 distinct users, got %d", len(db.Users))
	}
	pw, err := db.FindUser("onlypw", 0)
	if err != nil {
		t.Fatalf("find onlypw: %v", err)
	}
	if pw.State != Passwd {
		t.Fatalf("onlypw.State = %v, want Passwd only", pw.State)
	}
	sh, err := db.FindUser("onlysh", 0)
	if err != nil {
		t.Fatalf("find onlysh: %v", err)
	}
	if sh.State != Shadow {
		t.Fatalf("onlysh.State = %v, want Shadow only", sh.State)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}

func hasPrefixColon(s, prefix string) bool {
	return len(s) > len(prefix) && s[:len(prefix)] == prefix && s[len(prefix)] == ':'
}
