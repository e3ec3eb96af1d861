package authdb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	mobyuser "github.com/moby/sys/user"
	"golang.org/x/sys/unix"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// fileNames maps a DBKind bit to its filename under Root.
var fileNames = map[DBKind]string{
	Passwd:  "passwd",
	Shadow:  "shadow",
	Group:   "group",
	Gshadow: "gshadow",
}

// DB is the in-memory view of the requested authentication files rooted
// at a directory (almost always "/etc", overridden in tests and by the
// "authdb.root" pragma).
type DB struct {
	Root   string
	Dbs    DBKind
	Users  []*User
	Groups []*Group

	closed bool
}

// Open parses every file type set in dbs. The union of passwd and shadow
// records (joined by name) forms the user list; the union of group and
// gshadow forms the group list. A record present in only one of a pair is
// retained, its State reflecting exactly which files mentioned it.
func Open(root string, dbs DBKind) (*DB, error) {
	db := &DB{Root: root, Dbs: dbs}

	if dbs&Passwd != 0 {
		pwUsers, err := readPasswd(filepath.Join(root, fileNames[Passwd]))
		if err != nil {
			return nil, err
		}
		for _, u := range pwUsers {
			u.State |= Passwd
			db.Users = append(db.Users, u)
		}
	}
	if dbs&Shadow != 0 {
		shUsers, err := readShadow(filepath.Join(root, fileNames[Shadow]))
		if err != nil {
			return nil, err
		}
		for _, sh := range shUsers {
			if existing := db.findUserByName(sh.Name); existing != nil {
				mergeShadow(existing, sh)
			} else {
				sh.State |= Shadow
				db.Users = append(db.Users, sh)
			}
		}
	}

	if dbs&Group != 0 {
		grps, err := readGroup(filepath.Join(root, fileNames[Group]))
		if err != nil {
			return nil, err
		}
		for _, g := range grps {
			g.State |= Group
			db.Groups = append(db.Groups, g)
		}
	}
	if dbs&Gshadow != 0 {
		gshGroups, err := readGshadow(filepath.Join(root, fileNames[Gshadow]))
		if err != nil {
			return nil, err
		}
		for _, gsh := range gshGroups {
			if existing := db.findGroupByName(gsh.Name); existing != nil {
				existing.State |= Gshadow
				existing.PasswordHash = gsh.PasswordHash
				existing.RawAdmins = gsh.RawAdmins
			} else {
				gsh.State |= Gshadow
				db.Groups = append(db.Groups, gsh)
			}
		}
	}

	return db, nil
}

func mergeShadow(u *User, sh *User) {
	u.State |= Shadow
	u.PasswordHash = sh.PasswordHash
	u.Changed = sh.Changed
	u.Min = sh.Min
	u.Max = sh.Max
	u.Warn = sh.Warn
	u.Inact = sh.Inact
	u.Expire = sh.Expire
	u.Flags = sh.Flags
}

func (db *DB) findUserByName(name string) *User {
	for _, u := range db.Users {
		if u.Name == name {
			return u
		}
	}
	return nil
}

func (db *DB) findGroupByName(name string) *Group {
	for _, g := range db.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// FindUser returns the first record whose name equals name (when
// non-empty) or whose uid equals uid otherwise.
func (db *DB) FindUser(name string, uid int) (*User, error) {
	if db.closed {
		return nil, errdefs.ErrFailedPrecondition
	}
	for _, u := range db.Users {
		if name != "" {
			if u.Name == name {
				return u, nil
			}
			continue
		}
		if u.UID == uid {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: user", errdefs.ErrNotFound)
}

// FindGroup is FindUser's analogue for groups.
func (db *DB) FindGroup(name string, gid int) (*Group, error) {
	if db.closed {
		return nil, errdefs.ErrFailedPrecondition
	}
	for _, g := range db.Groups {
		if name != "" {
			if g.Name == name {
				return g, nil
			}
			continue
		}
		if g.GID == gid {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: group", errdefs.ErrNotFound)
}

// AddUser appends and returns a new empty record, with State set to every
// file type this DB was opened with (so Write emits it everywhere).
func (db *DB) AddUser(name string) *User {
	u := &User{Name: name, State: db.Dbs & (Passwd | Shadow)}
	db.Users = append(db.Users, u)
	return u
}

// AddGroup is AddUser's analogue for groups.
func (db *DB) AddGroup(name string) *Group {
	g := &Group{Name: name, State: db.Dbs & (Group | Gshadow)}
	db.Groups = append(db.Groups, g)
	return g
}

// RemoveUser detaches the named user from the DB.
func (db *DB) RemoveUser(name string) {
	for i, u := range db.Users {
		if u.Name == name {
			db.Users = append(db.Users[:i], db.Users[i+1:]...)
			return
		}
	}
}

// RemoveGroup detaches the named group from the DB.
func (db *DB) RemoveGroup(name string) {
	for i, g := range db.Groups {
		if g.Name == name {
			db.Groups = append(db.Groups[:i], db.Groups[i+1:]...)
			return
		}
	}
}

// NextUID returns the smallest integer >= start not used by any existing
// user, iterating until a free slot is found.
func (db *DB) NextUID(start int) int {
	used := make(map[int]bool, len(db.Users))
	for _, u := range db.Users {
		used[u.UID] = true
	}
	for id := start; ; id++ {
		if !used[id] {
			return id
		}
	}
}

// NextGID is NextUID's analogue for groups.
func (db *DB) NextGID(start int) int {
	used := make(map[int]bool, len(db.Groups))
	for _, g := range db.Groups {
		used[g.GID] = true
	}
	for id := start; ; id++ {
		if !used[id] {
			return id
		}
	}
}

// Creds returns "username:primary-group:group1:group2:..." by
// concatenating the user's primary group name and every supplementary
// group membership, in the order groups appear in the group file.
func (db *DB) Creds(username string) (string, error) {
	u, err := db.FindUser(username, 0)
	if err != nil {
		return "", err
	}
	parts := []string{username}
	if pg, err := db.FindGroup("", u.GID); err == nil {
		parts = append(parts, pg.Name)
	}
	for _, g := range db.Groups {
		if g.GID == u.GID {
			continue
		}
		for _, m := range g.Members() {
			if m == username {
				parts = append(parts, g.Name)
				break
			}
		}
	}
	return strings.Join(parts, ":"), nil
}

// Close frees the in-memory records (the Open Question decision in
// DESIGN.md: unlike the C original's no-op authdb_close, this actually
// frees state and poisons further use).
func (db *DB) Close() {
	db.Users = nil
	db.Groups = nil
	db.closed = true
}

// --- file parsing ---

func readPasswd(path string) ([]*User, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := mobyuser.ParsePasswd(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errdefs.ErrInvalidArgument, path, err)
	}
	users := make([]*User, 0, len(records))
	for _, r := range records {
		users = append(users, &User{
			Name:          r.Name,
			UID:           r.Uid,
			GID:           r.Gid,
			Comment:       r.Gecos,
			Home:          r.Home,
			Shell:         r.Shell,
			ClearPassword: r.Pass,
		})
	}
	return users, nil
}

func readGroup(path string) ([]*Group, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := mobyuser.ParseGroup(f)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errdefs.ErrInvalidArgument, path, err)
	}
	groups := make([]*Group, 0, len(records))
	for _, r := range records {
		groups = append(groups, &Group{
			Name:          r.Name,
			GID:           r.Gid,
			RawMembers:    strings.Join(r.List, ","),
			ClearPassword: r.Pass,
		})
	}
	return groups, nil
}

// readShadow and readGshadow hand-roll colon-record parsing: moby/sys/user
// covers only the two world-readable files (passwd, group); shadow and
// gshadow are root-only and not exposed by that package, so they follow
// the same colon-splitting convention directly here.
func readShadow(path string) ([]*User, error) {
	lines, err := readColonLines(path)
	if err != nil || lines == nil {
		return nil, err
	}
	users := make([]*User, 0, len(lines))
	for lineNo, fields := range lines {
		if len(fields) < 9 {
			return nil, fmt.Errorf("%w: %s line %d: expected 9 fields, got %d", errdefs.ErrInvalidArgument, path, lineNo+1, len(fields))
		}
		u := &User{Name: fields[0], PasswordHash: fields[1]}
		u.Changed, err = parseIntField(path, lineNo, fields[2])
		if err != nil {
			return nil, err
		}
		u.Min, err = parseIntField(path, lineNo, fields[3])
		if err != nil {
			return nil, err
		}
		u.Max, err = parseIntField(path, lineNo, fields[4])
		if err != nil {
			return nil, err
		}
		u.Warn, err = parseIntField(path, lineNo, fields[5])
		if err != nil {
			return nil, err
		}
		u.Inact, err = parseIntField(path, lineNo, fields[6])
		if err != nil {
			return nil, err
		}
		u.Expire, err = parseIntField(path, lineNo, fields[7])
		if err != nil {
			return nil, err
		}
		u.Flags, err = parseIntField(path, lineNo, fields[8])
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func readGshadow(path string) ([]*Group, error) {
	lines, err := readColonLines(path)
	if err != nil || lines == nil {
		return nil, err
	}
	groups := make([]*Group, 0, len(lines))
	for lineNo, fields := range lines {
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: %s line %d: expected 4 fields, got %d", errdefs.ErrInvalidArgument, path, lineNo+1, len(fields))
		}
		groups = append(groups, &Group{
			Name:         fields[0],
			PasswordHash: fields[1],
			RawAdmins:    fields[2],
			RawMembers:   fields[3],
		})
	}
	return groups, nil
}

// parseIntField is the strict replacement for the C original's atoi:
// overflow or non-numeric content is a file-level error rather than
// silently-wrong data (DESIGN.md Open Question 1). An empty aging field
// is valid and parses to -1 ("unset"), matching shadow(5) semantics.
func parseIntField(path string, lineNo int, s string) (int, error) {
	if s == "" {
		return -1, nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s line %d: bad integer field %q", errdefs.ErrInvalidArgument, path, lineNo+1, s)
	}
	return int(v), nil
}

func readColonLines(path string) ([][]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		out = append(out, strings.Split(line, ":"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// --- writing ---

// Write emits each enabled file to a sibling dotfile with a random hex
// suffix and renames it into place. If any per-file write fails, nothing
// is renamed and the first error is returned.
func (db *DB) Write() error {
	if db.closed {
		return errdefs.ErrFailedPrecondition
	}
	var plan []writePlanEntry

	write := func(name DBKind, render func(w io.Writer) error) error {
		if db.Dbs&name == 0 {
			return nil
		}
		final := filepath.Join(db.Root, fileNames[name])
		suffix, err := randomHex(6)
		if err != nil {
			return err
		}
		temp := filepath.Join(db.Root, "."+fileNames[name]+"."+suffix)
		f, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := render(f); err != nil {
			os.Remove(temp)
			return err
		}
		plan = append(plan, writePlanEntry{final: final, temp: temp})
		return nil
	}

	if err := write(Passwd, db.renderPasswd); err != nil {
		return cleanupFailedWrite(plan, err)
	}
	if err := write(Shadow, db.renderShadow); err != nil {
		return cleanupFailedWrite(plan, err)
	}
	if err := write(Group, db.renderGroup); err != nil {
		return cleanupFailedWrite(plan, err)
	}
	if err := write(Gshadow, db.renderGshadow); err != nil {
		return cleanupFailedWrite(plan, err)
	}

	for _, p := range plan {
		if err := os.Rename(p.temp, p.final); err != nil {
			return fmt.Errorf("renaming %s into place: %w", p.final, err)
		}
	}
	return nil
}

type writePlanEntry struct {
	final, temp string
}

func cleanupFailedWrite(plan []writePlanEntry, cause error) error {
	for _, p := range plan {
		os.Remove(p.temp)
	}
	return cause
}

func (db *DB) renderPasswd(w io.Writer) error {
	for _, u := range db.Users {
		if u.State&Passwd == 0 {
			continue
		}
		pass := u.ClearPassword
		if pass == "" {
			pass = "x"
		}
		if _, err := fmt.Fprintf(w, "%s:%s:%d:%d:%s:%s:%s\n",
			u.Name, pass, u.UID, u.GID, u.Comment, u.Home, u.Shell); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) renderShadow(w io.Writer) error {
	for _, u := range db.Users {
		if u.State&Shadow == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s:%s:%s:%s:%s:%s:%s:%s:%s\n",
			u.Name, u.PasswordHash,
			agingField(u.Changed), agingField(u.Min), agingField(u.Max),
			agingField(u.Warn), agingField(u.Inact), agingField(u.Expire),
			agingField(u.Flags)); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) renderGroup(w io.Writer) error {
	for _, g := range db.Groups {
		if g.State&Group == 0 {
			continue
		}
		pass := g.ClearPassword
		if pass == "" {
			pass = "x"
		}
		if _, err := fmt.Fprintf(w, "%s:%s:%d:%s\n", g.Name, pass, g.GID, g.RawMembers); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) renderGshadow(w io.Writer) error {
	for _, g := range db.Groups {
		if g.State&Gshadow == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s:%s:%s:%s\n", g.Name, g.PasswordHash, g.RawAdmins, g.RawMembers); err != nil {
			return err
		}
	}
	return nil
}

func agingField(v int) string {
	if v < 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := readRandom(buf); err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, n*2)
	for i, b := range buf {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0xF]
	}
	return string(out), nil
}

// readRandom wraps unix.Getrandom; flags=0 blocks until the pool is
// seeded (acceptable here: this happens once per AuthDB.Write call, not
// in a hot loop).
func readRandom(buf []byte) (int, error) {
	return unix.Getrandom(buf, 0)
}
