package vm

import "github.com/clockwork-mesh/clockwork/pkg/authdb"

var authdbBuiltins = map[string]bool{}

func init() {
	for _, n := range []string{
		"authdb.open", "authdb.save", "authdb.close", "authdb.nextuid", "authdb.nextgid",
		"user.find", "user.get", "user.set", "user.new", "user.delete",
		"group.find", "group.get", "group.set", "group.new", "group.delete",
	} {
		authdbBuiltins[n] = true
	}
}

func isAuthdbBuiltin(name string) bool { return authdbBuiltins[name] }

// execAuthdbBuiltin implements authdb.*, user.*, and group.*. The open
// database, the current "found" user, and the current "found" group are
// each a single slot (mirroring the C original's global authdb_t), so
// user.get/set always act on the record from the last user.find/new.
func (v *VM) execAuthdbBuiltin(name string) error {
	switch name {
	case "authdb.open":
		root := v.pragma["authdb.root"]
		if root == "" {
			root = "/etc"
		}
		mask := authdb.DBKind(v.regVal(regA))
		if mask == 0 {
			mask = authdb.All
		}
		db, err := authdb.Open(root, mask)
		if err != nil {
			v.fail()
			return nil
		}
		v.db = db
		v.dbRoot = root
		v.ok()
		return nil

	case "authdb.save":
		if v.db == nil {
			v.fail()
			return nil
		}
		if err := v.db.Write(); err != nil {
			v.fail()
			return nil
		}
		v.ok()
		return nil

	case "authdb.close":
		if v.db != nil {
			v.db.Close()
			v.db = nil
		}
		v.curUser = nil
		v.curGroup = nil
		v.ok()
		return nil

	case "authdb.nextuid":
		if v.db == nil {
			v.fail()
			return nil
		}
		v.setResultVal(uint32(v.db.NextUID(int(v.regVal(regA)))))
		v.ok()
		return nil

	case "authdb.nextgid":
		if v.db == nil {
			v.fail()
			return nil
		}
		v.setResultVal(uint32(v.db.NextGID(int(v.regVal(regA)))))
		v.ok()
		return nil

	case "user.find":
		if v.db == nil {
			v.fail()
			return nil
		}
		u, err := v.db.FindUser(v.regStr(regA), 0)
		if err != nil {
			v.curUser = nil
			v.fail()
			return nil
		}
		v.curUser = u
		v.ok()
		return nil

	case "user.new":
		if v.db == nil {
			v.fail()
			return nil
		}
		v.curUser = v.db.AddUser(v.regStr(regA))
		v.ok()
		return nil

	case "user.delete":
		if v.db == nil {
			v.fail()
			return nil
		}
		v.db.RemoveUser(v.regStr(regA))
		v.curUser = nil
		v.ok()
		return nil

	case "user.get":
		return v.userGet(v.regStr(regA))
	case "user.set":
		return v.userSet(v.regStr(regA), v.regStr(regB), v.regVal(regB))

	case "group.find":
		if v.db == nil {
			v.fail()
			return nil
		}
		g, err := v.db.FindGroup(v.regStr(regA), 0)
		if err != nil {
			v.curGroup = nil
			v.fail()
			return nil
		}
		v.curGroup = g
		v.ok()
		return nil

	case "group.new":
		if v.db == nil {
			v.fail()
			return nil
		}
		v.curGroup = v.db.AddGroup(v.regStr(regA))
		v.ok()
		return nil

	case "group.delete":
		if v.db == nil {
			v.fail()
			return nil
		}
		v.db.RemoveGroup(v.regStr(regA))
		v.curGroup = nil
		v.ok()
		return nil

	case "group.get":
		return v.groupGet(v.regStr(regA))
	case "group.set":
		return v.groupSet(v.regStr(regA), v.regStr(regB), v.regVal(regB))
	}
	return nil
}

func (v *VM) userGet(key string) error {
	u := v.curUser
	if u == nil {
		v.fail()
		return nil
	}
	switch key {
	case "uid":
		v.setResultVal(uint32(u.UID))
	case "gid":
		v.setResultVal(uint32(u.GID))
	case "username":
		v.setResult(u.Name)
	case "comment":
		v.setResult(u.Comment)
	case "home":
		v.setResult(u.Home)
	case "shell":
		v.setResult(u.Shell)
	case "password":
		v.setResult(u.ClearPassword)
	case "pwhash":
		v.setResult(u.PasswordHash)
	case "changed":
		v.setResultVal(uint32(u.Changed))
	case "pwmin":
		v.setResultVal(uint32(u.Min))
	case "pwmax":
		v.setResultVal(uint32(u.Max))
	case "pwwarn":
		v.setResultVal(uint32(u.Warn))
	case "inact":
		v.setResultVal(uint32(u.Inact))
	case "expiry":
		v.setResultVal(uint32(u.Expire))
	default:
		v.fail()
		return nil
	}
	v.ok()
	return nil
}

func (v *VM) userSet(key, strVal string, numVal uint32) error {
	u := v.curUser
	if u == nil {
		v.fail()
		return nil
	}
	switch key {
	case "uid":
		u.UID = int(numVal)
	case "gid":
		u.GID = int(numVal)
	case "username":
		u.Name = strVal
	case "comment":
		u.Comment = strVal
	case "home":
		u.Home = strVal
	case "shell":
		u.Shell = strVal
	case "password":
		u.ClearPassword = strVal
	case "pwhash":
		u.PasswordHash = strVal
	case "changed":
		u.Changed = int(numVal)
	case "pwmin":
		u.Min = int(numVal)
	case "pwmax":
		u.Max = int(numVal)
	case "pwwarn":
		u.Warn = int(numVal)
	case "inact":
		u.Inact = int(numVal)
	case "expiry":
		u.Expire = int(numVal)
	default:
		v.fail()
		return nil
	}
	v.ok()
	return nil
}

func (v *VM) groupGet(key string) error {
	g := v.curGroup
	if g == nil {
		v.fail()
		return nil
	}
	switch key {
	case "gid":
		v.setResultVal(uint32(g.GID))
	case "name":
		v.setResult(g.Name)
	case "password":
		v.setResult(g.ClearPassword)
	case "pwhash":
		v.setResult(g.PasswordHash)
	default:
		v.fail()
		return nil
	}
	v.ok()
	return nil
}

func (v *VM) groupSet(key, strVal string, numVal uint32) error {
	g := v.curGroup
	if g == nil {
		v.fail()
		return nil
	}
	switch key {
	case "gid":
		g.GID = int(numVal)
	case "name":
		g.Name = strVal
	case "password":
		g.ClearPassword = strVal
	case "pwhash":
		g.PasswordHash = strVal
	default:
		v.fail()
		return nil
	}
	v.ok()
	return nil
}
