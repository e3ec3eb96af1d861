package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// devIno identifies a file by device and inode so repeated #include of
// the same file (possibly via different relative paths) is silently
// skipped.
type devIno struct {
	dev, ino uint64
}

// Context carries per-compilation preprocessor state explicitly, so
// multiple parallel assemblies can coexist without a process-wide
// singleton.
type Context struct {
	IncludePath []string // colon-separated search path, already split
	seen        map[devIno]bool
}

// NewContext builds a preprocessor context from a colon-separated include
// path string.
func NewContext(path string) *Context {
	var dirs []string
	if path != "" {
		dirs = strings.Split(path, ":")
	}
	return &Context{IncludePath: dirs, seen: map[devIno]bool{}}
}

// Preprocess expands "#include modname" directives in src, searching
// ctx.IncludePath for "modname.pn". Each inclusion is wrapped in
// ANNO_MODULE enter/exit markers (emitted here as literal "anno" lines
// the parser turns into OpAnno instructions).
func Preprocess(ctx *Context, file, src string) (string, error) {
	var out strings.Builder
	lines := strings.Split(src, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#include") {
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, "#include"))
			if name == "" {
				return "", fmt.Errorf("%w: %s: #include with no module name", errdefs.ErrInvalidArgument, file)
			}
			resolved, skip, err := ctx.resolveInclude(name)
			if err != nil {
				return "", err
			}
			if skip {
				continue
			}
			body, err := os.ReadFile(resolved)
			if err != nil {
				return "", fmt.Errorf("%w: including %s: %v", errdefs.ErrInvalidArgument, name, err)
			}
			out.WriteString(fmt.Sprintf("anno \"module:enter:%s\"\n", name))
			nested, err := Preprocess(ctx, resolved, string(body))
			if err != nil {
				return "", err
			}
			out.WriteString(nested)
			out.WriteString(fmt.Sprintf("\nanno \"module:exit:%s\"\n", name))
			continue
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	return out.String(), nil
}

func (ctx *Context) resolveInclude(name string) (path string, skip bool, err error) {
	for _, dir := range ctx.IncludePath {
		candidate := filepath.Join(dir, name+".pn")
		info, statErr := os.Stat(candidate)
		if statErr != nil {
			continue
		}
		key, ok := devInoOf(info)
		if ok {
			if ctx.seen[key] {
				return "", true, nil
			}
			ctx.seen[key] = true
		}
		return candidate, false, nil
	}
	return "", false, fmt.Errorf("%w: #include %q not found on include path", errdefs.ErrNotFound, name)
}
