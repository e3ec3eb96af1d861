package mesh

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockwork-mesh/clockwork/pkg/bdfa"
	"github.com/clockwork-mesh/clockwork/pkg/bytecode"
)

func TestPolicyMasterCompileProducesLoadableImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.pn")
	require.NoError(t, os.WriteFile(src, []byte("fn main\n  halt\n"), 0o644))

	m := &PolicyMaster{SourceFile: src, IncludeRoot: dir}
	img, err := m.compile()
	require.NoError(t, err)

	static0, err := bytecode.ScanStatic0(img)
	require.NoError(t, err)
	require.Greater(t, static0, 2)
}

func TestPolicyMasterCompileRecompilesOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.pn")
	require.NoError(t, os.WriteFile(src, []byte("fn main\n  halt\n"), 0o644))

	m := &PolicyMaster{SourceFile: src, IncludeRoot: dir}
	first, err := m.compile()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("fn main\n  noop\n  halt\n"), 0o644))
	second, err := m.compile()
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestPolicyMasterBuildArchiveSkipsDirectoriesIncludesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("world"), 0o644))

	m := &PolicyMaster{FilesRoot: dir}
	archive, err := m.buildArchive()
	require.NoError(t, err)

	entries, err := bdfa.ReadAll(bytes.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]bdfa.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Equal(t, "hello", string(byName["a.txt"].Content))
	require.Equal(t, "world", string(byName[filepath.Join("sub", "b.txt")].Content))
}
