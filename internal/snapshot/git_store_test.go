package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

func setupStore(t *testing.T) (*GitStore, string) {
	t.Helper()
	root := t.TempDir()
	ws := filepath.Join(root, "workspace")
	require.NoError(t, os.MkdirAll(ws, 0o755))
	s, err := Open(ws, filepath.Join(root, "snapshots"))
	require.NoError(t, err)
	return s, ws
}

func writeFile(t *testing.T, ws, rel, content string) {
	t.Helper()
	p := filepath.Join(ws, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// tree reads every regular file under ws, skipping .git.
func tree(t *testing.T, ws string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(ws, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(ws, p)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestOpen_RejectsSnapshotDirInsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	_, err := Open(ws, filepath.Join(ws, ".snapshots"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWorkspaceInvalid)
}

func TestOpen_ReopensExistingHistory(t *testing.T) {
	root := t.TempDir()
	ws := filepath.Join(root, "ws")
	require.NoError(t, os.MkdirAll(ws, 0o755))
	sd := filepath.Join(root, "snap")
	ctx := context.Background()

	s, err := Open(ws, sd)
	require.NoError(t, err)
	writeFile(t, ws, "a.txt", "one")
	id, err := s.Create(ctx, "first")
	require.NoError(t, err)

	again, err := Open(ws, sd)
	require.NoError(t, err)
	hist, err := again.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, id, hist[0].ID)
	assert.NoFileExists(t, filepath.Join(ws, ".git"))
}

func TestRevertToLatest_RestoresBitIdenticalContent(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, "main.go", "package main\n")
	writeFile(t, ws, "pkg/util.go", "package pkg\n")
	before := tree(t, ws)
	_, err := s.Create(ctx, "wave 0")
	require.NoError(t, err)

	writeFile(t, ws, "main.go", "package main\n\nfunc main() {}\n")
	require.NoError(t, os.Remove(filepath.Join(ws, "pkg/util.go")))
	writeFile(t, ws, "new.go", "package main // added\n")
	writeFile(t, ws, "gen/deep/file.txt", "generated")

	require.NoError(t, s.RevertToLatest(ctx))

	assert.Equal(t, before, tree(t, ws))
	assert.NoDirExists(t, filepath.Join(ws, "gen"))
}

func TestRevertToLatest_NoSnapshots(t *testing.T) {
	s, _ := setupStore(t)
	err := s.RevertToLatest(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoSnapshots)
}

func TestRevertTo_UnknownIDDoesNotMutate(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, "a.txt", "v1")
	_, err := s.Create(ctx, "one")
	require.NoError(t, err)
	writeFile(t, ws, "a.txt", "v2 dirty")

	for _, id := range []string{"nope", "0123456789abcdef0123456789abcdef01234567"} {
		err = s.RevertTo(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnknownSnapshot)
	}

	assert.Equal(t, map[string]string{"a.txt": "v2 dirty"}, tree(t, ws))
	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestRevertTo_OlderSnapshotAppendsHistory(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, "a.txt", "v1")
	first, err := s.Create(ctx, "one")
	require.NoError(t, err)
	want := tree(t, ws)

	writeFile(t, ws, "a.txt", "version two")
	writeFile(t, ws, "b.txt", "b")
	_, err = s.Create(ctx, "two")
	require.NoError(t, err)

	require.NoError(t, s.RevertTo(ctx, first))
	assert.Equal(t, want, tree(t, ws))

	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "revert to "+first, hist[0].Message)
	assert.Equal(t, "two", hist[1].Message)
	assert.Equal(t, hist[1].ID, hist[0].ParentID)

	// The workspace now matches the head, so a new checkpoint is deduplicated.
	id, err := s.Create(ctx, "noop")
	require.NoError(t, err)
	assert.Equal(t, hist[0].ID, id)
}

func TestCreate_DeduplicatesUnchangedWorkspace(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, "a.txt", "v1")
	a, err := s.Create(ctx, "one")
	require.NoError(t, err)
	b, err := s.Create(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	writeFile(t, ws, "a.txt", "v1 changed")
	c, err := s.Create(ctx, "changed")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestCreate_EmptyWorkspace(t *testing.T) {
	s, _ := setupStore(t)
	id, err := s.Create(context.Background(), "empty")
	require.NoError(t, err)
	assert.Len(t, id, 40)
}

func TestSquash_CollapsesRangeAndReparents(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	ids := make([]string, 0, 4)
	for i, content := range []string{"1", "22", "333", "4444"} {
		writeFile(t, ws, "f.txt", content)
		id, err := s.Create(ctx, "wave "+string(rune('0'+i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	before := tree(t, ws)

	squashed, err := s.Squash(ctx, ids[1], ids[2], "waves 1-2")
	require.NoError(t, err)

	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "wave 3", hist[0].Message)
	assert.Equal(t, squashed, hist[0].ParentID)
	assert.Equal(t, squashed, hist[1].ID)
	assert.Equal(t, "waves 1-2", hist[1].Message)
	assert.Equal(t, ids[0], hist[1].ParentID)
	assert.Equal(t, ids[0], hist[2].ID)
	assert.Equal(t, before, tree(t, ws))

	// The squashed entry carries the content of the range's newest snapshot.
	require.NoError(t, s.RevertTo(ctx, squashed))
	assert.Equal(t, map[string]string{"f.txt": "333"}, tree(t, ws))
}

func TestSquash_InvalidRange(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, "f.txt", "a")
	older, err := s.Create(ctx, "a")
	require.NoError(t, err)
	writeFile(t, ws, "f.txt", "bb")
	newer, err := s.Create(ctx, "b")
	require.NoError(t, err)

	_, err = s.Squash(ctx, newer, older, "")
	assert.ErrorIs(t, err, domain.ErrSnapshotRange)

	_, err = s.Squash(ctx, "missing", newer, "")
	assert.ErrorIs(t, err, domain.ErrUnknownSnapshot)
}

func TestHistory_LimitAndOrder(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	empty, err := s.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i, c := range []string{"a", "bb", "ccc"} {
		writeFile(t, ws, "f.txt", c)
		_, err := s.Create(ctx, "snap "+string(rune('a'+i)))
		require.NoError(t, err)
	}

	hist, err := s.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "snap c", hist[0].Message)
	assert.Equal(t, "snap b", hist[1].Message)

	all, err := s.History(ctx, -1)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Empty(t, all[2].ParentID)
	assert.False(t, all[0].CreatedAt.IsZero())
}

func TestRevert_LeavesWorkspaceGitDirAlone(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, ws, "a.txt", "a")
	_, err := s.Create(ctx, "one")
	require.NoError(t, err)

	writeFile(t, ws, "b.txt", "b")
	require.NoError(t, s.RevertToLatest(ctx))

	assert.FileExists(t, filepath.Join(ws, ".git", "HEAD"))
	assert.NoFileExists(t, filepath.Join(ws, "b.txt"))
}

func TestCancelledContext(t *testing.T) {
	s, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRevertToLatest_RestoresGitignoredFiles(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, ".gitignore", "*.log\nbuild/\n")
	writeFile(t, ws, "keep.log", "v1")
	writeFile(t, ws, "build/out.bin", "bin")
	writeFile(t, ws, "main.go", "package main\n")
	_, err := s.Create(ctx, "m1")
	require.NoError(t, err)
	before := tree(t, ws)

	writeFile(t, ws, "keep.log", "v2")
	require.NoError(t, os.RemoveAll(filepath.Join(ws, "build")))
	writeFile(t, ws, "new.log", "late")

	require.NoError(t, s.RevertToLatest(ctx))
	assert.Equal(t, before, tree(t, ws))
}

func TestCreate_DetectsChangeToGitignoredFile(t *testing.T) {
	s, ws := setupStore(t)
	ctx := context.Background()

	writeFile(t, ws, ".gitignore", ".env\n")
	writeFile(t, ws, ".env", "A=1")
	first, err := s.Create(ctx, "one")
	require.NoError(t, err)

	writeFile(t, ws, ".env", "A=2")
	second, err := s.Create(ctx, "two")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, s.RevertTo(ctx, first))
	assert.Equal(t, "A=1", tree(t, ws)[".env"])
}
