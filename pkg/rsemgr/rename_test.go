package rsemgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renameTo(name, newName string) rse.File {
	return rse.File{Scope: testScope, Name: name, NewName: newName}
}

func (e *testEnv) exists(t *testing.T, f rse.File) bool {
	t.Helper()
	res, err := e.mgr.Exists(context.Background(), testRSE, []rse.File{f})
	require.NoError(t, err)
	return res.OK
}

func (e *testEnv) content(t *testing.T, name string) string {
	t.Helper()
	dest := t.TempDir()
	_, err := e.mgr.Download(context.Background(), testRSE, lfns(name), dest, "")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dest, name))
	require.NoError(t, err)
	return string(data)
}

func TestRename(t *testing.T) {
	ctx := context.Background()

	t.Run("Name", func(t *testing.T) {
		env := newEnv(t)
		env.upload(t, "1.raw")

		res, err := env.mgr.Rename(ctx, testRSE, []rse.File{renameTo("1.raw", "1.renamed")})
		require.NoError(t, err)
		assert.True(t, res.OK)

		assert.False(t, env.exists(t, rse.LFN(testScope, "1.raw")))
		assert.Equal(t, "content of 1.raw", env.content(t, "1.renamed"))
	})

	t.Run("Scope", func(t *testing.T) {
		env := newEnv(t)
		env.upload(t, "1.raw")

		f := rse.File{Scope: testScope, Name: "1.raw", NewScope: "user.other"}
		res, err := env.mgr.Rename(ctx, testRSE, []rse.File{f})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.True(t, env.exists(t, rse.LFN("user.other", "1.raw")))
	})

	t.Run("PFN", func(t *testing.T) {
		env := newEnv(t)
		env.upload(t, "1.raw")

		src, err := env.mgr.Lfn2Pfn(ctx, testRSE, rse.LFN(testScope, "1.raw"))
		require.NoError(t, err)
		dst := "file://localhost" + env.prefix + "/manual/1.raw"

		res, err := env.mgr.Rename(ctx, testRSE, []rse.File{{Name: src, NewName: dst}})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Contains(t, res.Outcomes, src)
		assert.True(t, env.exists(t, rse.PFN(dst)))
	})

	t.Run("Collision", func(t *testing.T) {
		env := newEnv(t)
		env.upload(t, "a.raw", "b.raw")

		_, err := env.mgr.Rename(ctx, testRSE, []rse.File{renameTo("a.raw", "b.raw")})
		assert.ErrorIs(t, err, rse.ErrFileReplicaAlreadyExists)

		assert.Equal(t, "content of a.raw", env.content(t, "a.raw"))
		assert.Equal(t, "content of b.raw", env.content(t, "b.raw"))
	})

	t.Run("SourceNotFound", func(t *testing.T) {
		env := newEnv(t)

		_, err := env.mgr.Rename(ctx, testRSE, []rse.File{renameTo("ghost.raw", "new.raw")})
		assert.ErrorIs(t, err, rse.ErrSourceNotFound)
		assert.False(t, env.exists(t, rse.LFN(testScope, "new.raw")))
	})

	t.Run("MixedBatchContinues", func(t *testing.T) {
		env := newEnv(t)
		env.upload(t, "ok.raw", "taken.raw", "blocked.raw")

		res, err := env.mgr.Rename(ctx, testRSE, []rse.File{
			renameTo("ok.raw", "ok.new"),
			renameTo("blocked.raw", "taken.raw"),
			renameTo("ghost.raw", "ghost.new"),
		})
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.NoError(t, res.Err(key("ok.raw")))
		assert.ErrorIs(t, res.Err(key("blocked.raw")), rse.ErrFileReplicaAlreadyExists)
		assert.ErrorIs(t, res.Err(key("ghost.raw")), rse.ErrSourceNotFound)
		assert.True(t, env.exists(t, rse.LFN(testScope, "ok.new")))
	})

	t.Run("Swap", func(t *testing.T) {
		env := newEnv(t)
		env.upload(t, "a.raw", "b.raw")

		res, err := env.mgr.Rename(ctx, testRSE, []rse.File{renameTo("a.raw", "b.raw"), renameTo("b.raw", "a.raw")})
		require.NoError(t, err)
		assert.ErrorIs(t, res.Err(key("a.raw")), rse.ErrFileReplicaAlreadyExists)
		assert.ErrorIs(t, res.Err(key("b.raw")), rse.ErrFileReplicaAlreadyExists)
		assert.Equal(t, "content of a.raw", env.content(t, "a.raw"))
	})

	t.Run("SameDestinationFirstWins", func(t *testing.T) {
		env := newEnv(t)
		env.upload(t, "first.raw", "second.raw")

		res, err := env.mgr.Rename(ctx, testRSE, []rse.File{renameTo("first.raw", "target.raw"), renameTo("second.raw", "target.raw")})
		require.NoError(t, err)
		assert.NoError(t, res.Err(key("first.raw")))
		assert.ErrorIs(t, res.Err(key("second.raw")), rse.ErrFileReplicaAlreadyExists)
		assert.Equal(t, "content of first.raw", env.content(t, "target.raw"))
		assert.True(t, env.exists(t, rse.LFN(testScope, "second.raw")))
	})

	t.Run("NoTarget", func(t *testing.T) {
		env := newEnv(t)
		_, err := env.mgr.Rename(ctx, testRSE, lfns("1.raw"))
		assert.ErrorIs(t, err, rse.ErrInvalidDescriptor)
	})

	t.Run("Unsupported", func(t *testing.T) {
		spec := posixSpec(filepath.Join(t.TempDir(), "rse"), 1)
		spec.Scheme = schemeNoRename
		env := newEnv(t, spec)

		res, err := env.mgr.Rename(ctx, testRSE, []rse.File{renameTo("a.raw", "b.raw"), renameTo("c.raw", "d.raw")})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, rse.ErrUnsupportedOperation, "unsupported is a hard error even for bulk calls")
	})
}
