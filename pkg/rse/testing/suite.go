// Package testing provides a reusable contract test suite for rse.Repository
// implementations.
package testing

import (
	"context"
	"testing"

	"github.com/marmos91/rsemgr/pkg/rse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RepositoryTestSuite tests the WritableRepository contract.
//
// Usage:
//
//	func TestMyRepository(t *testing.T) {
//	    suite := &rsetesting.RepositoryTestSuite{
//	        NewRepository: func(t *testing.T) rse.WritableRepository {
//	            return myrepo.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type RepositoryTestSuite struct {
	// NewRepository returns a fresh, empty repository for each test.
	NewRepository func(t *testing.T) rse.WritableRepository
}

// Run executes all tests in the suite.
func (suite *RepositoryTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("GetNotFound", suite.testGetNotFound)
	t.Run("ListSorted", suite.testListSorted)
	t.Run("Replace", suite.testReplace)
	t.Run("Delete", suite.testDelete)
	t.Run("ReturnsCopies", suite.testReturnsCopies)
	t.Run("RejectsInvalid", suite.testRejectsInvalid)
}

// NewInfo builds a valid single-protocol RSE for tests.
func NewInfo(tag string) *rse.Info {
	return &rse.Info{
		Tag:          tag,
		NamingScheme: "hash",
		Credentials:  rse.Credentials{Region: "us-east-1"},
		Protocols: []rse.ProtocolSpec{
			{
				Scheme:   "file",
				Hostname: "localhost",
				Prefix:   "/tmp/" + tag,
				Domains: map[rse.Domain]rse.Priorities{
					rse.DomainLAN: {Read: 1, Write: 1, Delete: 1},
					rse.DomainWAN: {Read: 1, Write: 1, Delete: 1},
				},
				Attributes: map[string]string{"mode": "0644"},
			},
		},
	}
}

func (suite *RepositoryTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	repo := suite.NewRepository(t)

	require.NoError(t, repo.Put(ctx, NewInfo("MOCK")))

	got, err := repo.Get(ctx, "MOCK")
	require.NoError(t, err)
	assert.Equal(t, NewInfo("MOCK"), got)
}

func (suite *RepositoryTestSuite) testGetNotFound(t *testing.T) {
	repo := suite.NewRepository(t)

	_, err := repo.Get(context.Background(), "NOPE")
	assert.ErrorIs(t, err, rse.ErrRSENotFound)
}

func (suite *RepositoryTestSuite) testListSorted(t *testing.T) {
	ctx := context.Background()
	repo := suite.NewRepository(t)

	for _, tag := range []string{"ZETA", "ALPHA", "MOCK"} {
		require.NoError(t, repo.Put(ctx, NewInfo(tag)))
	}

	infos, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "ALPHA", infos[0].Tag)
	assert.Equal(t, "MOCK", infos[1].Tag)
	assert.Equal(t, "ZETA", infos[2].Tag)
}

func (suite *RepositoryTestSuite) testReplace(t *testing.T) {
	ctx := context.Background()
	repo := suite.NewRepository(t)

	require.NoError(t, repo.Put(ctx, NewInfo("MOCK")))

	updated := NewInfo("MOCK")
	updated.NamingScheme = "flat"
	require.NoError(t, repo.Put(ctx, updated))

	got, err := repo.Get(ctx, "MOCK")
	require.NoError(t, err)
	assert.Equal(t, "flat", got.NamingScheme)
}

func (suite *RepositoryTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	repo := suite.NewRepository(t)

	require.NoError(t, repo.Put(ctx, NewInfo("MOCK")))
	require.NoError(t, repo.Delete(ctx, "MOCK"))

	_, err := repo.Get(ctx, "MOCK")
	assert.ErrorIs(t, err, rse.ErrRSENotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "MOCK"), rse.ErrRSENotFound)
}

func (suite *RepositoryTestSuite) testReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := suite.NewRepository(t)

	info := NewInfo("MOCK")
	require.NoError(t, repo.Put(ctx, info))
	info.Protocols[0].Prefix = "/changed"

	got, err := repo.Get(ctx, "MOCK")
	require.NoError(t, err)
	got.Protocols[0].Attributes["mode"] = "0600"

	again, err := repo.Get(ctx, "MOCK")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/MOCK", again.Protocols[0].Prefix)
	assert.Equal(t, "0644", again.Protocols[0].Attributes["mode"])
}

func (suite *RepositoryTestSuite) testRejectsInvalid(t *testing.T) {
	repo := suite.NewRepository(t)

	info := NewInfo("MOCK")
	info.Protocols = nil
	assert.Error(t, repo.Put(context.Background(), info))
}
