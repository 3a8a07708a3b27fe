package memory

import (
	"testing"

	"github.com/marmos91/rsemgr/pkg/rse"
	rsetesting "github.com/marmos91/rsemgr/pkg/rse/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryRepository runs the repository contract suite against Repository.
func TestMemoryRepository(t *testing.T) {
	suite := &rsetesting.RepositoryTestSuite{
		NewRepository: func(t *testing.T) rse.WritableRepository {
			repo, err := New()
			require.NoError(t, err)
			return repo
		},
	}

	suite.Run(t)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New(rsetesting.NewInfo("MOCK"), rsetesting.NewInfo("MOCK"))
	assert.Error(t, err)
}
