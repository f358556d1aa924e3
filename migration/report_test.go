package migration

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwire/migrator/deployment"
)

func Test_RunReport_Counters(t *testing.T) {
	t.Parallel()

	hash := common.HexToHash("0x01")
	r := newRunReport("local", []Step{{Key: 1, Name: "a"}, {Key: 2, Name: "b"}}, time.Now())
	r.Steps[0].Deployments = []DeploymentReport{
		{Unit: "MathLib", Deployed: true, TxHash: &hash},
		{Unit: "Token"},
	}
	r.Steps[1].Relationships = []RelationshipReport{
		{Name: "Registry.vault", Changed: true, TxHash: &hash},
		{Name: "Registry.token"},
		{Name: "Registry.fee", BestEffort: true, Err: newReportError(errors.New("boom"))},
	}

	assert.Equal(t, StatePending, r.State)
	assert.Equal(t, StatePending, r.Steps[1].State)
	assert.Equal(t, 1, r.Deployments())
	assert.Equal(t, 1, r.Reconciliations())
	assert.Equal(t, 2, r.Transactions())
	require.Len(t, r.SkippedRelationships(), 1)
	assert.Equal(t, "Registry.fee", r.SkippedRelationships()[0].Name)
}

func Test_SaveReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := newRunReport("sepolia", []Step{{Key: 1, Name: "libraries"}}, time.Now().UTC())
	r.Steps[0].Deployments = []DeploymentReport{{
		Unit:     "MathLib",
		State:    deployment.UnitDeployed,
		Address:  common.HexToAddress("0x0a"),
		Deployed: true,
	}}
	key := uint(1)
	r.FailedStep = &key
	r.State = StateFailed
	r.Err = newReportError(errors.New("step 1 (libraries) failed: boom"))

	path, err := SaveReport(dir, r)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "-sepolia_run.json"), path)

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, r.ID, loaded.ID)
	assert.Equal(t, StateFailed, loaded.State)
	assert.Equal(t, r.Steps[0].Deployments, loaded.Steps[0].Deployments)
	require.NotNil(t, loaded.FailedStep)
	assert.Equal(t, uint(1), *loaded.FailedStep)
	assert.Equal(t, "step 1 (libraries) failed: boom", loaded.Err.Error())
	assert.True(t, r.StartedAt.Equal(*loaded.StartedAt))
}
