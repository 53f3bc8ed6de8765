package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slurm-service/internal/batch"
	"slurm-service/internal/quota"
)

func fixedNow() time.Time {
	return time.Date(2017, 10, 16, 12, 0, 0, 0, time.UTC)
}

func TestSyncUsageUpdatesAllocationsAndSnapshots(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testAllocation("a1", "p1", "c1"), testAllocation("a2", "p1", "c1"))
	env.directory.profiles["u1"] = "user1"
	env.client.report = batch.Report{
		"waldur_allocation_a1": {
			"user1":                 quota.New(1, 1, 100),
			"user2":                 quota.New(8, 8, 400),
			batch.TotalAccountUsage: quota.New(9, 9, 500),
		},
		"waldur_allocation_gone": {
			batch.TotalAccountUsage: quota.New(5, 5, 5),
		},
	}
	uc := env.usageUseCase()
	uc.now = fixedNow

	require.NoError(t, uc.SyncUsage(ctx))

	assert.Equal(t, []string{"usage_report waldur_allocation_a1,waldur_allocation_a2"}, env.client.calls)

	a1, _ := env.repo.GetAllocation(ctx, "a1")
	assert.True(t, a1.Usage.Equal(quota.New(9, 9, 500)))
	a2, _ := env.repo.GetAllocation(ctx, "a2")
	assert.True(t, a2.Usage.Equal(quota.New(0, 0, 0)))

	usages, err := uc.ListUsages(ctx, "a1", 2017, 10)
	require.NoError(t, err)
	require.Len(t, usages, 2)
	assert.Equal(t, "user1", usages[0].Username)
	assert.Equal(t, "u1", usages[0].UserID)
	assert.EqualValues(t, 1, usages[0].Usage.CPUValue())
	assert.Equal(t, "user2", usages[1].Username)
	assert.Empty(t, usages[1].UserID)
}

func TestSyncUsageUpsertsSnapshots(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testAllocation("a1", "p1", "c1"))
	env.client.report = batch.Report{
		"waldur_allocation_a1": {
			"user1":                 quota.New(1, 0, 0),
			batch.TotalAccountUsage: quota.New(1, 0, 0),
		},
	}
	uc := env.usageUseCase()
	uc.now = fixedNow

	require.NoError(t, uc.SyncUsage(ctx))
	env.client.report["waldur_allocation_a1"]["user1"] = quota.New(3, 0, 0)
	env.client.report["waldur_allocation_a1"][batch.TotalAccountUsage] = quota.New(3, 0, 0)
	require.NoError(t, uc.SyncUsage(ctx))

	require.Len(t, env.usages.items, 1)
	usages, _ := uc.ListUsages(ctx, "a1", 2017, 10)
	assert.EqualValues(t, 3, usages[0].Usage.CPUValue())
}

func TestSyncUsageSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	a.Usage = quota.New(9, 9, 500)
	env := newTestEnv(a)
	env.client.report = batch.Report{
		"waldur_allocation_a1": {batch.TotalAccountUsage: quota.New(9, 9, 500)},
	}

	require.NoError(t, env.usageUseCase().SyncUsage(ctx))
	assert.Equal(t, 0, env.repo.usageUpdates)
}

func TestSyncUsageReportFailureKeepsUsage(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	a.Usage = quota.New(7, 7, 7)
	env := newTestEnv(a)
	env.client.reportErr = &batch.BackendError{Op: "usage report", Err: errors.New("connection refused")}

	err := env.usageUseCase().SyncUsage(ctx)
	require.Error(t, err)
	var berr *batch.BackendError
	assert.True(t, errors.As(err, &berr))

	stored, _ := env.repo.GetAllocation(ctx, "a1")
	assert.True(t, stored.Usage.Equal(quota.New(7, 7, 7)))
}

func TestSyncUsageWithoutAllocations(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.usageUseCase().SyncUsage(context.Background()))
	assert.Empty(t, env.client.calls)
}

func TestPullAllocationMoab(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	env := newTestEnv(a)
	env.client.backend = batch.BackendMoab
	env.client.report = batch.Report{
		"waldur_allocation_a1": {
			batch.TotalAccountUsage: {CPU: quota.Int(4), GPU: quota.Int(0), RAM: quota.Int(8), Deposit: quota.Float(1.5)},
		},
	}

	require.NoError(t, env.usageUseCase().PullAllocation(ctx, a))

	assert.Equal(t, []string{"usage_report waldur_allocation_a1"}, env.client.calls)
	stored, _ := env.repo.GetAllocation(ctx, "a1")
	assert.Equal(t, 1.5, stored.Usage.DepositValue())
	assert.EqualValues(t, 4, stored.Usage.CPUValue())
	assert.Empty(t, env.usages.items)
}
