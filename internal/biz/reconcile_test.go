package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slurm-service/internal/batch"
	"slurm-service/internal/constants"
	"slurm-service/internal/quota"
	"slurm-service/internal/transport"
)

func projectScope(id string) Scope  { return Scope{Type: constants.TierProject, ID: id} }
func customerScope(id string) Scope { return Scope{Type: constants.TierCustomer, ID: id} }

func TestCreateAllocationProvisionsHierarchy(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	env := newTestEnv(a)
	env.directory.profiles["u1"] = "hpc_alice"
	env.directory.profiles["u2"] = "hpc_bob"
	env.directory.members[projectScope("p1")] = []string{"u1", "u3"}
	env.directory.members[customerScope("c1")] = []string{"u2"}

	require.NoError(t, env.allocationUseCase().CreateAllocation(ctx, a))

	assert.Equal(t, []string{
		"create_account waldur_customer_c1",
		"create_account waldur_project_p1",
		"create_account waldur_allocation_a1",
		"set_limits waldur_allocation_a1 {cpu=1000,gpu=100,ram=2000}",
		"create_association hpc_alice waldur_allocation_a1",
		"create_association hpc_bob waldur_allocation_a1",
	}, env.client.calls)
	assert.Equal(t, "waldur_customer_c1", env.client.accounts["waldur_project_p1"].Organization)
	assert.Equal(t, "waldur_project_p1", env.client.accounts["waldur_allocation_a1"].Organization)
}

func TestCreateAllocationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	env := newTestEnv(a)
	env.directory.profiles["u1"] = "hpc_alice"
	env.directory.members[projectScope("p1")] = []string{"u1"}
	uc := env.allocationUseCase()

	require.NoError(t, uc.CreateAllocation(ctx, a))
	env.client.calls = nil
	require.NoError(t, uc.CreateAllocation(ctx, a))

	assert.Empty(t, env.client.callsWithPrefix("create_account"))
	assert.Empty(t, env.client.callsWithPrefix("create_association"))
	assert.Equal(t, []string{"set_limits waldur_allocation_a1 {cpu=1000,gpu=100,ram=2000}"}, env.client.calls)
}

func TestCreateAllocationReusesAncestors(t *testing.T) {
	ctx := context.Background()
	a1 := testAllocation("a1", "p1", "c1")
	a2 := testAllocation("a2", "p2", "c1")
	env := newTestEnv(a1, a2)
	uc := env.allocationUseCase()

	require.NoError(t, uc.CreateAllocation(ctx, a1))
	env.client.calls = nil
	require.NoError(t, uc.CreateAllocation(ctx, a2))

	assert.Equal(t, []string{
		"create_account waldur_project_p2",
		"create_account waldur_allocation_a2",
	}, env.client.callsWithPrefix("create_account"))
}

func TestCreateAllocationStopsOnBackendError(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	env := newTestEnv(a)
	berr := &batch.BackendError{
		Op:     "add account",
		Output: " Nothing new added.",
		Err: &transport.TransportError{
			Command: "sacctmgr add account",
			Output:  " Nothing new added.",
			Err:     errors.New("exit status 1"),
		},
	}
	env.client.fail["create_account waldur_project_p1"] = berr
	uc := env.allocationUseCase()

	err := uc.CreateAllocation(ctx, a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, berr))
	assert.NotContains(t, env.client.accounts, "waldur_allocation_a1")

	require.NoError(t, uc.MarkErred(ctx, a.ID, err))
	stored, _ := env.repo.GetAllocation(ctx, a.ID)
	assert.Equal(t, constants.AllocationStateErred, stored.State)
	assert.Contains(t, stored.ErrorMessage, "Nothing new added")

	require.NoError(t, uc.MarkOK(ctx, a.ID))
	stored, _ = env.repo.GetAllocation(ctx, a.ID)
	assert.Equal(t, constants.AllocationStateOK, stored.State)
	assert.Empty(t, stored.ErrorMessage)
}

func TestDeleteAllocationCascades(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	env := newTestEnv(a)
	uc := env.allocationUseCase()
	require.NoError(t, uc.CreateAllocation(ctx, a))
	env.client.calls = nil

	require.NoError(t, uc.DeleteAllocation(ctx, a))

	assert.Equal(t, []string{
		"delete_account waldur_allocation_a1",
		"delete_account waldur_project_p1",
		"delete_account waldur_customer_c1",
	}, env.client.calls)
	assert.Empty(t, env.repo.items)
}

func TestDeleteAllocationKeepsNonEmptyAncestors(t *testing.T) {
	ctx := context.Background()

	t.Run("sibling in project", func(t *testing.T) {
		a1 := testAllocation("a1", "p1", "c1")
		a2 := testAllocation("a2", "p1", "c1")
		env := newTestEnv(a1, a2)
		uc := env.allocationUseCase()
		require.NoError(t, uc.CreateAllocation(ctx, a1))
		require.NoError(t, uc.CreateAllocation(ctx, a2))
		env.client.calls = nil

		require.NoError(t, uc.DeleteAllocation(ctx, a1))
		assert.Equal(t, []string{"delete_account waldur_allocation_a1"}, env.client.calls)
	})

	t.Run("sibling in customer", func(t *testing.T) {
		a1 := testAllocation("a1", "p1", "c1")
		a2 := testAllocation("a2", "p2", "c1")
		env := newTestEnv(a1, a2)
		uc := env.allocationUseCase()
		require.NoError(t, uc.CreateAllocation(ctx, a1))
		require.NoError(t, uc.CreateAllocation(ctx, a2))
		env.client.calls = nil

		require.NoError(t, uc.DeleteAllocation(ctx, a1))
		assert.Equal(t, []string{
			"delete_account waldur_allocation_a1",
			"delete_account waldur_project_p1",
		}, env.client.calls)
	})

	t.Run("already gone", func(t *testing.T) {
		a := testAllocation("a1", "p1", "c1")
		env := newTestEnv(a)
		require.NoError(t, env.allocationUseCase().DeleteAllocation(ctx, a))
		assert.Empty(t, env.client.calls)
		assert.Empty(t, env.repo.items)
	})
}

func TestAddAndDeleteUserAreIdempotent(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	env := newTestEnv(a)
	uc := env.allocationUseCase()

	require.NoError(t, uc.AddUser(ctx, a, "hpc_alice"))
	require.NoError(t, uc.AddUser(ctx, a, "hpc_alice"))
	require.NoError(t, uc.DeleteUser(ctx, a, "hpc_alice"))
	require.NoError(t, uc.DeleteUser(ctx, a, "hpc_alice"))

	assert.Equal(t, []string{
		"create_association hpc_alice waldur_allocation_a1",
		"delete_association hpc_alice waldur_allocation_a1",
	}, env.client.calls)
}

func TestCancelAllocationFreezesLimits(t *testing.T) {
	ctx := context.Background()
	a := testAllocation("a1", "p1", "c1")
	a.Limits.Deposit = quota.Float(500)
	a.Usage = quota.Quota{CPU: quota.Int(10), GPU: quota.Int(2), RAM: quota.Int(30), Deposit: quota.Float(12.5)}
	env := newTestEnv(a)

	require.NoError(t, env.allocationUseCase().CancelAllocation(ctx, a))

	assert.Equal(t, []string{"set_limits waldur_allocation_a1 {cpu=10,gpu=2,ram=30}"}, env.client.calls)
	stored, _ := env.repo.GetAllocation(ctx, a.ID)
	assert.False(t, stored.IsActive)
	assert.EqualValues(t, 10, stored.Limits.CPUValue())
	assert.EqualValues(t, 30, stored.Limits.RAMValue())
	assert.Equal(t, 500.0, stored.Limits.DepositValue())
}

func TestGrantAndRevokeRole(t *testing.T) {
	ctx := context.Background()
	a1 := testAllocation("a1", "p1", "c1")
	a2 := testAllocation("a2", "p2", "c1")
	env := newTestEnv(a1, a2)
	env.directory.profiles["u1"] = "hpc_alice"
	uc := env.allocationUseCase()

	require.NoError(t, uc.GrantRole(ctx, projectScope("p1"), "u1"))
	assert.Equal(t, []string{"create_association hpc_alice waldur_allocation_a1"}, env.client.calls)

	env.client.calls = nil
	require.NoError(t, uc.GrantRole(ctx, customerScope("c1"), "u1"))
	assert.Equal(t, []string{"create_association hpc_alice waldur_allocation_a2"}, env.client.calls)

	// still authorized on a1 through the customer role
	env.client.calls = nil
	require.NoError(t, uc.RevokeRole(ctx, projectScope("p1"), "u1"))
	assert.Empty(t, env.client.calls)

	require.NoError(t, uc.RevokeRole(ctx, customerScope("c1"), "u1"))
	assert.Equal(t, []string{
		"delete_association hpc_alice waldur_allocation_a1",
		"delete_association hpc_alice waldur_allocation_a2",
	}, env.client.calls)
}

func TestRoleEventsLockEachAllocation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testAllocation("a1", "p1", "c1"), testAllocation("a2", "p2", "c1"))
	env.directory.profiles["u1"] = "hpc_alice"
	uc := env.allocationUseCase()

	require.NoError(t, uc.GrantRole(ctx, customerScope("c1"), "u1"))
	assert.Equal(t, []string{
		constants.RedisKeyAllocationLock + "a1",
		constants.RedisKeyAllocationLock + "a2",
	}, env.locker.keys)
	assert.Empty(t, env.locker.held)

	env.locker.keys = nil
	require.NoError(t, uc.RevokeRole(ctx, customerScope("c1"), "u1"))
	assert.Len(t, env.locker.keys, 2)
	assert.Empty(t, env.locker.held)
}

func TestRoleEventSkipsAllocationDeletedWhileWaiting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testAllocation("a1", "p1", "c1"), testAllocation("a2", "p2", "c1"))
	env.directory.profiles["u1"] = "hpc_alice"
	// a1 在等待锁期间被删除
	env.locker.onLock = func(key string) {
		if key == constants.RedisKeyAllocationLock+"a1" {
			delete(env.repo.items, "a1")
		}
	}

	require.NoError(t, env.allocationUseCase().GrantRole(ctx, customerScope("c1"), "u1"))
	assert.Equal(t, []string{"create_association hpc_alice waldur_allocation_a2"}, env.client.calls)
}

func TestRoleEventLockFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testAllocation("a1", "p1", "c1"))
	env.directory.profiles["u1"] = "hpc_alice"
	env.locker.err = errors.New("lock already taken")

	assert.Error(t, env.allocationUseCase().GrantRole(ctx, projectScope("p1"), "u1"))
	assert.Empty(t, env.client.calls)
}

func TestGrantRoleWithoutProfile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testAllocation("a1", "p1", "c1"))

	require.NoError(t, env.allocationUseCase().GrantRole(ctx, projectScope("p1"), "u9"))
	assert.Empty(t, env.client.calls)
	assert.Equal(t, []string{"u9"}, env.directory.members[projectScope("p1")])
}

func TestProfileEvents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(testAllocation("a1", "p1", "c1"), testAllocation("a2", "p2", "c2"))
	env.directory.members[projectScope("p1")] = []string{"u1"}
	env.directory.members[projectScope("p2")] = []string{"u1"}
	uc := env.allocationUseCase()

	require.NoError(t, uc.OnProfileCreated(ctx, "u1", "hpc_carol"))
	assert.Equal(t, []string{
		"create_association hpc_carol waldur_allocation_a1",
		"create_association hpc_carol waldur_allocation_a2",
	}, env.client.calls)

	env.client.calls = nil
	require.NoError(t, uc.OnProfileDeleted(ctx, "u1", "hpc_carol"))
	assert.Equal(t, []string{
		"delete_association hpc_carol waldur_allocation_a1",
		"delete_association hpc_carol waldur_allocation_a2",
	}, env.client.calls)
	assert.NotContains(t, env.directory.profiles, "u1")
}
