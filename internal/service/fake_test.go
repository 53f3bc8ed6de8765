package service

import (
	"context"
	"sort"
	"strings"

	"slurm-service/internal/batch"
	"slurm-service/internal/biz"
	"slurm-service/internal/conf"
	"slurm-service/internal/quota"

	"github.com/go-kratos/kratos/v2/log"
)

type fakeLocker struct {
	keys     []string
	err      error
	released int
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func(), error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released++ }, nil
}

// 只实现用到的方法，其余调用会因内嵌 nil 接口而 panic
type fakeRepo struct {
	biz.AllocationRepo
	allocations map[string]*biz.Allocation
}

func newFakeRepo(allocations ...*biz.Allocation) *fakeRepo {
	r := &fakeRepo{allocations: map[string]*biz.Allocation{}}
	for _, a := range allocations {
		cp := *a
		r.allocations[a.ID] = &cp
	}
	return r
}

func (r *fakeRepo) CreateAllocation(_ context.Context, a *biz.Allocation) error {
	cp := *a
	r.allocations[a.ID] = &cp
	return nil
}

func (r *fakeRepo) GetAllocation(_ context.Context, id string) (*biz.Allocation, error) {
	a, ok := r.allocations[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListAllocations(_ context.Context) ([]*biz.Allocation, error) {
	ids := make([]string, 0, len(r.allocations))
	for id := range r.allocations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*biz.Allocation, 0, len(ids))
	for _, id := range ids {
		cp := *r.allocations[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) CountAllocations(_ context.Context) (int64, error) {
	return int64(len(r.allocations)), nil
}

func (r *fakeRepo) CountByProject(_ context.Context, projectID, excludeID string) (int64, error) {
	var n int64
	for _, a := range r.allocations {
		if a.ProjectID == projectID && a.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CountByCustomer(_ context.Context, customerID, excludeID string) (int64, error) {
	var n int64
	for _, a := range r.allocations {
		if a.CustomerID == customerID && a.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) UpdateLimits(_ context.Context, id string, limits quota.Quota) error {
	r.allocations[id].Limits = limits
	return nil
}

func (r *fakeRepo) SetActive(_ context.Context, id string, active bool) error {
	r.allocations[id].IsActive = active
	return nil
}

func (r *fakeRepo) SetState(_ context.Context, id, state, message string) error {
	r.allocations[id].State = state
	r.allocations[id].ErrorMessage = message
	return nil
}

func (r *fakeRepo) DeleteAllocation(_ context.Context, id string) error {
	delete(r.allocations, id)
	return nil
}

type fakeDirectory struct {
	biz.DirectoryRepo
	usernames []string
	addErr    error
	members   []string
}

func (d *fakeDirectory) ListAllocationUsernames(_ context.Context, _ *biz.Allocation) ([]string, error) {
	return d.usernames, nil
}

func (d *fakeDirectory) AddMember(_ context.Context, scope biz.Scope, userID string) error {
	if d.addErr != nil {
		return d.addErr
	}
	d.members = append(d.members, scope.Type+"/"+scope.ID+"/"+userID)
	return nil
}

type fakeClient struct {
	batch.Client
	accounts     map[string]bool
	associations map[string]bool
	err          error
	calls        []string
}

func newFakeClient(accounts ...string) *fakeClient {
	c := &fakeClient{accounts: map[string]bool{}, associations: map[string]bool{}}
	for _, a := range accounts {
		c.accounts[a] = true
	}
	return c
}

func (c *fakeClient) Backend() string { return "slurm" }

func (c *fakeClient) GetAccount(_ context.Context, name string) (*batch.Account, error) {
	if !c.accounts[name] {
		return nil, nil
	}
	return &batch.Account{Name: name}, nil
}

func (c *fakeClient) CreateAccount(_ context.Context, name, _, _, _ string) error {
	c.calls = append(c.calls, "create_account "+name)
	if c.err != nil {
		return c.err
	}
	c.accounts[name] = true
	return nil
}

func (c *fakeClient) DeleteAccount(_ context.Context, name string) error {
	c.calls = append(c.calls, "delete_account "+name)
	if c.err != nil {
		return c.err
	}
	delete(c.accounts, name)
	return nil
}

func (c *fakeClient) SetResourceLimits(_ context.Context, account string, limits quota.Quota) error {
	c.calls = append(c.calls, "set_limits "+account+" "+limits.String())
	return c.err
}

func (c *fakeClient) GetAssociation(_ context.Context, user, account string) (*batch.Association, error) {
	if !c.associations[user+"/"+account] {
		return nil, nil
	}
	return &batch.Association{User: user, Account: account}, nil
}

func (c *fakeClient) CreateAssociation(_ context.Context, username, account, _ string) error {
	c.calls = append(c.calls, "create_association "+username+" "+account)
	if c.err != nil {
		return c.err
	}
	c.associations[username+"/"+account] = true
	return nil
}

func (c *fakeClient) DeleteAssociation(_ context.Context, username, account string) error {
	c.calls = append(c.calls, "delete_association "+username+" "+account)
	if c.err != nil {
		return c.err
	}
	delete(c.associations, username+"/"+account)
	return nil
}

func (c *fakeClient) callsWithPrefix(prefix string) []string {
	var out []string
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}
	return out
}

type testEnv struct {
	repo      *fakeRepo
	directory *fakeDirectory
	client    *fakeClient
	locker    *fakeLocker
}

func newTestEnv(allocations ...*biz.Allocation) *testEnv {
	return &testEnv{
		repo:      newFakeRepo(allocations...),
		directory: &fakeDirectory{},
		client:    newFakeClient(),
		locker:    &fakeLocker{},
	}
}

func (e *testEnv) slurmConfig() *biz.SlurmConfig {
	return biz.NewSlurmConfig(&conf.Bootstrap{Slurm: &conf.Slurm{AccountNamePrefix: "waldur"}})
}

func (e *testEnv) allocationUseCase() *biz.AllocationUseCase {
	return biz.NewAllocationUseCase(e.repo, e.directory, e.client, e.locker, e.slurmConfig(), log.DefaultLogger)
}

func (e *testEnv) allocationService() *AllocationService {
	usage := biz.NewUsageUseCase(e.repo, nil, e.directory, e.client, e.slurmConfig(), log.DefaultLogger)
	return NewAllocationService(e.allocationUseCase(), usage, e.locker, log.DefaultLogger)
}

func (e *testEnv) eventService() *EventService {
	return NewEventService(e.allocationUseCase(), e.allocationService(), log.DefaultLogger)
}

func (e *testEnv) syncService() *SyncService {
	cfg := e.slurmConfig()
	sync := biz.NewSyncUseCase(e.repo, e.directory, e.client, cfg, log.DefaultLogger)
	usage := biz.NewUsageUseCase(e.repo, nil, e.directory, e.client, cfg, log.DefaultLogger)
	return NewSyncService(sync, usage, e.locker, log.DefaultLogger)
}

func testAllocation(id, projectID, customerID string) *biz.Allocation {
	return &biz.Allocation{
		ID:         id,
		Name:       "alloc " + id,
		ProjectID:  projectID,
		CustomerID: customerID,
		Limits:     quota.New(1000, 100, 2000),
		Usage:      quota.New(10, 0, 20),
		IsActive:   true,
		State:      "OK",
	}
}
