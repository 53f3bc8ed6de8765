package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-kratos/kratos/v2/log"

	"slurm-service/internal/batch"
	"slurm-service/internal/constants"
	"slurm-service/internal/quota"
)

// fakeClient keeps remote accounts and associations in memory and records
// every mutating call.
type fakeClient struct {
	backend      string
	accounts     map[string]*batch.Account
	associations map[association]bool
	report       batch.Report
	reportErr    error
	fail         map[string]error
	calls        []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		backend:      batch.BackendSlurm,
		accounts:     map[string]*batch.Account{},
		associations: map[association]bool{},
		fail:         map[string]error{},
	}
}

func (f *fakeClient) record(call string) error {
	f.calls = append(f.calls, call)
	for prefix, err := range f.fail {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return nil
}

func (f *fakeClient) callsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeClient) Backend() string { return f.backend }

func (f *fakeClient) ListAccounts(ctx context.Context) ([]*batch.Account, error) {
	names := make([]string, 0, len(f.accounts))
	for name := range f.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	accounts := make([]*batch.Account, 0, len(names))
	for _, name := range names {
		accounts = append(accounts, f.accounts[name])
	}
	return accounts, nil
}

func (f *fakeClient) GetAccount(ctx context.Context, name string) (*batch.Account, error) {
	return f.accounts[name], nil
}

func (f *fakeClient) CreateAccount(ctx context.Context, name, description, organization, parent string) error {
	if err := f.record("create_account " + name); err != nil {
		return err
	}
	f.accounts[name] = &batch.Account{Name: name, Description: description, Organization: organization}
	return nil
}

func (f *fakeClient) DeleteAccount(ctx context.Context, name string) error {
	if err := f.record("delete_account " + name); err != nil {
		return err
	}
	delete(f.accounts, name)
	for key := range f.associations {
		if key.account == name {
			delete(f.associations, key)
		}
	}
	return nil
}

func (f *fakeClient) SetResourceLimits(ctx context.Context, account string, limits quota.Quota) error {
	return f.record("set_limits " + account + " " + limits.String())
}

func (f *fakeClient) ListAssociations(ctx context.Context) ([]*batch.Association, error) {
	var out []*batch.Association
	for _, key := range sortedAssociations(f.associations) {
		out = append(out, &batch.Association{Account: key.account, User: key.username})
	}
	return out, nil
}

func (f *fakeClient) GetAssociation(ctx context.Context, user, account string) (*batch.Association, error) {
	if f.associations[association{account: account, username: user}] {
		return &batch.Association{Account: account, User: user}, nil
	}
	return nil, nil
}

func (f *fakeClient) CreateAssociation(ctx context.Context, username, account, defaultAccount string) error {
	if err := f.record("create_association " + username + " " + account); err != nil {
		return err
	}
	f.associations[association{account: account, username: username}] = true
	return nil
}

func (f *fakeClient) DeleteAssociation(ctx context.Context, username, account string) error {
	if err := f.record("delete_association " + username + " " + account); err != nil {
		return err
	}
	delete(f.associations, association{account: account, username: username})
	return nil
}

func (f *fakeClient) GetUsageReport(ctx context.Context, accounts []string) (batch.Report, error) {
	f.calls = append(f.calls, "usage_report "+strings.Join(accounts, ","))
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return f.report, nil
}

// memAllocationRepo is an in-memory AllocationRepo.
type memAllocationRepo struct {
	items        map[string]*Allocation
	usageUpdates int
}

func newMemAllocationRepo(allocations ...*Allocation) *memAllocationRepo {
	r := &memAllocationRepo{items: map[string]*Allocation{}}
	for _, a := range allocations {
		c := *a
		r.items[a.ID] = &c
	}
	return r
}

func (r *memAllocationRepo) sorted(match func(*Allocation) bool) []*Allocation {
	var out []*Allocation
	for _, a := range r.items {
		if match(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memAllocationRepo) CreateAllocation(ctx context.Context, a *Allocation) error {
	if _, ok := r.items[a.ID]; ok {
		return fmt.Errorf("duplicate allocation %s", a.ID)
	}
	c := *a
	r.items[a.ID] = &c
	return nil
}

func (r *memAllocationRepo) GetAllocation(ctx context.Context, id string) (*Allocation, error) {
	a, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (r *memAllocationRepo) ListAllocations(ctx context.Context) ([]*Allocation, error) {
	return r.sorted(func(*Allocation) bool { return true }), nil
}

func (r *memAllocationRepo) ListAllocationsByScope(ctx context.Context, scope Scope) ([]*Allocation, error) {
	return r.sorted(func(a *Allocation) bool { return inScope(a, scope) }), nil
}

func (r *memAllocationRepo) CountAllocations(ctx context.Context) (int64, error) {
	return int64(len(r.items)), nil
}

func (r *memAllocationRepo) CountByProject(ctx context.Context, projectID, excludeID string) (int64, error) {
	return int64(len(r.sorted(func(a *Allocation) bool { return a.ProjectID == projectID && a.ID != excludeID }))), nil
}

func (r *memAllocationRepo) CountByCustomer(ctx context.Context, customerID, excludeID string) (int64, error) {
	return int64(len(r.sorted(func(a *Allocation) bool { return a.CustomerID == customerID && a.ID != excludeID }))), nil
}

func (r *memAllocationRepo) UpdateLimits(ctx context.Context, id string, limits quota.Quota) error {
	r.items[id].Limits = limits
	return nil
}

func (r *memAllocationRepo) UpdateUsage(ctx context.Context, id string, usage quota.Quota) error {
	r.usageUpdates++
	r.items[id].Usage = usage
	return nil
}

func (r *memAllocationRepo) SetActive(ctx context.Context, id string, active bool) error {
	r.items[id].IsActive = active
	return nil
}

func (r *memAllocationRepo) SetState(ctx context.Context, id, state, message string) error {
	r.items[id].State = state
	r.items[id].ErrorMessage = message
	return nil
}

func (r *memAllocationRepo) DeleteAllocation(ctx context.Context, id string) error {
	delete(r.items, id)
	return nil
}

func (r *memAllocationRepo) SumUsage(ctx context.Context, scope Scope) (quota.Quota, error) {
	var total quota.Quota
	for _, a := range r.sorted(func(a *Allocation) bool { return inScope(a, scope) }) {
		total = total.Add(a.Usage)
	}
	return total, nil
}

func inScope(a *Allocation, scope Scope) bool {
	switch scope.Type {
	case constants.TierProject:
		return a.ProjectID == scope.ID
	case constants.TierCustomer:
		return a.CustomerID == scope.ID
	}
	return false
}

// memUsageRepo is an in-memory AllocationUsageRepo keyed like the table.
type memUsageRepo struct {
	items map[string]*AllocationUsage
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{items: map[string]*AllocationUsage{}}
}

func usageKey(allocationID, username string, year, month int) string {
	return fmt.Sprintf("%s/%s/%d/%d", allocationID, username, year, month)
}

func (r *memUsageRepo) UpsertUsage(ctx context.Context, u *AllocationUsage) error {
	c := *u
	r.items[usageKey(u.AllocationID, u.Username, u.Year, u.Month)] = &c
	return nil
}

func (r *memUsageRepo) ListUsages(ctx context.Context, allocationID string, year, month int) ([]*AllocationUsage, error) {
	var out []*AllocationUsage
	for _, u := range r.items {
		if u.AllocationID == allocationID && u.Year == year && u.Month == month {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// memDirectory is an in-memory DirectoryRepo.
type memDirectory struct {
	profiles map[string]string // userID → username
	members  map[Scope][]string
}

func newMemDirectory() *memDirectory {
	return &memDirectory{profiles: map[string]string{}, members: map[Scope][]string{}}
}

func (d *memDirectory) GetUsername(ctx context.Context, userID string) (string, error) {
	return d.profiles[userID], nil
}

func (d *memDirectory) GetUserID(ctx context.Context, username string) (string, error) {
	for id, name := range d.profiles {
		if name == username {
			return id, nil
		}
	}
	return "", nil
}

func (d *memDirectory) SaveProfile(ctx context.Context, userID, username string) error {
	d.profiles[userID] = username
	return nil
}

func (d *memDirectory) DeleteProfile(ctx context.Context, userID string) error {
	delete(d.profiles, userID)
	return nil
}

func (d *memDirectory) AddMember(ctx context.Context, scope Scope, userID string) error {
	for _, id := range d.members[scope] {
		if id == userID {
			return nil
		}
	}
	d.members[scope] = append(d.members[scope], userID)
	return nil
}

func (d *memDirectory) RemoveMember(ctx context.Context, scope Scope, userID string) error {
	var kept []string
	for _, id := range d.members[scope] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	d.members[scope] = kept
	return nil
}

func (d *memDirectory) ListUserScopes(ctx context.Context, userID string) ([]Scope, error) {
	var scopes []Scope
	for scope, ids := range d.members {
		for _, id := range ids {
			if id == userID {
				scopes = append(scopes, scope)
			}
		}
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].ID < scopes[j].ID })
	return scopes, nil
}

func (d *memDirectory) ListAllocationUsernames(ctx context.Context, a *Allocation) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, scope := range []Scope{
		{Type: constants.TierProject, ID: a.ProjectID},
		{Type: constants.TierCustomer, ID: a.CustomerID},
	} {
		for _, id := range d.members[scope] {
			name := d.profiles[id]
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func testConfig() *SlurmConfig {
	return &SlurmConfig{Backend: batch.BackendSlurm, AccountNamePrefix: "waldur", UsernamePrefix: "hpc_"}
}

func testAllocation(id, projectID, customerID string) *Allocation {
	return &Allocation{
		ID:           id,
		Name:         "alloc " + id,
		ProjectID:    projectID,
		ProjectName:  "project " + projectID,
		CustomerID:   customerID,
		CustomerName: "customer " + customerID,
		Limits:       quota.New(1000, 100, 2000),
		Usage:        quota.New(0, 0, 0),
		IsActive:     true,
		State:        constants.AllocationStateOK,
	}
}

// memLocker 记录加锁顺序，err 非空时加锁失败，onLock 在加锁成功后调用
type memLocker struct {
	keys   []string
	held   map[string]bool
	err    error
	onLock func(key string)
}

func (l *memLocker) Lock(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, fmt.Errorf("lock %s already held", key)
	}
	l.held[key] = true
	l.keys = append(l.keys, key)
	if l.onLock != nil {
		l.onLock(key)
	}
	return func() { delete(l.held, key) }, nil
}

type testEnv struct {
	client    *fakeClient
	locker    *memLocker
	repo      *memAllocationRepo
	usages    *memUsageRepo
	directory *memDirectory
	conf      *SlurmConfig
}

func newTestEnv(allocations ...*Allocation) *testEnv {
	return &testEnv{
		client:    newFakeClient(),
		locker:    &memLocker{},
		repo:      newMemAllocationRepo(allocations...),
		usages:    newMemUsageRepo(),
		directory: newMemDirectory(),
		conf:      testConfig(),
	}
}

func (e *testEnv) allocationUseCase() *AllocationUseCase {
	return NewAllocationUseCase(e.repo, e.directory, e.client, e.locker, e.conf, log.DefaultLogger)
}

func (e *testEnv) usageUseCase() *UsageUseCase {
	return NewUsageUseCase(e.repo, e.usages, e.directory, e.client, e.conf, log.DefaultLogger)
}

func (e *testEnv) syncUseCase() *SyncUseCase {
	return NewSyncUseCase(e.repo, e.directory, e.client, e.conf, log.DefaultLogger)
}
