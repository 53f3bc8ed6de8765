package biz

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-kratos/kratos/v2/log"

	"slurm-service/internal/batch"
	"slurm-service/internal/constants"
	"slurm-service/internal/metrics"
)

// SyncUseCase 全量对账：按层级比较平台期望状态与远端实际状态
type SyncUseCase struct {
	repo      AllocationRepo
	directory DirectoryRepo
	client    batch.Client
	conf      *SlurmConfig
	log       *log.Helper
	metrics   *metrics.SlurmMetrics
}

// NewSyncUseCase 创建全量对账 UseCase
func NewSyncUseCase(
	repo AllocationRepo,
	directory DirectoryRepo,
	client batch.Client,
	conf *SlurmConfig,
	logger log.Logger,
) *SyncUseCase {
	return &SyncUseCase{
		repo:      repo,
		directory: directory,
		client:    client,
		conf:      conf,
		log:       log.NewHelper(log.With(logger, "module", "biz/sync")),
		metrics:   metrics.GetMetrics(),
	}
}

// desiredAccount 期望存在的远端账户
type desiredAccount struct {
	description  string
	organization string
	parent       string
	allocation   *Allocation
}

// association 远端关联键
type association struct {
	account  string
	username string
}

// SyncResult 一次全量对账的变更统计
type SyncResult struct {
	Created             []string `json:"created"`
	Deleted             []string `json:"deleted"`
	AssociationsCreated int      `json:"associations_created"`
	AssociationsDeleted int      `json:"associations_deleted"`
	Skipped             bool     `json:"skipped"`
}

// Sync 全量对账。没有任何分配时直接跳过。
// 创建自上而下（客户、项目、分配），删除自下而上（分配、项目、客户）。
func (uc *SyncUseCase) Sync(ctx context.Context) (*SyncResult, error) {
	count, err := uc.repo.CountAllocations(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		uc.log.WithContext(ctx).Debug("skip synchronization because there are no allocations")
		return &SyncResult{Skipped: true}, nil
	}

	allocations, err := uc.repo.ListAllocations(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := uc.client.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	observed := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		observed[account.Name] = true
	}

	desired := uc.desiredAccounts(allocations)
	result := &SyncResult{}
	tiers := []string{constants.TierCustomer, constants.TierProject, constants.TierAllocation}

	for _, tier := range tiers {
		for _, name := range sortedKeys(desired[tier]) {
			if observed[name] {
				continue
			}
			if err := uc.create(ctx, tier, name, desired[tier][name]); err != nil {
				return result, err
			}
			result.Created = append(result.Created, name)
		}
	}

	for i := len(tiers) - 1; i >= 0; i-- {
		tier := tiers[i]
		for _, account := range accounts {
			if _, ok := ParseAccountName(uc.conf.AccountNamePrefix, tier, account.Name); !ok {
				continue
			}
			if _, ok := desired[tier][account.Name]; ok {
				continue
			}
			if err := uc.client.DeleteAccount(ctx, account.Name); err != nil {
				return result, fmt.Errorf("delete account %s: %w", account.Name, err)
			}
			uc.metrics.AccountOpsTotal.WithLabelValues(constants.OpDelete, tier).Inc()
			result.Deleted = append(result.Deleted, account.Name)
		}
	}

	if err := uc.syncAssociations(ctx, allocations, result); err != nil {
		return result, err
	}

	uc.log.WithContext(ctx).Infof("synchronization done: created=%d deleted=%d associations +%d -%d",
		len(result.Created), len(result.Deleted), result.AssociationsCreated, result.AssociationsDeleted)
	return result, nil
}

func (uc *SyncUseCase) desiredAccounts(allocations []*Allocation) map[string]map[string]desiredAccount {
	desired := map[string]map[string]desiredAccount{
		constants.TierCustomer:   {},
		constants.TierProject:    {},
		constants.TierAllocation: {},
	}
	for _, allocation := range allocations {
		customer := uc.conf.CustomerAccount(allocation.CustomerID)
		project := uc.conf.ProjectAccount(allocation.ProjectID)
		desired[constants.TierCustomer][customer] = desiredAccount{
			description:  allocation.CustomerName,
			organization: customer,
		}
		desired[constants.TierProject][project] = desiredAccount{
			description:  allocation.ProjectName,
			organization: customer,
			parent:       customer,
		}
		desired[constants.TierAllocation][uc.conf.AllocationAccount(allocation.ID)] = desiredAccount{
			description:  allocation.Name,
			organization: project,
			parent:       project,
			allocation:   allocation,
		}
	}
	return desired
}

func (uc *SyncUseCase) create(ctx context.Context, tier, name string, account desiredAccount) error {
	if err := uc.client.CreateAccount(ctx, name, account.description, account.organization, account.parent); err != nil {
		return fmt.Errorf("create account %s: %w", name, err)
	}
	uc.metrics.AccountOpsTotal.WithLabelValues(constants.OpCreate, tier).Inc()
	if account.allocation != nil {
		if err := uc.client.SetResourceLimits(ctx, name, account.allocation.Limits); err != nil {
			return fmt.Errorf("set limits of %s: %w", name, err)
		}
	}
	return nil
}

// syncAssociations 关联对账。实际关联只取本服务的分配账户，
// 并且只取符合用户名前缀的用户，其余关联不会被删除。
func (uc *SyncUseCase) syncAssociations(ctx context.Context, allocations []*Allocation, result *SyncResult) error {
	desired := make(map[association]bool)
	for _, allocation := range allocations {
		usernames, err := uc.directory.ListAllocationUsernames(ctx, allocation)
		if err != nil {
			return err
		}
		account := uc.conf.AllocationAccount(allocation.ID)
		for _, username := range usernames {
			desired[association{account: account, username: username}] = true
		}
	}

	remote, err := uc.client.ListAssociations(ctx)
	if err != nil {
		return fmt.Errorf("list associations: %w", err)
	}
	observed := make(map[association]bool)
	for _, a := range remote {
		if _, ok := ParseAccountName(uc.conf.AccountNamePrefix, constants.TierAllocation, a.Account); !ok {
			continue
		}
		if !uc.conf.ManagesUser(a.User) {
			continue
		}
		observed[association{account: a.Account, username: a.User}] = true
	}

	for _, key := range sortedAssociations(desired) {
		if observed[key] {
			continue
		}
		if err := uc.client.CreateAssociation(ctx, key.username, key.account, uc.conf.DefaultAccount); err != nil {
			return fmt.Errorf("create association %s/%s: %w", key.username, key.account, err)
		}
		uc.metrics.AssociationOpsTotal.WithLabelValues(constants.OpCreate).Inc()
		result.AssociationsCreated++
	}
	for _, key := range sortedAssociations(observed) {
		if desired[key] {
			continue
		}
		if err := uc.client.DeleteAssociation(ctx, key.username, key.account); err != nil {
			return fmt.Errorf("delete association %s/%s: %w", key.username, key.account, err)
		}
		uc.metrics.AssociationOpsTotal.WithLabelValues(constants.OpDelete).Inc()
		result.AssociationsDeleted++
	}
	return nil
}

func sortedKeys(m map[string]desiredAccount) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAssociations(m map[association]bool) []association {
	keys := make([]association, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].username < keys[j].username
	})
	return keys
}
