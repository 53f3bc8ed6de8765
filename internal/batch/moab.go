package batch

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-kratos/kratos/v2/log"

	"slurm-service/internal/batch/parser"
	"slurm-service/internal/metrics"
	"slurm-service/internal/quota"
	"slurm-service/internal/transport"
)

// MoabClient drives the Moab Accounting Manager (mam-*) tools.
type MoabClient struct {
	runner commandRunner
}

var _ Client = (*MoabClient)(nil)

var moabAccountFields = []string{"--raw", "--quiet", "--show", "Name,Users,Description,Organization"}

// NewMoabClient 创建 Moab 客户端
func NewMoabClient(exec transport.Executor, opts ...Option) *MoabClient {
	o := newOptions(opts)
	return &MoabClient{
		runner: commandRunner{
			backend: BackendMoab,
			exec:    exec,
			useSudo: o.useSudo,
			log:     log.NewHelper(log.With(o.logger, "module", "batch/moab")),
			metrics: metrics.GetMetrics(),
		},
	}
}

func (c *MoabClient) Backend() string { return BackendMoab }

func (c *MoabClient) run(ctx context.Context, op string, argv ...string) (string, error) {
	return c.runner.run(ctx, op, argv)
}

func (c *MoabClient) ListAccounts(ctx context.Context) ([]*Account, error) {
	argv := append([]string{"mam-list-accounts"}, moabAccountFields...)
	out, err := c.run(ctx, "list accounts", argv...)
	if err != nil {
		return nil, err
	}
	var accounts []*Account
	for _, parts := range dataLines(out) {
		accounts = append(accounts, parseMoabAccount(parts))
	}
	return accounts, nil
}

func (c *MoabClient) GetAccount(ctx context.Context, name string) (*Account, error) {
	if err := checkNames("get account", name); err != nil {
		return nil, err
	}
	argv := append([]string{"mam-list-accounts"}, moabAccountFields...)
	argv = append(argv, "-a", name)
	out, err := c.run(ctx, "get account", argv...)
	if err != nil {
		return nil, err
	}
	rows := dataLines(out)
	if len(rows) == 0 {
		return nil, nil
	}
	return parseMoabAccount(rows[0]), nil
}

func parseMoabAccount(parts []string) *Account {
	var users []string
	if v := column(parts, 1); v != "" {
		users = strings.Split(v, ",")
	}
	return &Account{
		Name:         column(parts, 0),
		Users:        users,
		Description:  column(parts, 2),
		Organization: column(parts, 3),
	}
}

// CreateAccount ignores parent: Moab links accounts through organization.
func (c *MoabClient) CreateAccount(ctx context.Context, name, description, organization, parent string) error {
	if err := checkNames("create account", name, organization); err != nil {
		return err
	}
	_, err := c.run(ctx, "create account",
		"mam-create-account", "-a", name, "-d", quoted(description), "-o", organization)
	return err
}

// DeleteAccount removes every member first; Moab refuses to delete an
// account that still has users. A failure in between leaves a member-less
// account and is safe to retry.
func (c *MoabClient) DeleteAccount(ctx context.Context, name string) error {
	account, err := c.GetAccount(ctx, name)
	if err != nil {
		return err
	}
	if account != nil {
		for _, user := range account.Users {
			if err := c.DeleteAssociation(ctx, user, name); err != nil {
				return err
			}
		}
	}
	_, err = c.run(ctx, "delete account", "mam-delete-account", "-a", name)
	return err
}

// SetResourceLimits deposits limits.Deposit into the account fund. CPU, GPU
// and RAM caps are not expressible in Moab and are ignored.
func (c *MoabClient) SetResourceLimits(ctx context.Context, account string, limits quota.Quota) error {
	if limits.Deposit == nil {
		return nil
	}
	if err := checkNames("deposit", account); err != nil {
		return err
	}
	amount := strconv.FormatFloat(*limits.Deposit, 'f', -1, 64)
	_, err := c.run(ctx, "deposit",
		"mam-deposit", "-a", account, "-z", amount, "--create-fund", "True")
	return err
}

func (c *MoabClient) ListAssociations(ctx context.Context) ([]*Association, error) {
	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var associations []*Association
	for _, account := range accounts {
		for _, user := range account.Users {
			associations = append(associations, &Association{Account: account.Name, User: user})
		}
	}
	return associations, nil
}

func (c *MoabClient) GetAssociation(ctx context.Context, user, account string) (*Association, error) {
	if err := checkNames("list funds", user, account); err != nil {
		return nil, err
	}
	out, err := c.run(ctx, "list funds",
		"mam-list-funds", "--raw", "--quiet", "-u", user, "-a", account, "--show", "Constraints,Balance")
	if err != nil {
		return nil, err
	}
	rows := dataLines(out)
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &Association{
		Account: account,
		User:    user,
		Value:   row[len(row)-1],
	}, nil
}

func (c *MoabClient) CreateAssociation(ctx context.Context, username, account, defaultAccount string) error {
	if err := checkNames("add user", username, account); err != nil {
		return err
	}
	_, err := c.run(ctx, "add user",
		"mam-modify-account", "--add-user", username, "-a", account)
	return err
}

func (c *MoabClient) DeleteAssociation(ctx context.Context, username, account string) error {
	if err := checkNames("delete user", username, account); err != nil {
		return err
	}
	_, err := c.run(ctx, "delete user",
		"mam-modify-account", "--del-user", username, "-a", account)
	return err
}

// GetUsageReport queries each account separately (mam-list-usagerecords
// filters on a single -a). Every account that answered gets a total entry,
// zero when it has no records; accounts whose query failed are logged and
// left out. The error is returned only when no account answered.
func (c *MoabClient) GetUsageReport(ctx context.Context, accounts []string) (Report, error) {
	report := make(Report)
	var lastErr error
	for _, account := range accounts {
		if err := checkNames("usage report", account); err != nil {
			c.runner.log.WithContext(ctx).Warnf("skip usage of account %q: %v", account, err)
			lastErr = err
			continue
		}
		out, err := c.run(ctx, "usage report",
			"mam-list-usagerecords", "--raw", "--quiet", "--show",
			"Account,Processors,GPUs,Memory,Duration,User,Charge,Nodes",
			"-a", account)
		if err != nil {
			c.runner.log.WithContext(ctx).Warnf("skip usage of account %s: %v", account, err)
			lastErr = err
			continue
		}
		report[account] = map[string]quota.Quota{
			parser.TotalAccountUsage: parser.ParseMoabReport(out),
		}
	}
	if len(report) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return report, nil
}
