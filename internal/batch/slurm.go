package batch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"slurm-service/internal/batch/parser"
	"slurm-service/internal/metrics"
	"slurm-service/internal/quota"
	"slurm-service/internal/transport"
)

const dateLayout = "2006-01-02"

var cpuLimitPattern = regexp.MustCompile(`cpu=(\d+)`)

// SlurmClient drives sacctmgr and sacct.
type SlurmClient struct {
	runner commandRunner
	now    func() time.Time
}

var _ Client = (*SlurmClient)(nil)

// NewSlurmClient 创建 SLURM 客户端
func NewSlurmClient(exec transport.Executor, opts ...Option) *SlurmClient {
	o := newOptions(opts)
	return &SlurmClient{
		runner: commandRunner{
			backend: BackendSlurm,
			exec:    exec,
			useSudo: o.useSudo,
			log:     log.NewHelper(log.With(o.logger, "module", "batch/slurm")),
			metrics: metrics.GetMetrics(),
		},
		now: o.now,
	}
}

func (c *SlurmClient) Backend() string { return BackendSlurm }

func (c *SlurmClient) sacctmgr(ctx context.Context, op string, args ...string) (string, error) {
	argv := append([]string{"sacctmgr", "--parsable2", "--noheader", "--immediate"}, args...)
	return c.runner.run(ctx, op, argv)
}

func (c *SlurmClient) ListAccounts(ctx context.Context) ([]*Account, error) {
	out, err := c.sacctmgr(ctx, "list account", "list", "account")
	if err != nil {
		return nil, err
	}
	var accounts []*Account
	for _, parts := range dataLines(out) {
		accounts = append(accounts, parseSlurmAccount(parts))
	}
	return accounts, nil
}

func (c *SlurmClient) GetAccount(ctx context.Context, name string) (*Account, error) {
	if err := checkNames("show account", name); err != nil {
		return nil, err
	}
	out, err := c.sacctmgr(ctx, "show account", "show", "account", name)
	if err != nil {
		return nil, err
	}
	rows := dataLines(out)
	if len(rows) == 0 {
		return nil, nil
	}
	return parseSlurmAccount(rows[0]), nil
}

func parseSlurmAccount(parts []string) *Account {
	return &Account{
		Name:         column(parts, 0),
		Description:  column(parts, 1),
		Organization: column(parts, 2),
	}
}

func (c *SlurmClient) CreateAccount(ctx context.Context, name, description, organization, parent string) error {
	if err := checkNames("add account", name, organization, parent); err != nil {
		return err
	}
	args := []string{
		"add", "account", name,
		"description=" + quoted(description),
		"organization=" + quoted(organization),
	}
	if parent != "" {
		args = append(args, "parent="+parent)
	}
	_, err := c.sacctmgr(ctx, "add account", args...)
	return err
}

func (c *SlurmClient) DeleteAccount(ctx context.Context, name string) error {
	if err := checkNames("remove account", name); err != nil {
		return err
	}
	_, err := c.sacctmgr(ctx, "remove account", "remove", "account", "where", "name="+name)
	return err
}

// SetResourceLimits sets GrpTRESMins from the CPU, GPU and RAM fields.
// Deposit has no sacctmgr equivalent.
func (c *SlurmClient) SetResourceLimits(ctx context.Context, account string, limits quota.Quota) error {
	var tres []string
	if limits.CPU != nil {
		tres = append(tres, fmt.Sprintf("cpu=%d", *limits.CPU))
	}
	if limits.GPU != nil {
		tres = append(tres, fmt.Sprintf("gres/gpu=%d", *limits.GPU))
	}
	if limits.RAM != nil {
		tres = append(tres, fmt.Sprintf("mem=%d", *limits.RAM))
	}
	if len(tres) == 0 {
		return nil
	}
	if err := checkNames("modify account", account); err != nil {
		return err
	}
	_, err := c.sacctmgr(ctx, "modify account", "modify", "account", account, "set", "GrpTRESMins="+strings.Join(tres, ","))
	return err
}

func (c *SlurmClient) ListAssociations(ctx context.Context) ([]*Association, error) {
	out, err := c.sacctmgr(ctx, "list association", "list", "association")
	if err != nil {
		return nil, err
	}
	var associations []*Association
	for _, parts := range dataLines(out) {
		if a := parseSlurmAssociation(parts); a != nil {
			associations = append(associations, a)
		}
	}
	return associations, nil
}

func (c *SlurmClient) GetAssociation(ctx context.Context, user, account string) (*Association, error) {
	if err := checkNames("show association", user, account); err != nil {
		return nil, err
	}
	out, err := c.sacctmgr(ctx, "show association",
		"show", "association", "where", "user="+user, "account="+account)
	if err != nil {
		return nil, err
	}
	for _, parts := range dataLines(out) {
		if a := parseSlurmAssociation(parts); a != nil {
			return a, nil
		}
	}
	return nil, nil
}

// parseSlurmAssociation reads Cluster|Account|User|...|GrpTRESMins|...;
// account-level rows (no user) are not memberships and yield nil.
func parseSlurmAssociation(parts []string) *Association {
	user := column(parts, 2)
	if user == "" {
		return nil
	}
	value := column(parts, 9)
	if m := cpuLimitPattern.FindStringSubmatch(value); m != nil {
		value = m[1]
	}
	return &Association{
		Account: column(parts, 1),
		User:    user,
		Value:   value,
	}
}

func (c *SlurmClient) CreateAssociation(ctx context.Context, username, account, defaultAccount string) error {
	if err := checkNames("add user", username, account, defaultAccount); err != nil {
		return err
	}
	args := []string{"add", "user", username, "account=" + account}
	if defaultAccount != "" {
		args = append(args, "DefaultAccount="+defaultAccount)
	}
	_, err := c.sacctmgr(ctx, "add user", args...)
	return err
}

func (c *SlurmClient) DeleteAssociation(ctx context.Context, username, account string) error {
	if err := checkNames("remove user", username, account); err != nil {
		return err
	}
	_, err := c.sacctmgr(ctx, "remove user",
		"remove", "user", "where", "name="+username, "and", "account="+account)
	return err
}

// GetUsageReport fetches job records of the current calendar month for all
// accounts in one sacct call.
func (c *SlurmClient) GetUsageReport(ctx context.Context, accounts []string) (Report, error) {
	if len(accounts) == 0 {
		return Report{}, nil
	}
	if err := checkNames("usage report", accounts...); err != nil {
		return nil, err
	}
	start, end := monthWindow(c.now())
	argv := []string{
		"sacct", "--parsable2", "--noheader",
		"--noconvert", "--truncate", "--allocations", "--allusers",
		"--starttime=" + start.Format(dateLayout),
		"--endtime=" + end.Format(dateLayout),
		"--accounts=" + strings.Join(accounts, ","),
		"--format=Account,ReqTRES,Elapsed,User",
	}
	out, err := c.runner.run(ctx, "usage report", argv)
	if err != nil {
		return nil, err
	}
	return parser.ParseSlurmReport(out), nil
}

// monthWindow returns the first and last day of t's month.
func monthWindow(t time.Time) (time.Time, time.Time) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1)
	return first, last
}
