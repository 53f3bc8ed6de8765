package parser

import (
	"strings"

	"slurm-service/internal/quota"
)

// TotalAccountUsage is the pseudo-user key holding an account's total.
const TotalAccountUsage = "TOTAL_ACCOUNT_USAGE"

// Report maps account name to user name to usage. Every account also has a
// TotalAccountUsage entry.
type Report map[string]map[string]quota.Quota

// UsageLine is one record of
// `sacct --format=Account,ReqTRES,Elapsed,User`.
type UsageLine struct {
	Account string
	User    string
	// Resources ReqTRES 中的 key=value 对，例如 cpu=2,mem=4096M,node=2,gres/gpu=1
	Resources map[string]string
	// Elapsed 作业时长（分钟，向下取整）
	Elapsed int64
}

// ParseUsageLine splits one sacct record. ok is false when the line does
// not carry the four expected columns.
func ParseUsageLine(line string) (UsageLine, bool) {
	parts := strings.Split(line, FieldSeparator)
	if len(parts) < 4 {
		return UsageLine{}, false
	}
	return UsageLine{
		Account:   parts[0],
		Resources: parseResources(parts[1]),
		Elapsed:   ParseDuration(parts[2]),
		User:      parts[3],
	}, true
}

func parseResources(value string) map[string]string {
	resources := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		resources[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return resources
}

func (l UsageLine) field(name string) int64 {
	return ParseInt(l.Resources[name])
}

// Nodes returns the node count, 1 when the dimension is missing.
func (l UsageLine) Nodes() int64 {
	if v, ok := l.Resources["node"]; ok {
		return ParseInt(v)
	}
	return 1
}

// Quota returns resource × elapsed minutes × node count for cpu, gres/gpu
// and mem, saturating at the int64 maximum.
func (l UsageLine) Quota() quota.Quota {
	scale := quota.MulClamped(l.Elapsed, l.Nodes())
	return quota.New(
		quota.MulClamped(l.field("cpu"), scale),
		quota.MulClamped(l.field("gres/gpu"), scale),
		quota.MulClamped(l.field("mem"), scale),
	)
}

// ParseSlurmReport aggregates sacct output per (account, user) and adds a
// TotalAccountUsage entry for each account seen. Accounts without lines do
// not appear.
func ParseSlurmReport(data string) Report {
	report := make(Report)
	for _, raw := range dataLines(data) {
		line, ok := ParseUsageLine(raw)
		if !ok {
			continue
		}
		users, ok := report[line.Account]
		if !ok {
			users = make(map[string]quota.Quota)
			report[line.Account] = users
		}
		users[line.User] = users[line.User].Add(line.Quota())
	}

	for _, users := range report {
		var total quota.Quota
		for _, q := range users {
			total = total.Add(q)
		}
		users[TotalAccountUsage] = total
	}
	return report
}
