// Package batch adapts accounting operations to the SLURM (sacctmgr/sacct)
// and Moab (mam-*) command line tools.
package batch

import (
	"context"
	"errors"
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

// Supported backends.
const (
	BackendSlurm = "slurm"
	BackendMoab  = "moab"
)

// TotalAccountUsage is the report key holding an account's total usage.
const TotalAccountUsage = parser.TotalAccountUsage

// Account is a node of the remote accounting hierarchy.
type Account struct {
	Name         string
	Description  string
	Organization string
	// Users 仅 Moab 返回成员列表
	Users []string
	// Parent 创建时使用，列表结果中为空
	Parent string
}

// Association links a user to an account. Value is the raw limit the
// backend reports for the pair (SLURM: GrpTRESMins cpu, Moab: fund balance).
type Association struct {
	Account string
	User    string
	Value   string
}

// Report is account → user → usage, with a TotalAccountUsage entry per
// account.
type Report = parser.Report

// Client is the accounting backend contract. Create and delete are not
// idempotent on the remote side; callers check existence first.
type Client interface {
	Backend() string
	ListAccounts(ctx context.Context) ([]*Account, error)
	// GetAccount returns nil, nil when the account does not exist.
	GetAccount(ctx context.Context, name string) (*Account, error)
	CreateAccount(ctx context.Context, name, description, organization, parent string) error
	DeleteAccount(ctx context.Context, name string) error
	// SetResourceLimits pushes the fields of limits the backend supports;
	// the rest are ignored.
	SetResourceLimits(ctx context.Context, account string, limits quota.Quota) error
	ListAssociations(ctx context.Context) ([]*Association, error)
	// GetAssociation returns nil, nil when the pair is not associated.
	GetAssociation(ctx context.Context, user, account string) (*Association, error)
	CreateAssociation(ctx context.Context, username, account, defaultAccount string) error
	DeleteAssociation(ctx context.Context, username, account string) error
	GetUsageReport(ctx context.Context, accounts []string) (Report, error)
}

// BackendError is a transport failure in the context of one accounting
// operation.
type BackendError struct {
	Op     string
	Output string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func newBackendError(op string, err error) error {
	be := &BackendError{Op: op, Err: err}
	var terr *transport.TransportError
	if errors.As(err, &terr) {
		be.Output = terr.Output
	}
	return be
}

// ErrInvalidName is returned before any command runs when an account or
// user name is not a plain identifier.
var ErrInvalidName = errors.New("invalid name")

// namePattern accepts names that are safe as bare remote shell words and
// cannot be read as options.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]*$`)

// ValidName reports whether name can be passed to the backend tools.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// checkNames validates names; empty values mean "not set" and pass.
func checkNames(op string, names ...string) error {
	for _, name := range names {
		if name != "" && !ValidName(name) {
			return fmt.Errorf("%s: %w %q", op, ErrInvalidName, name)
		}
	}
	return nil
}

// Option configures a client.
type Option func(*options)

type options struct {
	useSudo bool
	now     func() time.Time
	logger  log.Logger
}

// WithSudo prefixes every command with sudo.
func WithSudo(useSudo bool) Option {
	return func(o *options) { o.useSudo = useSudo }
}

// WithClock sets the clock used for the usage report window.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, logger: log.DefaultLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the client for backend.
func New(backend string, exec transport.Executor, opts ...Option) (Client, error) {
	switch strings.ToLower(backend) {
	case "", BackendSlurm:
		return NewSlurmClient(exec, opts...), nil
	case BackendMoab:
		return NewMoabClient(exec, opts...), nil
	}
	return nil, fmt.Errorf("unknown batch backend %q", backend)
}

// commandRunner executes argv and records metrics; shared by both clients.
type commandRunner struct {
	backend string
	exec    transport.Executor
	useSudo bool
	log     *log.Helper
	metrics *metrics.SlurmMetrics
}

func (r *commandRunner) run(ctx context.Context, op string, argv []string) (string, error) {
	if r.useSudo {
		argv = append([]string{"sudo"}, argv...)
	}

	start := time.Now()
	out, err := r.exec.Execute(ctx, argv)
	if r.metrics != nil {
		result := "success"
		if err != nil {
			result = "failed"
		}
		r.metrics.CommandTotal.WithLabelValues(r.backend, op, result).Inc()
		r.metrics.CommandDuration.WithLabelValues(r.backend, op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		r.log.WithContext(ctx).Errorf("%s failed: %v", op, err)
		return out, newBackendError(op, err)
	}
	return out, nil
}

// dataLines keeps lines containing the field separator.
func dataLines(output string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, parser.FieldSeparator) {
			continue
		}
		rows = append(rows, strings.Split(line, parser.FieldSeparator))
	}
	return rows
}

func column(parts []string, i int) string {
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

var quoteReplacer = strings.NewReplacer(
	`"`, "",
	"\n", " ",
	"\r", " ",
	`\`, `\\`,
	"$", `\$`,
	"`", "\\`",
)

// quoted wraps value in "..." for the remote shell. Double quotes are
// dropped; backslash, dollar and backtick are escaped so nothing expands.
func quoted(value string) string {
	return `"` + quoteReplacer.Replace(value) + `"`
}
