package biz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"slurm-service/internal/conf"
	"slurm-service/internal/constants"
)

func TestAccountName(t *testing.T) {
	id := "3f2b1c0e-9d8a-4b7c-a6e5-0f1e2d3c4b5a"

	assert.Equal(t, "waldur_allocation_3f2b1c0e9d8a4b7ca6e50f1e2d3c4b5a", AccountName("waldur", constants.TierAllocation, id))
	assert.Equal(t, AccountName("waldur", constants.TierAllocation, id), AccountName("waldur", constants.TierAllocation, id))
	assert.NotEqual(t, AccountName("waldur", constants.TierProject, "p1"), AccountName("waldur", constants.TierProject, "p2"))
	assert.NotEqual(t, AccountName("waldur", constants.TierProject, "p1"), AccountName("waldur", constants.TierCustomer, "p1"))
}

func TestParseAccountName(t *testing.T) {
	tests := []struct {
		name   string
		tier   string
		wantID string
		wantOK bool
	}{
		{"waldur_customer_c1", constants.TierCustomer, "c1", true},
		{"waldur_project_p1", constants.TierProject, "p1", true},
		{"waldur_project_p1", constants.TierCustomer, "", false},
		{"waldur_allocation_", constants.TierAllocation, "", false},
		{"other_allocation_a1", constants.TierAllocation, "", false},
		{"root", constants.TierCustomer, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.tier, func(t *testing.T) {
			id, ok := ParseAccountName("waldur", tt.tier, tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}

	id, ok := ParseAccountName("waldur", constants.TierAllocation, AccountName("waldur", constants.TierAllocation, "a-1"))
	assert.True(t, ok)
	assert.Equal(t, "a1", id)
}

func TestNewSlurmConfig(t *testing.T) {
	c := NewSlurmConfig(&conf.Bootstrap{})
	assert.Equal(t, "slurm", c.Backend)
	assert.Equal(t, "waldur", c.AccountNamePrefix)
	assert.True(t, c.ManagesUser("anyone"))

	c = NewSlurmConfig(&conf.Bootstrap{Slurm: &conf.Slurm{
		Backend:           "MOAB",
		AccountNamePrefix: "hpc",
		UsernamePrefix:    "hpc_",
		DefaultAccount:    "root",
	}})
	assert.Equal(t, "moab", c.Backend)
	assert.Equal(t, "hpc_customer_c1", c.CustomerAccount("c1"))
	assert.Equal(t, "root", c.DefaultAccount)
	assert.True(t, c.ManagesUser("hpc_alice"))
	assert.False(t, c.ManagesUser("admin"))
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"3f2b1c0e-9d8a-4b7c-a6e5-0f1e2d3c4b5a", true},
		{"3f2b1c0e9d8a4b7ca6e50f1e2d3c4b5a", true},
		{"a1", true},
		{"ab", true},
		{"a-b", false},
		{"3f2b1c0e-9d8a4b7c-a6e5-0f1e2d3c4b5a", false},
		{"urn:uuid:3f2b1c0e-9d8a-4b7c-a6e5-0f1e2d3c4b5a", false},
		{"", false},
		{"a1;id", false},
		{"a_1", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidID(tt.id))
		})
	}

	// 合法 id 中只有 uuid 带连字符，去掉后仍能区分
	assert.NotEqual(t, AccountName("waldur", constants.TierAllocation, "ab"),
		AccountName("waldur", constants.TierAllocation, "3f2b1c0e-9d8a-4b7c-a6e5-0f1e2d3c4b5a"))
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("hpc_alice"))
	assert.True(t, ValidUsername("alice.smith-2"))
	assert.False(t, ValidUsername("bob; echo PWNED"))
	assert.False(t, ValidUsername("$(id)"))
	assert.False(t, ValidUsername("-a"))
	assert.False(t, ValidUsername(""))
}
