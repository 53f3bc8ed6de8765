// Package quota holds the multi-resource limit/usage value shared by the
// accounting clients, the report parsers and the reconciliation engine.
package quota

import (
	"fmt"
	"math"
	"strings"
)

// Quota is a set of independent resource amounts. A nil field is absent,
// which is not the same as zero: absent fields never contribute to a sum.
//
// CPU and GPU are resource-minutes, RAM is byte-minutes, Deposit is a
// monetary amount (Moab only).
type Quota struct {
	CPU     *int64   `json:"cpu,omitempty"`
	GPU     *int64   `json:"gpu,omitempty"`
	RAM     *int64   `json:"ram,omitempty"`
	Deposit *float64 `json:"deposit,omitempty"`
}

// New returns a quota with CPU, GPU and RAM present.
func New(cpu, gpu, ram int64) Quota {
	return Quota{CPU: Int(cpu), GPU: Int(gpu), RAM: Int(ram)}
}

// Int returns a pointer to v.
func Int(v int64) *int64 {
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Add combines two quotas field by field. A field is present in the result
// when it is present in either operand.
func (q Quota) Add(o Quota) Quota {
	return Quota{
		CPU:     addInt(q.CPU, o.CPU),
		GPU:     addInt(q.GPU, o.GPU),
		RAM:     addInt(q.RAM, o.RAM),
		Deposit: addFloat(q.Deposit, o.Deposit),
	}
}

// Sum folds quotas with Add. The sum of nothing is the all-absent quota.
func Sum(quotas ...Quota) Quota {
	var total Quota
	for _, q := range quotas {
		total = total.Add(q)
	}
	return total
}

// IsEmpty reports whether every field is absent.
func (q Quota) IsEmpty() bool {
	return q.CPU == nil && q.GPU == nil && q.RAM == nil && q.Deposit == nil
}

// Equal compares presence and value of every field.
func (q Quota) Equal(o Quota) bool {
	return eqInt(q.CPU, o.CPU) && eqInt(q.GPU, o.GPU) && eqInt(q.RAM, o.RAM) && eqFloat(q.Deposit, o.Deposit)
}

// CPUValue returns CPU or 0 when absent.
func (q Quota) CPUValue() int64 { return intOr(q.CPU) }

// GPUValue returns GPU or 0 when absent.
func (q Quota) GPUValue() int64 { return intOr(q.GPU) }

// RAMValue returns RAM or 0 when absent.
func (q Quota) RAMValue() int64 { return intOr(q.RAM) }

// DepositValue returns Deposit or 0 when absent.
func (q Quota) DepositValue() float64 {
	if q.Deposit == nil {
		return 0
	}
	return *q.Deposit
}

func (q Quota) String() string {
	var parts []string
	if q.CPU != nil {
		parts = append(parts, fmt.Sprintf("cpu=%d", *q.CPU))
	}
	if q.GPU != nil {
		parts = append(parts, fmt.Sprintf("gpu=%d", *q.GPU))
	}
	if q.RAM != nil {
		parts = append(parts, fmt.Sprintf("ram=%d", *q.RAM))
	}
	if q.Deposit != nil {
		parts = append(parts, fmt.Sprintf("deposit=%.2f", *q.Deposit))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func addInt(a, b *int64) *int64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return Int(*b)
	case b == nil:
		return Int(*a)
	}
	return Int(AddClamped(*a, *b))
}

func addFloat(a, b *float64) *float64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return Float(*b)
	case b == nil:
		return Float(*a)
	}
	return Float(*a + *b)
}

func eqInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func intOr(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Overlay returns q with every field present in o replaced by o's value.
func (q Quota) Overlay(o Quota) Quota {
	r := q
	if o.CPU != nil {
		r.CPU = Int(*o.CPU)
	}
	if o.GPU != nil {
		r.GPU = Int(*o.GPU)
	}
	if o.RAM != nil {
		r.RAM = Int(*o.RAM)
	}
	if o.Deposit != nil {
		r.Deposit = Float(*o.Deposit)
	}
	return r
}

// AddClamped returns a+b, saturating at the int64 bounds instead of
// wrapping.
func AddClamped(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

// MulClamped returns a*b, saturating at the int64 bounds instead of
// wrapping.
func MulClamped(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	if c/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64) {
		return c
	}
	if (a > 0) == (b > 0) {
		return math.MaxInt64
	}
	return math.MinInt64
}

// FromFloat rounds f to the nearest int64, saturating at the bounds.
func FromFloat(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(math.Round(f))
}
