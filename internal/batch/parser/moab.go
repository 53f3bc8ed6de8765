package parser

import (
	"strconv"
	"strings"

	"slurm-service/internal/quota"
)

// Moab usage record columns, as requested with
// --show Account,Processors,GPUs,Memory,Duration,User,Charge,Nodes.
const (
	moabProcessors = 1
	moabGPUs       = 2
	moabMemory     = 3
	moabDuration   = 4
	moabCharge     = 6
)

type moabLine []string

func (l moabLine) column(i int) string {
	if i >= len(l) {
		return ""
	}
	return strings.TrimSpace(l[i])
}

func (l moabLine) number(i int) int64 {
	v, err := strconv.ParseInt(l.column(i), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// minutes converts the Duration column from seconds.
func (l moabLine) minutes() float64 {
	return float64(l.number(moabDuration)) / 60
}

func (l moabLine) norm(i int) int64 {
	return quota.FromFloat(float64(l.number(i)) * l.minutes())
}

func (l moabLine) charge() float64 {
	v, err := strconv.ParseFloat(l.column(moabCharge), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseMoabReport sums mam-list-usagerecords output for one account into a
// single quota: processor, GPU and memory minutes rounded to nearest per
// record, plus the total charge as Deposit. Every field is present, zero
// when there are no records.
func ParseMoabReport(data string) quota.Quota {
	total := quota.New(0, 0, 0)
	total.Deposit = quota.Float(0)

	for _, raw := range dataLines(data) {
		l := moabLine(strings.Split(raw, FieldSeparator))
		q := quota.New(l.norm(moabProcessors), l.norm(moabGPUs), l.norm(moabMemory))
		q.Deposit = quota.Float(l.charge())
		total = total.Add(q)
	}
	return total
}
