package quota

import "github.com/hitoshi/sequelprompt/internal/model"

// Limits はプランごとの1日あたり生成上限。
type Limits map[string]int

// DefaultLimits は無料プランの上限を指定して既定の上限表を返す。
func DefaultLimits(freeLimit int) Limits {
	return Limits{
		model.PlanFree: freeLimit,
		"starter":      25,
		"pro":          100,
		"business":     500,
	}
}

// ForPlan はプランの上限を返す。未知のプランは無料プランの上限とする。
func (l Limits) ForPlan(plan string) int {
	if limit, ok := l[plan]; ok {
		return limit
	}
	return l[model.PlanFree]
}
