package pricing

import (
	"strings"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

// ChainSeparator joins rule names when more than one rule was applied.
const ChainSeparator = " → "

func describe(steps []step, warnings []string) string {
	var sb strings.Builder
	if len(steps) == 1 {
		sb.WriteString(describeStep(steps[0]))
	} else {
		names := make([]string, 0, len(steps))
		for _, st := range steps {
			names = append(names, st.rule.Name)
		}
		sb.WriteString(strings.Join(names, ChainSeparator))
	}
	for _, w := range warnings {
		sb.WriteString(" [warning: ")
		sb.WriteString(w)
		sb.WriteString("]")
	}
	return sb.String()
}

func describeStep(st step) string {
	label := st.rule.MethodLabel()
	if st.rule.Method == rule.MaintainGPPercent && st.historical.Valid {
		label = "Maintained " + rule.Percent(st.historical.Decimal) + " GP"
		if st.target.Valid && !st.target.Decimal.Equal(st.historical.Decimal) {
			label += ", adjusted to " + rule.Percent(st.target.Decimal)
		}
	}
	return st.rule.Name + " (" + label + ")"
}
