package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/summary.txt
var summaryRaw string

// SummaryInput carries the values substituted into the summary prompt.
type SummaryInput struct {
	UserName    string
	PhoneNumber string
	Actions     []string
}

// RenderSummary fills the embedded summary template. Empty identity fields
// render as "Not provided" so the model does not invent them.
func RenderSummary(in SummaryInput) string {
	actions := "No specific actions were taken during this call."
	if len(in.Actions) > 0 {
		lines := make([]string, 0, len(in.Actions))
		for _, a := range in.Actions {
			lines = append(lines, "- "+a)
		}
		actions = strings.Join(lines, "\n")
	}

	r := strings.NewReplacer(
		"{{user_name}}", orNotProvided(in.UserName),
		"{{phone_number}}", orNotProvided(in.PhoneNumber),
		"{{actions}}", actions,
	)
	return r.Replace(strings.TrimSpace(summaryRaw))
}

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not provided"
	}
	return s
}
