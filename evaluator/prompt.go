package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"codebundle-score/rules"
)

// BuildTitlePrompt renders the instruction sent to LLM-backed evaluators.
// Reference examples, when present, anchor the scale.
func BuildTitlePrompt(req *rules.TitleRequest, refs []Reference) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the task title: %q, documentation: %q, tags: %q, and imported user variables: %q,\n",
		req.Title, req.Documentation, strings.Join(req.Tags, ", "), strings.Join(req.ImportedVariables, ", "))
	b.WriteString("provide a score from 1 to 5 based on clarity, human readability, and specificity.\n\n")
	if len(refs) > 0 {
		data, _ := json.Marshal(refs)
		fmt.Fprintf(&b, "Compare it to the following reference examples: %s.\n", data)
	}
	b.WriteString("A 1 is vague like 'Check EC2 Health'; a 5 is detailed like ")
	b.WriteString("'Check Overutilized EC2 Instances in AWS Region `${AWS_REGION}` in AWS Account `${AWS_ACCOUNT_ID}`'.\n\n")
	b.WriteString("If a task lacks a 'What' or a 'Where', it might be less specific.\n")
	b.WriteString("Also decide if the task only reads data (access:readonly) or modifies resources (access:read-write).\n")
	b.WriteString(`Return JSON only: { "score": 1, "reasoning": "...", "suggested_title": "...", "access_tag": "access:readonly" }`)
	b.WriteString("\n")
	return b.String()
}
