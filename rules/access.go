package rules

import (
	"strings"
	"unicode"

	"codebundle-score/codebundle"
)

// mutationVerbs mark a task as changing the systems it touches.
var mutationVerbs = map[string]bool{
	"restart": true, "delete": true, "remove": true, "scale": true,
	"patch": true, "apply": true, "rollout": true, "drain": true,
	"cordon": true, "uncordon": true, "evict": true, "kill": true,
	"terminate": true, "reboot": true, "rotate": true, "redeploy": true,
	"rollback": true, "purge": true, "flush": true,
}

// InferAccessTag returns access:read-write when the title or a non-framework
// body line uses a mutation verb, access:readonly otherwise.
func InferAccessTag(t *codebundle.Task) string {
	if containsMutation(t.Title) {
		return codebundle.AccessReadWrite
	}
	for _, line := range t.Body {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "#") || strings.Contains(trimmed, "RW.Core.") {
			continue
		}
		if containsMutation(trimmed) {
			return codebundle.AccessReadWrite
		}
	}
	return codebundle.AccessReadOnly
}

func containsMutation(s string) bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if mutationVerbs[w] {
			return true
		}
	}
	return false
}
