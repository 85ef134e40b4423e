package rules

import (
	"regexp"
	"strings"
)

var reVariable = regexp.MustCompile(`\$\{[^}]*\}`)

// ActionVerbs are leading verbs that make a task title actionable.
var ActionVerbs = map[string]bool{
	"analyze": true, "calculate": true, "check": true, "collect": true,
	"compare": true, "count": true, "describe": true, "detect": true,
	"evaluate": true, "fetch": true, "find": true, "gather": true,
	"get": true, "identify": true, "inspect": true, "list": true,
	"measure": true, "monitor": true, "query": true, "review": true,
	"scan": true, "search": true, "show": true, "summarize": true,
	"troubleshoot": true, "validate": true, "verify": true,
	"restart": true, "scale": true, "delete": true, "rollback": true,
	"drain": true, "cordon": true, "rotate": true, "patch": true,
}

// GenericWords carry no searchable detail on their own.
var GenericWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "for": true,
	"and": true, "or": true, "on": true, "to": true, "with": true, "from": true,
	"all": true, "some": true, "any": true, "it": true, "this": true,
	"health": true, "status": true, "state": true, "stuff": true,
	"things": true, "info": true, "data": true, "issues": true,
	"problems": true, "resources": true, "basic": true, "general": true,
	"misc": true, "test": true, "task": true, "details": true,
}

// TitleWords splits a title into lowercase words, dropping variable
// references and punctuation.
func TitleWords(title string) []string {
	title = reVariable.ReplaceAllString(title, " ")
	var out []string
	for _, w := range strings.Fields(title) {
		w = strings.Trim(strings.ToLower(w), "`'\".,:;()[]{}")
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
