// Package sieve renders consolidated rules into a Sieve (RFC 5228) script and
// merges that script into a user's existing one.
//
// The rendered rules live in a managed section delimited by two marker
// comment lines. Everything outside the markers belongs to the user and is
// preserved byte for byte by MergeIntoExisting.
//
//	# BEGIN PROTONFUSION MANAGED SECTION - DO NOT EDIT
//	require ["fileinto", "imap4flags"];
//
//	# Delete (consolidated from 3 rules)
//	# Sources: spam-1, spam-2, spam-3
//	if address :contains "From" ["spam1@test.com", "spam2@test.com", "spam3@test.com"] {
//	    fileinto "Trash";
//	}
//	# END PROTONFUSION MANAGED SECTION
//
// Compiled rules never "stop": every consolidated rule is evaluated, exactly
// like independent filters on the remote system.
package sieve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/migadu/protonfusion/config"
	"github.com/migadu/protonfusion/consts"
	"github.com/migadu/protonfusion/filter"
)

// Destination folders of the archive and delete actions.
const (
	ArchiveFolder = "Archive"
	TrashFolder   = "Trash"
)

// Flags set by the mark-read and star actions.
const (
	FlagSeen    = `\Seen`
	FlagFlagged = `\Flagged`
)

// ErrUnterminatedSection is returned when a script has a begin marker
// without a matching end marker.
var ErrUnterminatedSection = errors.New("managed section has no end marker")

const indent = "    "

type Compiler struct {
	Begin string
	End   string
}

func NewCompiler(cfg config.SieveConfig) *Compiler {
	return &Compiler{Begin: cfg.SectionBegin, End: cfg.SectionEnd}
}

// Render returns a script holding exactly one managed section with the rules
// in the given order.
func (c *Compiler) Render(rules []filter.ConsolidatedRule) string {
	var body strings.Builder
	var needFileinto, needFlags bool
	sources := 0

	for _, cr := range rules {
		sources += cr.SourceCount
		body.WriteString("\n")
		fmt.Fprintf(&body, "# %s\n", commentText(cr.Name))
		if len(cr.Sources) > 1 {
			fmt.Fprintf(&body, "# Sources: %s\n", commentText(strings.Join(cr.Sources, ", ")))
		}
		fmt.Fprintf(&body, "if %s {\n", ruleTest(cr.Groups))
		commands, fileinto, flags := actionCommands(cr.Actions)
		needFileinto = needFileinto || fileinto
		needFlags = needFlags || flags
		for _, cmd := range commands {
			body.WriteString(indent + cmd + "\n")
		}
		body.WriteString("}\n")
	}

	var b strings.Builder
	b.WriteString(c.Begin + "\n")
	fmt.Fprintf(&b, "# Generated by protonfusion %s: %d rules from %d sources\n", consts.ToolVersion, len(rules), sources)
	var requires []string
	if needFileinto {
		requires = append(requires, "fileinto")
	}
	if needFlags {
		requires = append(requires, "imap4flags")
	}
	if len(requires) > 0 {
		fmt.Fprintf(&b, "require %s;\n", stringList(requires))
	}
	b.WriteString(body.String())
	b.WriteString(c.End + "\n")
	return b.String()
}

func commentText(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

// ruleTest ORs the groups of a consolidated rule.
func ruleTest(groups []filter.ConditionGroup) string {
	switch len(groups) {
	case 0:
		return "true"
	case 1:
		return groupTest(groups[0])
	}
	tests := make([]string, len(groups))
	for i, g := range groups {
		tests[i] = groupTest(g)
	}
	return "anyof(" + strings.Join(tests, ",\n"+indent+indent) + ")"
}

// groupTest combines one source rule's conditions with its own logic.
func groupTest(g filter.ConditionGroup) string {
	switch len(g.Conditions) {
	case 0:
		return "true"
	case 1:
		return conditionTest(g.Conditions[0])
	}
	tests := make([]string, len(g.Conditions))
	for i, c := range g.Conditions {
		tests[i] = conditionTest(c)
	}
	op := "allof"
	if g.Logic == filter.LogicOr {
		op = "anyof"
	}
	return op + "(" + strings.Join(tests, ", ") + ")"
}

func conditionTest(c filter.Condition) string {
	if c.Type == filter.ConditionAttachments {
		return `header :contains "Content-Type" "multipart/mixed"`
	}

	var test, fields string
	patterns := c.Values()
	switch c.Type {
	case filter.ConditionSender:
		test, fields = "address", quote("From")
	case filter.ConditionRecipient:
		test, fields = "address", stringList([]string{"To", "Cc"})
	case filter.ConditionSubject:
		test, fields = "header", quote("Subject")
	case filter.ConditionHeader:
		var name string
		name, patterns = c.HeaderPatterns()
		test, fields = "header", quote(name)
	default:
		return "false"
	}

	match, keys := matchArgs(c.Operator, patterns)
	return fmt.Sprintf("%s %s %s %s", test, match, fields, keys)
}

// matchArgs maps an operator onto a Sieve match type and key list.
func matchArgs(op filter.Operator, patterns []string) (string, string) {
	keys := make([]string, len(patterns))
	match := ":contains"
	for i, p := range patterns {
		switch op {
		case filter.OperatorIs:
			match, keys[i] = ":is", p
		case filter.OperatorMatches:
			match, keys[i] = ":matches", p
		case filter.OperatorStartsWith:
			match, keys[i] = ":matches", escapeGlob(p)+"*"
		case filter.OperatorEndsWith:
			match, keys[i] = ":matches", "*"+escapeGlob(p)
		case filter.OperatorHas:
			match, keys[i] = ":matches", "?*"
		default:
			keys[i] = p
		}
	}
	if op == filter.OperatorHas {
		keys = keys[:1]
	}
	return match, keyList(keys)
}

func keyList(keys []string) string {
	if len(keys) == 1 {
		return quote(keys[0])
	}
	return stringList(keys)
}

// actionCommands renders the actions of a rule. Flags are set before any
// fileinto so they apply to the filed copy.
func actionCommands(actions []filter.Action) (cmds []string, fileinto, flags bool) {
	var flagCmds, fileCmds []string
	for _, a := range actions {
		switch a.Type {
		case filter.ActionMarkRead:
			flagCmds = append(flagCmds, "addflag "+quote(FlagSeen)+";")
		case filter.ActionStar:
			flagCmds = append(flagCmds, "addflag "+quote(FlagFlagged)+";")
		case filter.ActionMoveTo, filter.ActionLabel:
			if folder := a.Folder(); folder != "" {
				fileCmds = append(fileCmds, "fileinto "+quote(folder)+";")
			}
		case filter.ActionArchive:
			fileCmds = append(fileCmds, "fileinto "+quote(ArchiveFolder)+";")
		case filter.ActionDelete:
			fileCmds = append(fileCmds, "fileinto "+quote(TrashFolder)+";")
		}
	}
	cmds = append(flagCmds, fileCmds...)
	if len(cmds) == 0 {
		cmds = []string{"keep;"}
	}
	return cmds, len(fileCmds) > 0, len(flagCmds) > 0
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func stringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// escapeGlob makes s match literally inside a :matches key.
func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`).Replace(s)
}
