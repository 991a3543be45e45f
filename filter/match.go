package filter

import "strings"

// Message is the subset of a mail message the rule conditions look at.
type Message struct {
	Sender      string
	Recipients  []string
	Subject     string
	Headers     map[string][]string
	Attachments bool
}

// header looks a header up case-insensitively.
func (m Message) header(name string) []string {
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// fold lowers ASCII letters only, as the Sieve "i;ascii-casemap" comparator
// does. Other bytes compare exactly.
func fold(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// Matches evaluates the rule against a message using the rule's own logic.
// A rule without conditions matches every message.
func (r Rule) Matches(m Message) bool {
	return ConditionGroup{Logic: r.Logic, Conditions: r.Conditions}.Matches(m)
}

// Matches evaluates the group's conditions combined with its logic.
func (g ConditionGroup) Matches(m Message) bool {
	if len(g.Conditions) == 0 {
		return true
	}
	if g.Logic == LogicOr {
		for _, c := range g.Conditions {
			if c.Matches(m) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Conditions {
		if !c.Matches(m) {
			return false
		}
	}
	return true
}

// Matches reports whether any group matches.
func (cr ConsolidatedRule) Matches(m Message) bool {
	if len(cr.Groups) == 0 {
		return true
	}
	for _, g := range cr.Groups {
		if g.Matches(m) {
			return true
		}
	}
	return false
}

// Matches evaluates a single condition. Multi-valued conditions match when
// any alternative does.
func (c Condition) Matches(m Message) bool {
	var targets, patterns []string
	switch c.Type {
	case ConditionAttachments:
		return m.Attachments
	case ConditionSender:
		targets = []string{m.Sender}
	case ConditionRecipient:
		targets = m.Recipients
	case ConditionSubject:
		targets = []string{m.Subject}
	case ConditionHeader:
		var name string
		name, patterns = c.HeaderPatterns()
		targets = m.header(name)
	}
	if patterns == nil {
		patterns = c.Values()
	}
	for _, p := range patterns {
		for _, t := range targets {
			if compare(c.Operator, t, p) {
				return true
			}
		}
	}
	return false
}

func compare(op Operator, target, pattern string) bool {
	t, p := fold(target), fold(pattern)
	switch op {
	case OperatorContains:
		return strings.Contains(t, p)
	case OperatorIs:
		return t == p
	case OperatorStartsWith:
		return strings.HasPrefix(t, p)
	case OperatorEndsWith:
		return strings.HasSuffix(t, p)
	case OperatorMatches:
		return MatchGlob(p, t)
	case OperatorHas:
		return t != ""
	default:
		return false
	}
}

// MatchGlob implements Sieve ":matches" wildcards: '*' matches any sequence,
// '?' one octet and '\' escapes the next character.
func MatchGlob(pattern, s string) bool {
	p := []byte(pattern)
	r := []byte(s)
	pi, si := 0, 0
	starP, starS := -1, -1
	for si < len(r) {
		if pi < len(p) {
			switch p[pi] {
			case '*':
				starP, starS = pi, si
				pi++
				continue
			case '?':
				pi++
				si++
				continue
			case '\\':
				if pi+1 < len(p) && p[pi+1] == r[si] {
					pi += 2
					si++
					continue
				}
			default:
				if p[pi] == r[si] {
					pi++
					si++
					continue
				}
			}
		}
		if starP < 0 {
			return false
		}
		starS++
		pi, si = starP+1, starS
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
