package waf

import "regexp"

// Category names the family of attack a signature belongs to.
type Category string

const (
	CategoryXSS  Category = "XSS"
	CategorySQLi Category = "SQLi"
	CategoryLFI  Category = "LFI"
	CategoryCMD  Category = "CMD"
)

// Signature is an ordered list of patterns for one category.
type Signature struct {
	Category Category
	Patterns []*regexp.Regexp
}

const shellBinaries = `(?:cat|ls|id|whoami|uname|wget|curl|nc|ncat|bash|sh|zsh|python[23]?|perl|ruby|php|rm|chmod|chown|ping|nslookup|kill|sudo|echo)`

// Signatures are evaluated in this order; the first category with a match wins.
var Signatures = []Signature{
	{
		Category: CategoryXSS,
		Patterns: compile(
			`(?i)<\s*/?\s*script\b`,
			`(?i)<[^>]*\bon[a-z]+\s*=`,
			`(?i)\b(?:javascript|vbscript)\s*:`,
			`(?i)<\s*(?:iframe|object|embed|applet|meta|base)\b`,
			`(?i)\bdocument\s*\.\s*(?:write|writeln|cookie|domain)\b`,
			`(?i)\.\s*(?:innerHTML|outerHTML)\s*=|\binsertAdjacentHTML\s*\(`,
			`(?i)\beval\s*\(|\bnew\s+Function\s*\(|\bsetTimeout\s*\(\s*['"]`,
		),
	},
	{
		Category: CategorySQLi,
		Patterns: compile(
			`(?i)\bunion\s+(?:all\s+)?select\b`,
			`(?i)\b(?:drop|truncate|alter)\s+(?:table|database|schema)\b`,
			`(?i)\binsert\s+into\b[\s\S]*\bvalues\b`,
			`(?i)\bdelete\s+from\s+\w+`,
			`(?i)\bupdate\s+\w+\s+set\s+\w+\s*=`,
			`(?i);\s*(?:select|insert|update|delete|drop|shutdown)\b`,
			`(?i)['"]\s*(?:--|#|/\*)`,
			`(?i)\s--\s*$`,
			`(?i)['"]\s*(?:or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`,
			`(?i)\bor\s+1\s*=\s*1\b`,
			`(?i)\b(?:sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b`,
			`(?i)\bexec(?:ute)?\s+(?:xp_|sp_)\w+`,
		),
	},
	{
		Category: CategoryLFI,
		Patterns: compile(
			`\.\.[/\\]`,
			`[/\\]\.\.(?:[/\\]|$)`,
			`(?i)(?:%2e|\.)(?:%2e|\.)(?:%2f|%5c)`,
			`(?i)(?:%252e){2}(?:%252f|%255c)|%c0%ae|%c0%af`,
			`(?i)/etc/(?:passwd|shadow|group|hosts)\b|/proc/self/|\bboot\.ini\b|\bwin\.ini\b|[a-z]:\\windows\\`,
			`(?i)\b(?:file|php|phar|zip|expect|glob|gopher|dict)://`,
		),
	},
	{
		Category: CategoryCMD,
		Patterns: compile(
			`(?i)[;&|]\s*`+shellBinaries+`\b`,
			`\$\([^)]*\)`,
			"(?i)`[^`]*\\b"+shellBinaries+"\\b[^`]*`",
		),
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}
