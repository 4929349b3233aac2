package compressor

import "regexp"

// languageProfile carries the comment syntax for a language's compression
// rules. Unknown languages fall back to defaultProfile.
type languageProfile struct {
	lineComment   string
	blockOpen     string
	blockClose    string
	structuralKw  []string // keywords that open a "structural" line kept at Aggressive
}

var defaultProfile = languageProfile{
	lineComment:  "//",
	blockOpen:    "/*",
	blockClose:   "*/",
	structuralKw: []string{"if", "for", "while", "switch", "return", "func", "function", "def", "class", "struct", "type", "interface"},
}

var pythonProfile = languageProfile{
	lineComment:  "#",
	blockOpen:    `"""`,
	blockClose:   `"""`,
	structuralKw: []string{"if", "for", "while", "def", "class", "return", "elif", "else"},
}

var profiles = map[string]languageProfile{
	"go":         defaultProfile,
	"javascript": defaultProfile,
	"typescript": defaultProfile,
	"java":       defaultProfile,
	"c":          defaultProfile,
	"cpp":        defaultProfile,
	"rust":       defaultProfile,
	"python":     pythonProfile,
}

func profileFor(language string) languageProfile {
	if p, ok := profiles[language]; ok {
		return p
	}
	return defaultProfile
}

var blankRunPattern = regexp.MustCompile(`\n{3,}`)
var trailingWhitespacePattern = regexp.MustCompile(`[ \t]+\n`)
var innerWhitespacePattern = regexp.MustCompile(`[ \t]{2,}`)
