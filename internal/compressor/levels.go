package compressor

import (
	"regexp"
	"strings"
)

// compressLight removes comments, collapses blank-line runs to one, and
// strips trailing whitespace. It is intentionally regex-based rather than
// AST-based: §9 accepts the tradeoff of occasional false positives inside
// string literals in exchange for a language-agnostic implementation.
func compressLight(content string, profile languageProfile) string {
	out := stripBlockComments(content, profile)
	out = stripLineComments(out, profile)
	out = trailingWhitespacePattern.ReplaceAllString(out, "\n")
	out = blankRunPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimRight(out, " \t\n") + "\n"
}

// compressMedium builds on Light by collapsing interior whitespace runs to
// a single space and dropping blank lines entirely.
func compressMedium(lightContent string, profile languageProfile) string {
	lines := strings.Split(lightContent, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		kept = append(kept, innerWhitespacePattern.ReplaceAllString(trimmed, " "))
	}
	return strings.Join(kept, "\n")
}

var structuralLinePattern = regexp.MustCompile(`^\s*(if|for|while|switch|return|func|function|def|class|struct|type|interface|public|private|export)\b`)

// compressAggressive extracts signature lines plus a curated subset of
// "structural" lines (control flow headers, returns, top-level
// declarations), omitting inner block bodies.
func compressAggressive(content string, profile languageProfile, opts Options) string {
	lines := strings.Split(content, "\n")
	var kept []string
	depth := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isCommentLine(trimmed) {
			continue
		}

		opens := strings.Count(trimmed, "{")
		closes := strings.Count(trimmed, "}")

		isImport := strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "use ") || strings.HasPrefix(trimmed, "from ")
		isTypeDecl := strings.HasPrefix(trimmed, "type ") || strings.HasPrefix(trimmed, "interface ") || strings.HasPrefix(trimmed, "struct ")

		structural := structuralLinePattern.MatchString(trimmed)
		if !structural {
			word := trimmed
			if end := strings.IndexFunc(trimmed, func(r rune) bool {
				return !(r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'))
			}); end >= 0 {
				word = trimmed[:end]
			}
			for _, kw := range profile.structuralKw {
				if word == kw {
					structural = true
					break
				}
			}
		}

		switch {
		case opts.PreserveImports && isImport:
			kept = append(kept, line)
		case opts.PreserveTypes && isTypeDecl:
			kept = append(kept, line)
		case depth == 0:
			kept = append(kept, line)
		case structural:
			kept = append(kept, line)
		}

		depth += opens - closes
		if depth < 0 {
			depth = 0
		}
	}

	return strings.Join(kept, "\n")
}

func stripBlockComments(content string, profile languageProfile) string {
	if profile.blockOpen == "" || profile.blockClose == "" {
		return content
	}
	pattern := regexp.QuoteMeta(profile.blockOpen) + `[\s\S]*?` + regexp.QuoteMeta(profile.blockClose)
	re := regexp.MustCompile(pattern)
	return re.ReplaceAllString(content, "")
}

func stripLineComments(content string, profile languageProfile) string {
	if profile.lineComment == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if idx := firstUnquotedIndex(line, profile.lineComment); idx >= 0 {
			lines[i] = strings.TrimRight(line[:idx], " \t")
		}
	}
	return strings.Join(lines, "\n")
}

// firstUnquotedIndex returns the index of marker's first occurrence in line
// outside of a single- or double-quoted string literal, or -1 if none.
// This is a heuristic, not a full lexer: escaped quotes inside strings are
// not specially handled, matching the regex-based tradeoff of this package.
func firstUnquotedIndex(line, marker string) int {
	if marker == "" {
		return -1
	}
	inSingle, inDouble, inBacktick := false, false, false
	for i := 0; i+len(marker) <= len(line); i++ {
		switch line[i] {
		case '\'':
			if !inDouble && !inBacktick {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle && !inBacktick {
				inDouble = !inDouble
			}
		case '`':
			if !inSingle && !inDouble {
				inBacktick = !inBacktick
			}
		}
		if !inSingle && !inDouble && !inBacktick && line[i:i+len(marker)] == marker {
			return i
		}
	}
	return -1
}
