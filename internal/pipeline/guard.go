package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	errEmptyStatement     = errors.New("empty SQL statement")
	errMultipleStatements = errors.New("multiple SQL statements are not allowed")
	errNotReadOnly        = errors.New("only read-only SELECT/WITH queries are allowed")
)

// mutatingKeywords never appear in a read-only analytic query outside string
// literals or comments.
var mutatingKeywords = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"merge":    true,
	"upsert":   true,
	"drop":     true,
	"create":   true,
	"alter":    true,
	"truncate": true,
	"grant":    true,
	"revoke":   true,
	"attach":   true,
	"detach":   true,
	"copy":     true,
	"pragma":   true,
	"vacuum":   true,
	"install":  true,
	"load":     true,
	"call":     true,
}

// checkSQL accepts exactly one statement. With readOnly set the statement
// must start with SELECT or WITH and contain no mutating keyword.
func checkSQL(sqlText string, readOnly bool) error {
	code := maskLiterals(sqlText)
	code = strings.TrimRightFunc(code, func(r rune) bool {
		return r == ';' || unicode.IsSpace(r)
	})
	if strings.TrimSpace(code) == "" {
		return errEmptyStatement
	}
	if strings.Contains(code, ";") {
		return errMultipleStatements
	}
	if !readOnly {
		return nil
	}

	words := strings.FieldsFunc(strings.ToLower(code), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	if len(words) == 0 || (words[0] != "select" && words[0] != "with") {
		return errNotReadOnly
	}
	for _, word := range words {
		if mutatingKeywords[word] {
			return fmt.Errorf("%w: found %s", errNotReadOnly, strings.ToUpper(word))
		}
	}
	return nil
}

// maskLiterals blanks string literals, quoted identifiers and comments so
// that keyword and semicolon checks only see SQL code.
func maskLiterals(sqlText string) string {
	var b strings.Builder
	b.Grow(len(sqlText))

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			b.WriteRune(' ')
			for i++; i < len(runes); i++ {
				if runes[i] != r {
					continue
				}
				if i+1 < len(runes) && runes[i+1] == r {
					i++
					continue
				}
				break
			}
			b.WriteRune(' ')
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			b.WriteRune('\n')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripFences removes markdown code fence markers wherever they occur.
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```sql", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}
