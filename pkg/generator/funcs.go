package generator

import (
	"strings"
	"text/template"
	"unicode"
)

func makeFuncMap() template.FuncMap {
	return template.FuncMap{
		"join":    strings.Join,
		"lower":   strings.ToLower,
		"upper":   strings.ToUpper,
		"title":   titleWords,
		"snake":   snake,
		"pyStr":   pyStr,
		"pyTuple": pyTuple,
		"add":     add,
		"last":    last,
	}
}

// snake converts CamelCase to snake_case the way Flask-SQLAlchemy names tables.
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// pyStr quotes s as a single-quoted Python string literal.
func pyStr(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}

// pyTuple renders a tuple of string literals.
func pyTuple(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = pyStr(item)
	}
	if len(quoted) == 1 {
		return "(" + quoted[0] + ",)"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

func add(a, b int) int {
	return a + b
}

// last reports whether i is the final index of a slice of length n.
func last(i, n int) bool {
	return i == n-1
}
