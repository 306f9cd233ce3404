package generator

import (
	"strings"
	"unicode"
)

// keywords are checked in order; on a tie the earlier kind wins.
var keywords = []struct {
	kind  Kind
	words []string
}{
	{KindTask, []string{"task", "todo", "to-do", "project", "kanban", "team", "management", "planner", "workflow"}},
	{KindEcommerce, []string{"shop", "store", "e-commerce", "ecommerce", "product", "cart", "sell", "selling", "marketplace", "checkout", "catalog"}},
	{KindBlog, []string{"blog", "post", "article", "comment", "journal", "news", "magazine"}},
}

// Classify picks the archetype whose keywords occur most often in prompt.
// Prompts without any keyword are generic.
func Classify(prompt string) Kind {
	tokens := tokenize(prompt)
	best, bestScore := KindGeneric, 0
	for _, k := range keywords {
		score := 0
		for _, tok := range tokens {
			for _, w := range k.words {
				if matches(tok, w) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best, bestScore = k.kind, score
		}
	}
	return best
}

// tokenize splits on anything but letters, digits and hyphens. Hyphenated
// words are kept whole and also contribute their parts.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
		if strings.Contains(f, "-") {
			for _, part := range strings.Split(f, "-") {
				if part != "" {
					tokens = append(tokens, part)
				}
			}
		}
	}
	return tokens
}

// matches accepts the keyword itself and its simple plurals.
func matches(token, word string) bool {
	return token == word || token == word+"s" || token == word+"es"
}
