package database

import "strings"

// booleanOperators are stripped from user input before it reaches a
// MATCH ... AGAINST (... IN BOOLEAN MODE) clause.
const booleanOperators = `+-<>()~*"@`

// BooleanPrefixQuery turns free text into a FULLTEXT boolean-mode query in
// which every word is required and matched as a prefix:
// "lake stur" becomes "+lake* +stur*".
func BooleanPrefixQuery(input string) string {
	words := strings.FieldsFunc(input, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || strings.ContainsRune(booleanOperators, r)
	})
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, "+"+w+"*")
	}
	return strings.Join(parts, " ")
}
