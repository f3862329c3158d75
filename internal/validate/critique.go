package validate

import "strings"

// Critique checks critique.md for the only requirement its opaque-markdown
// treatment imposes: the document must actually say something.
func Critique(content []byte) Result {
	if strings.TrimSpace(string(content)) == "" {
		return fail("critique.md is empty")
	}
	return ok()
}
