package hook

import "strings"

// Category classifies what concern a hook gates. It drives SELECTIVE
// hook narrowing (changed-file types map to categories) and the issue
// categories handed to the AI-fix phase.
type Category string

const (
	CategoryLint     Category = "lint"
	CategoryFormat   Category = "format"
	CategoryTypes    Category = "types"
	CategoryTests    Category = "tests"
	CategorySecurity Category = "security"
	CategoryDeps     Category = "dependencies"
	CategoryGeneric  Category = "generic"
)

// categoryKeywords maps hook-name substrings to categories. First
// match wins, checked in declaration order.
var categoryKeywords = []struct {
	keyword  string
	category Category
}{
	{"format", CategoryFormat},
	{"fmt", CategoryFormat},
	{"black", CategoryFormat},
	{"isort", CategoryFormat},
	{"mypy", CategoryTypes},
	{"type", CategoryTypes},
	{"pyright", CategoryTypes},
	{"test", CategoryTests},
	{"pytest", CategoryTests},
	{"coverage", CategoryTests},
	{"bandit", CategorySecurity},
	{"security", CategorySecurity},
	{"audit", CategorySecurity},
	{"secret", CategorySecurity},
	{"dep", CategoryDeps},
	{"pip", CategoryDeps},
	{"package", CategoryDeps},
	{"lint", CategoryLint},
	{"ruff", CategoryLint},
	{"flake", CategoryLint},
	{"vulture", CategoryLint},
}

// Categorize maps a hook name to its category. Unknown names are
// CategoryGeneric.
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	for _, entry := range categoryKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.category
		}
	}
	return CategoryGeneric
}
