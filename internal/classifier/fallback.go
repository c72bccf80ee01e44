package classifier

import "soulagent/internal/types"

// fallbackRule maps a source to the deterministic category/importance
// pair applied when the LLM call fails or its response can't be
// trusted (spec.md §4.4, fallback table).
type fallbackRule struct {
	category   types.Category
	importance int
}

var fallbackRules = map[types.Source]fallbackRule{
	types.SourceTerminal:    {types.CategoryCoding, 3},
	types.SourceBrowser:     {types.CategoryBrowsing, 3},
	types.SourceClaudeCode:  {types.CategoryCoding, 3},
	types.SourceInputMethod: {types.CategoryCommunication, 3},
}

var defaultFallbackRule = fallbackRule{types.CategoryWork, 3}

// fallback builds a ClassifiedItem straight from the rule table,
// bypassing the LLM entirely. Summary is the item text truncated to
// 30 runes, tags are empty, and no action is detected.
func fallback(item types.IngestItem) types.ClassifiedItem {
	rule, ok := fallbackRules[item.Source]
	if !ok {
		rule = defaultFallbackRule
	}
	return types.ClassifiedItem{
		IngestItem: item,
		Category:   rule.category,
		Tags:       []string{},
		Importance: rule.importance,
		Summary:    truncate(item.Text, 30),
	}
}
