package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/comigor/huddle/internal/logger"
	"github.com/comigor/huddle/internal/recipes"
)

var (
	dinnerPattern = regexp.MustCompile(`(?i)\b(?:dinner|supper|recipes?|what\s+should\s+we\s+(?:cook|eat|make))\b`)
	dietFlag      = regexp.MustCompile(`(?i)\b(vegetarian|vegan|pescatarian|keto|paleo|gluten[- ]free|dairy[- ]free)\b`)

	// Capitalized words after "with" are taken as people, not ingredients.
	withKeyword = regexp.MustCompile(`\b[Ww]ith\s+(?:(?:some|the|a|an|leftover)\s+)*(\p{Ll}[\p{L}-]{2,})`)
)

// companions are lower-case words that name who is eating rather than what.
var companions = map[string]struct{}{
	"me": {}, "us": {}, "you": {}, "them": {}, "everyone": {}, "everybody": {},
	"friends": {}, "family": {}, "kids": {}, "children": {}, "guests": {}, "people": {},
	"mom": {}, "dad": {}, "parents": {}, "grandma": {}, "grandpa": {}, "roommates": {},
	"my": {}, "our": {}, "your": {}, "his": {}, "her": {}, "their": {},
}

// dietaryFlags are the preference keys consulted when the text names no diet.
var dietaryFlags = []string{"vegetarian", "vegan", "pescatarian", "keto", "paleo", "gluten-free", "dairy-free"}

// dinnerIntent answers dinner questions from the recipe service. Any failure
// or an empty result passes to generation.
func (a *Agent) dinnerIntent(ctx context.Context, t *turn) *draft {
	if a.recipes == nil || !dinnerPattern.MatchString(t.req.Text) {
		return nil
	}
	q := recipes.Query{Diet: a.diet(ctx, t), Ingredient: ingredient(t.req.Text)}

	found, err := a.recipes.Lookup(ctx, q)
	if err != nil {
		logger.FromContext(ctx).Warn("recipe lookup failed", "error", err)
		return nil
	}
	if len(found) == 0 {
		return nil
	}
	return &draft{content: recipes.Format(found), source: "recipes"}
}

// ingredient returns the first "with <ingredient>" in text, skipping people.
func ingredient(text string) string {
	for _, m := range withKeyword.FindAllStringSubmatch(text, -1) {
		word := strings.ToLower(m[1])
		if _, ok := companions[word]; ok {
			continue
		}
		return word
	}
	return ""
}

func (a *Agent) diet(ctx context.Context, t *turn) string {
	if m := dietFlag.FindStringSubmatch(t.req.Text); m != nil {
		return normalizeDiet(m[1])
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	prefs, err := a.store.Preferences(sctx, t.req.ConversationID, t.req.UserID)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to load preferences for recipe lookup", "error", err)
		return ""
	}
	if d := prefs["diet"]; d != "" {
		return normalizeDiet(d)
	}
	for _, flag := range dietaryFlags {
		if strings.EqualFold(prefs[flag], "true") || strings.EqualFold(prefs[flag], "yes") {
			return flag
		}
	}
	return ""
}

func normalizeDiet(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}
