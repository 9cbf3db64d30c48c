// Package recipes looks up dinner ideas on an MCP recipe server within a fixed time budget.
package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/huddle/internal/logger"
)

const (
	ToolSearch = "search_recipes"
	ToolDetail = "get_recipe"

	defaultBudget     = 4 * time.Second
	defaultMaxResults = 3
	detailParallelism = 3
)

// ToolCaller is the part of an MCP client the lookup needs; it is easy to mock in tests.
type ToolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Query selects recipes by dietary flag and/or ingredient keyword.
type Query struct {
	Diet       string
	Ingredient string
}

// Recipe is one lookup result. Ingredients and Steps stay empty when the
// detail call missed its deadline or failed.
type Recipe struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Ingredients []string `json:"ingredients,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

// Client runs budgeted recipe lookups.
type Client struct {
	caller     ToolCaller
	budget     time.Duration
	maxResults int
	closer     func() error
}

// New wraps caller. budget bounds a whole Lookup, search and details together.
func New(caller ToolCaller, budget time.Duration, maxResults int) *Client {
	if budget <= 0 {
		budget = defaultBudget
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Client{caller: caller, budget: budget, maxResults: maxResults}
}

// Close releases the underlying MCP connection, if any.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

// Lookup searches for recipes and then fetches their details concurrently.
// Every sub-call shares one deadline; details not started before it expires
// are skipped and the search title is kept.
func (c *Client) Lookup(ctx context.Context, q Query) ([]Recipe, error) {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()
	log := logger.FromContext(ctx)

	args := map[string]any{"limit": c.maxResults}
	if q.Diet != "" {
		args["diet"] = q.Diet
	}
	if q.Ingredient != "" {
		args["ingredient"] = q.Ingredient
	}

	var found []Recipe
	if err := c.call(ctx, ToolSearch, args, &found); err != nil {
		return nil, err
	}
	recipes := make([]Recipe, 0, min(len(found), c.maxResults))
	for _, r := range found {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		recipes = append(recipes, r)
		if len(recipes) == c.maxResults {
			break
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailParallelism)
	for i := range recipes {
		if recipes[i].ID == "" {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			var detail Recipe
			if err := c.call(gctx, ToolDetail, map[string]any{"id": recipes[i].ID}, &detail); err != nil {
				log.Warn("recipe detail lookup failed", "id", recipes[i].ID, "error", err)
				return nil
			}
			if detail.Title != "" {
				recipes[i].Title = detail.Title
			}
			recipes[i].Ingredients = detail.Ingredients
			recipes[i].Steps = detail.Steps
			return nil
		})
	}
	_ = g.Wait()

	log.Debug("recipe lookup finished", "results", len(recipes), "diet", q.Diet, "ingredient", q.Ingredient)
	return recipes, nil
}

func (c *Client) call(ctx context.Context, tool string, args map[string]any, out any) error {
	res, err := c.caller.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: tool, Arguments: args},
	})
	if err != nil {
		return fmt.Errorf("call %s: %w", tool, err)
	}
	if res == nil {
		return fmt.Errorf("call %s: empty result", tool)
	}
	text := firstText(res)
	if res.IsError {
		return fmt.Errorf("call %s: tool error: %s", tool, text)
	}
	if text == "" {
		return fmt.Errorf("call %s: no text content", tool)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode %s result: %w", tool, err)
	}
	return nil
}

func firstText(res *mcp.CallToolResult) string {
	for _, item := range res.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// ErrDisabled is returned by Connect when no recipe server is configured.
var ErrDisabled = errors.New("recipe lookup disabled")

const maxStepLen = 80

// Format renders recipes as a short numbered reply, each with its first step
// when the service returned one.
func Format(recipes []Recipe) string {
	var b strings.Builder
	b.WriteString("Here are a few dinner ideas:")
	for i, r := range recipes {
		fmt.Fprintf(&b, "\n%d. %s", i+1, r.Title)
		if len(r.Ingredients) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(r.Ingredients, ", "))
		}
		if step := firstStep(r.Steps); step != "" {
			fmt.Fprintf(&b, "\n   Start: %s", step)
		}
	}
	return b.String()
}

func firstStep(steps []string) string {
	for _, s := range steps {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			continue
		}
		if utf8.RuneCountInString(s) > maxStepLen {
			s = strings.TrimSpace(string([]rune(s)[:maxStepLen-3])) + "..."
		}
		return s
	}
	return ""
}
