// Package querygen builds an audit's query set from a CompanyProfile
// (SPEC_FULL.md §4.3): one LLM prompt enumerating the profile, parsed into
// deduplicated, category-balanced candidate queries.
package querygen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brandpulse/geoaudit/pipeline/models"
	"github.com/brandpulse/geoaudit/pipeline/perr"
	"github.com/brandpulse/geoaudit/provider"
)

// Completer is the narrow LLM surface the generator needs. Satisfied by
// *provider.Caller.
type Completer interface {
	Complete(ctx context.Context, providerName string, req provider.Request) (*provider.Response, error)
}

// Generator produces an audit's query set.
type Generator struct {
	caller       Completer
	providerName string
	model        string
	maxExtraCalls int
}

// New builds a Generator that uses providerName/model for its prompts.
func New(caller Completer, providerName, model string) *Generator {
	return &Generator{caller: caller, providerName: providerName, model: model, maxExtraCalls: 2}
}

type candidateQuery struct {
	Text          string  `json:"text"`
	Category      string  `json:"category"`
	IntentSubtype string  `json:"intent_subtype"`
	Priority      float64 `json:"priority"`
}

type generationReply struct {
	Queries []candidateQuery `json:"queries"`
}

// Generate returns up to n unique, category-balanced queries for the audit.
// Per §4.3, if the first call returns fewer than 25% of n, the audit fails
// (perr.KindPermanent); otherwise the partial unique set is accepted. A
// malformed (KindData) first reply is retried once before it is returned.
func (g *Generator) Generate(ctx context.Context, auditID string, profile *models.CompanyProfile, n int) ([]*models.AuditQuery, error) {
	if n <= 0 {
		n = 48
	}

	seen := make(map[string]struct{}, n)
	var unique []candidateQuery

	first, err := g.requestBatch(ctx, profile, n, nil)
	if err != nil && perr.KindOf(err) == perr.KindData {
		first, err = g.requestBatch(ctx, profile, n, nil) // a malformed reply gets one retry
	}
	if err != nil {
		return nil, err
	}
	unique = appendUnique(unique, seen, first)

	minRequired := n / 4
	if len(unique) < minRequired {
		return nil, perr.New(perr.KindPermanent, "insufficient_queries",
			fmt.Sprintf("generator returned %d queries, below the 25%% floor of %d", len(unique), minRequired)).
			WithProvider(g.providerName)
	}

	for attempt := 0; attempt < g.maxExtraCalls && len(unique) < n; attempt++ {
		remaining := n - len(unique)
		more, err := g.requestBatch(ctx, profile, remaining, existingTexts(unique))
		if err != nil {
			break // data/transient failure on a top-up call: keep what we have
		}
		unique = appendUnique(unique, seen, more)
	}

	balanced := balanceCategories(unique, n)

	queries := make([]*models.AuditQuery, 0, len(balanced))
	for _, c := range balanced {
		queries = append(queries, &models.AuditQuery{
			AuditID:       auditID,
			Text:          c.Text,
			Category:      models.BuyerJourneyCategory(c.Category),
			IntentSubtype: c.IntentSubtype,
			Priority:      c.Priority,
		})
	}
	return queries, nil
}

func (g *Generator) requestBatch(ctx context.Context, profile *models.CompanyProfile, count int, exclude []string) ([]candidateQuery, error) {
	prompt := buildPrompt(profile, count, exclude)
	resp, err := g.caller.Complete(ctx, g.providerName, provider.Request{
		Model:      g.model,
		SystemText: "You generate realistic buyer-journey search queries for brand visibility audits. Respond with a single JSON object only.",
		Prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	var reply generationReply
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &reply); err != nil {
		return nil, perr.New(perr.KindData, "malformed_query_json", err.Error()).WithProvider(g.providerName)
	}
	return reply.Queries, nil
}

func buildPrompt(profile *models.CompanyProfile, count int, exclude []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", profile.Name)
	fmt.Fprintf(&b, "Industry: %s\n", profile.Industry)
	fmt.Fprintf(&b, "Description: %s\n", profile.EffectiveDescription())
	fmt.Fprintf(&b, "Value propositions: %s\n", strings.Join(profile.ValuePropositions, "; "))
	fmt.Fprintf(&b, "Target audiences: %s\n", strings.Join(profile.TargetAudiences, "; "))
	fmt.Fprintf(&b, "Competitors: %s\n", strings.Join(profile.Competitors, "; "))
	fmt.Fprintf(&b, "Pain points: %s\n", strings.Join(profile.PainPoints, "; "))
	fmt.Fprintf(&b, "\nGenerate %d unique search queries a prospective buyer might type into an LLM assistant, ", count)
	b.WriteString("balanced across these six buyer-journey categories: problem_unaware, problem_aware, ")
	b.WriteString("solution_aware, product_aware, most_aware, brand_defense. ")
	if len(exclude) > 0 {
		fmt.Fprintf(&b, "Do not repeat any of these existing queries: %s. ", strings.Join(exclude, " | "))
	}
	b.WriteString(`Respond as JSON: {"queries": [{"text": "...", "category": "...", "intent_subtype": "...", "priority": 0.0}]}`)
	return b.String()
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}

func existingTexts(queries []candidateQuery) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = q.Text
	}
	return out
}

// appendUnique keeps the first occurrence in returned order, discarding
// exact duplicates by lowercased-trimmed text (SPEC_FULL.md §4.3).
func appendUnique(acc []candidateQuery, seen map[string]struct{}, batch []candidateQuery) []candidateQuery {
	for _, c := range batch {
		key := strings.ToLower(strings.TrimSpace(c.Text))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		acc = append(acc, c)
	}
	return acc
}

// balanceCategories enforces the no-category-exceeds-ceil(n/6)+1 cap,
// dropping overflow queries from the tail of each category in returned
// order, then truncates the whole set to n.
func balanceCategories(queries []candidateQuery, n int) []candidateQuery {
	categoryCap := (n + 5) / 6 + 1
	counts := make(map[string]int, len(models.AllCategories))

	balanced := make([]candidateQuery, 0, len(queries))
	for _, q := range queries {
		cat := q.Category
		if !isKnownCategory(cat) {
			cat = string(models.CategoryProductAware)
			q.Category = cat
		}
		if counts[cat] >= categoryCap {
			continue
		}
		counts[cat]++
		balanced = append(balanced, q)
	}

	if len(balanced) > n {
		balanced = balanced[:n]
	}
	return balanced
}

func isKnownCategory(cat string) bool {
	for _, c := range models.AllCategories {
		if string(c) == cat {
			return true
		}
	}
	return false
}
