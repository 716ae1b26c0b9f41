// Package analyzer implements the per-response NLP pass that populates
// Analysis rows (SPEC_FULL.md §4.5): brand/competitor detection, LLM-backed
// sentiment and rubric scoring, and the GEO/SOV/context-completeness/
// recommendation-signal subscores.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brandpulse/geoaudit/domainfetch"
	"github.com/brandpulse/geoaudit/egress"
	"github.com/brandpulse/geoaudit/pipeline/models"
	"github.com/brandpulse/geoaudit/provider"
)

// Caller is the narrow LLM surface the analyzer needs.
type Caller interface {
	Complete(ctx context.Context, providerName string, req provider.Request) (*provider.Response, error)
}

// Store is the persistence surface the analyzer writes through.
type Store interface {
	SaveAnalysis(ctx context.Context, analysis *models.AuditAnalysis) error
}

// Progress is notified every Δ analyses (SPEC_FULL.md §5).
type Progress interface {
	PublishProgress(ctx context.Context, msg egress.ProgressMessage) error
}

const progressDelta = 5

// Analyzer runs the per-response NLP pass for one audit.
type Analyzer struct {
	caller      Caller
	store       Store
	progress    Progress
	fetcher     *domainfetch.Fetcher
	concurrency int
	llmProvider string
	llmModel    string
}

// New builds an Analyzer with a bounded-concurrency gate of width
// concurrency (default 10 per SPEC_FULL.md §4.5/§5). llmProvider/llmModel
// select which adapter backs the rubric-scoring LLM calls.
func New(caller Caller, store Store, progress Progress, fetcher *domainfetch.Fetcher, concurrency int, llmProvider, llmModel string) *Analyzer {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Analyzer{
		caller:      caller,
		store:       store,
		progress:    progress,
		fetcher:     fetcher,
		concurrency: concurrency,
		llmProvider: llmProvider,
		llmModel:    llmModel,
	}
}

// Run analyzes every non-empty-text Response, persisting one Analysis per
// Response independently; a failure analyzing one response marks that
// Analysis errored and does not abort the phase (SPEC_FULL.md §4.5, §7).
func (a *Analyzer) Run(ctx context.Context, auditID string, profile *models.CompanyProfile, responses []*models.AuditResponse) error {
	total := 0
	for _, r := range responses {
		if !r.Failed() && strings.TrimSpace(r.Text) != "" {
			total++
		}
	}
	if total == 0 {
		return nil
	}

	sem := make(chan struct{}, a.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var completed int64
	var seq int64
	var progressMu sync.Mutex

	for _, r := range responses {
		if r.Failed() || strings.TrimSpace(r.Text) == "" {
			continue
		}
		r := r
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()

			analysis := a.analyzeOne(gctx, auditID, profile, r)
			if err := a.store.SaveAnalysis(gctx, analysis); err != nil {
				return err
			}

			n := atomic.AddInt64(&completed, 1)
			if n%progressDelta == 0 && a.progress != nil {
				progressMu.Lock()
				seq++
				msg := egress.ProgressMessage{
					AuditID:   auditID,
					Phase:     "analyzing",
					Completed: int(n),
					Total:     total,
					Timestamp: time.Now().UTC().Unix(),
					Sequence:  seq,
				}
				progressMu.Unlock()
				_ = a.progress.PublishProgress(gctx, msg)
			}
			return nil
		})
	}

	return g.Wait()
}

func (a *Analyzer) analyzeOne(ctx context.Context, auditID string, profile *models.CompanyProfile, resp *models.AuditResponse) *models.AuditAnalysis {
	analysis := &models.AuditAnalysis{
		AuditID:    auditID,
		ResponseID: resp.ID,
	}

	mentioned, position := detectWholeWord(resp.Text, profile.Name)
	analysis.BrandMentioned = mentioned
	analysis.FirstMentionPosition = position

	var competitors []models.CompetitorMention
	for _, name := range profile.Competitors {
		if ok, pos := detectWholeWord(resp.Text, name); ok {
			competitors = append(competitors, models.CompetitorMention{Name: name, Position: pos})
		}
	}
	unknown, err := a.extractUnknownCompetitors(ctx, resp.Text, profile)
	if err == nil {
		competitors = append(competitors, unknown...)
	}
	analysis.CompetitorsMentioned = competitors

	rubric, err := a.rubricScore(ctx, profile, resp.Text)
	if err != nil {
		analysis.Errored = true
		analysis.ErrorMessage = err.Error()
		return analysis
	}
	analysis.Sentiment = models.SentimentClass(rubric.Sentiment)
	analysis.SentimentScore = clampNeg1to1(rubric.SentimentScore)
	analysis.ContextCompleteness = clamp0to100(rubric.ContextCompleteness)
	analysis.RecommendationSignal = clamp0to100(rubric.RecommendationSignal)
	analysis.Recommendations = rubric.Recommendations

	analysis.SOVScore = sovScore(mentioned, len(competitors))
	analysis.GEOScore = a.geoScore(ctx, profile, resp.Text, rubric.StructuralQuality, mentioned)

	return analysis
}

var wordBoundary = `(?i)\b%s('s)?\b`

// detectWholeWord case-insensitively finds name as a whole word, also
// matching its possessive form ("Acme's"), and returns the character offset
// of the first hit (SPEC_FULL.md §4.5).
func detectWholeWord(text, name string) (bool, *int) {
	name = strings.TrimSpace(name)
	if name == "" || text == "" {
		return false, nil
	}
	pattern := strings.ReplaceAll(regexp.QuoteMeta(name), `\-`, `[-\s]?`)
	re, err := regexp.Compile(fmt.Sprintf(wordBoundary, pattern))
	if err != nil {
		return false, nil
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return false, nil
	}
	pos := loc[0]
	return true, &pos
}

// sovScore implements SPEC_FULL.md §4.5's `100 · brand_mentions /
// (brand_mentions + Σ competitor_mentions)` with zero-denominator -> 0.
func sovScore(brandMentioned bool, competitorCount int) float64 {
	brandMentions := 0
	if brandMentioned {
		brandMentions = 1
	}
	denom := brandMentions + competitorCount
	if denom == 0 {
		return 0
	}
	return 100 * float64(brandMentions) / float64(denom)
}

type competitorExtraction struct {
	Names []string `json:"names"`
}

// extractUnknownCompetitors asks the LLM to return only competitor names
// that appear verbatim in the response text, catching names outside the
// profile's known competitor list (SPEC_FULL.md §4.5).
func (a *Analyzer) extractUnknownCompetitors(ctx context.Context, text string, profile *models.CompanyProfile) ([]models.CompetitorMention, error) {
	prompt := "Response text:\n" + text +
		"\n\nList any competitor company names that appear verbatim in the text above, other than: " +
		strings.Join(append([]string{profile.Name}, profile.Competitors...), ", ") +
		`. Respond as JSON: {"names": ["..."]}. If none, respond {"names": []}.`

	resp, err := a.caller.Complete(ctx, a.llmProvider, provider.Request{
		Model:      a.llmModel,
		SystemText: "You extract verbatim company names from text. Respond with JSON only.",
		Prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	var out competitorExtraction
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &out); err != nil {
		return nil, err
	}

	var mentions []models.CompetitorMention
	for _, name := range out.Names {
		if !strings.Contains(strings.ToLower(text), strings.ToLower(name)) {
			continue // not actually verbatim; drop a hallucinated name
		}
		if ok, pos := detectWholeWord(text, name); ok {
			mentions = append(mentions, models.CompetitorMention{Name: name, Position: pos})
		}
	}
	return mentions, nil
}

type rubricResult struct {
	Sentiment            string   `json:"sentiment"`
	SentimentScore       float64  `json:"sentiment_score"`
	ContextCompleteness  float64  `json:"context_completeness"`
	RecommendationSignal float64  `json:"recommendation_signal"`
	StructuralQuality    float64  `json:"structural_quality"`
	Recommendations      []string `json:"recommendations"`
}

func (a *Analyzer) rubricScore(ctx context.Context, profile *models.CompanyProfile, text string) (*rubricResult, error) {
	prompt := "Company: " + profile.Name + "\nUVPs: " + strings.Join(profile.ValuePropositions, "; ") +
		"\nAudiences: " + strings.Join(profile.TargetAudiences, "; ") +
		"\nPain points: " + strings.Join(profile.PainPoints, "; ") +
		"\n\nResponse text to rate:\n" + text +
		"\n\nRate this response on a 0-100 scale for: context_completeness (coverage of the UVPs/audiences/pain points above), " +
		"recommendation_signal (does it recommend the brand to the asker), structural_quality (headings, lists, answer-first prose). " +
		"Classify sentiment as positive, neutral, or negative with a signed sentiment_score in [-1,1]. " +
		"Extract any brand-specific recommendations implied by the text. Respond as JSON: " +
		`{"sentiment": "...", "sentiment_score": 0.0, "context_completeness": 0, "recommendation_signal": 0, ` +
		`"structural_quality": 0, "recommendations": ["..."]}`

	resp, err := a.caller.Complete(ctx, a.llmProvider, provider.Request{
		Model:      a.llmModel,
		SystemText: "You are a strict JSON-only response rater for brand visibility audits.",
		Prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	var out rubricResult
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// geoScore blends citation presence (a cached domain fetch), structural
// quality (from the rubric call), and entity completeness (whether the
// brand was mentioned at all) into the 0-100 GEO subscore (SPEC_FULL.md §4.5).
func (a *Analyzer) geoScore(ctx context.Context, profile *models.CompanyProfile, text string, structuralQuality float64, brandMentioned bool) float64 {
	citation := 0.0
	if host := hostOf(profile.Domain); host != "" && a.fetcher != nil {
		result := a.fetcher.Fetch(ctx, host)
		if result.Reachable && strings.Contains(strings.ToLower(text), strings.ToLower(host)) {
			citation = 100
		}
	}

	entityCompleteness := 0.0
	if brandMentioned {
		entityCompleteness = 100
	}

	return 0.4*citation + 0.35*clamp0to100(structuralQuality) + 0.25*entityCompleteness
}

func hostOf(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	if u, err := url.Parse(domain); err == nil && u.Host != "" {
		return u.Host
	}
	return domain
}

func clamp0to100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// clampNeg1to1 enforces the [-1,1] range §8 requires for sentiment_score;
// a rubric reply that returns a value outside this range (e.g. -1.4) would
// otherwise propagate unbounded into the weighted aggregate (SPEC_FULL.md
// §4.6).
func clampNeg1to1(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
