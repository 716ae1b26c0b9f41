// Package models holds the GORM-mapped persistence entities described in
// SPEC_FULL.md §3 and §6: companies, audits, audit_queries, audit_responses,
// audit_analyses, audit_aggregates, audit_dashboard.
package models

import "time"

// CompanyProfile is the immutable input to an audit (SPEC_FULL.md §3).
// Shared by many audits; audits hold a reference, not ownership.
type CompanyProfile struct {
	ID                 string         `gorm:"primaryKey;size:36" json:"id"`
	Name               string         `gorm:"size:200;not null" json:"name"`
	Domain             string         `gorm:"size:255" json:"domain"`
	Industry           string         `gorm:"size:150" json:"industry"`
	SubIndustry        string         `gorm:"size:150" json:"sub_industry,omitempty"`
	Description        string         `gorm:"type:text;not null" json:"description"`
	FinalDescription    string        `gorm:"type:text" json:"final_description,omitempty"`
	ValuePropositions  []string       `gorm:"serializer:json" json:"value_propositions"`
	TargetAudiences    []string       `gorm:"serializer:json" json:"target_audiences"`
	Competitors        []string       `gorm:"serializer:json" json:"competitors"`
	Products           []string       `gorm:"serializer:json" json:"products"`
	PainPoints         []string       `gorm:"serializer:json" json:"pain_points"`
	Geographies        []string       `gorm:"serializer:json" json:"geographies"`
	Metadata           map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TableName implements gorm.Tabler.
func (CompanyProfile) TableName() string { return "companies" }

// EffectiveDescription implements the §9 precedence fix: prefer an
// enrichment-produced final description, falling back to the
// user-authored one. The core never mutates the company row to get this.
func (c *CompanyProfile) EffectiveDescription() string {
	if c.FinalDescription != "" {
		return c.FinalDescription
	}
	return c.Description
}

// AuditStatus is the closed set of statuses an Audit can hold.
type AuditStatus string

const (
	AuditPending         AuditStatus = "pending"
	AuditCancelRequested AuditStatus = "cancel_requested"
	AuditProcessing      AuditStatus = "processing"
	AuditAnalyzing       AuditStatus = "analyzing"
	AuditScoring         AuditStatus = "scoring"
	AuditPopulating      AuditStatus = "populating"
	AuditCompleted       AuditStatus = "completed"
	AuditFailed          AuditStatus = "failed"
	AuditCancelled       AuditStatus = "cancelled"
)

// Terminal reports whether a status is one of the three terminal states.
func (s AuditStatus) Terminal() bool {
	switch s {
	case AuditCompleted, AuditFailed, AuditCancelled:
		return true
	default:
		return false
	}
}

// Audit is a single end-to-end run (SPEC_FULL.md §3, §4.9).
type Audit struct {
	ID                string      `gorm:"primaryKey;size:36" json:"id"`
	CompanyID         string      `gorm:"size:36;not null;index" json:"company_id"`
	UserID            string      `gorm:"size:36;not null;index" json:"user_id"`
	Status            AuditStatus `gorm:"size:32;not null;index" json:"status"`
	Providers         []string    `gorm:"serializer:json" json:"providers"`
	TargetQueryCount  int         `json:"target_query_count"`
	OverallScore      *float64    `gorm:"type:decimal(5,2)" json:"overall_score,omitempty"`
	BrandMentionRate  *float64    `gorm:"type:decimal(5,2)" json:"brand_mention_rate,omitempty"`
	ErrorMessage      string      `gorm:"type:text" json:"error_message,omitempty"`
	LastHeartbeatAt   time.Time   `json:"last_heartbeat_at"`
	HeartbeatSeq      int64       `json:"heartbeat_seq"`
	CreatedAt         time.Time   `json:"created_at"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	ProcessingTimeMs  *int64      `json:"processing_time_ms,omitempty"`
}

// TableName implements gorm.Tabler.
func (Audit) TableName() string { return "audits" }

// BuyerJourneyCategory is one of the six closed-set categories (SPEC_FULL.md §4.3).
type BuyerJourneyCategory string

const (
	CategoryProblemUnaware BuyerJourneyCategory = "problem_unaware"
	CategoryProblemAware   BuyerJourneyCategory = "problem_aware"
	CategorySolutionAware  BuyerJourneyCategory = "solution_aware"
	CategoryProductAware   BuyerJourneyCategory = "product_aware"
	CategoryMostAware      BuyerJourneyCategory = "most_aware"
	CategoryBrandDefense   BuyerJourneyCategory = "brand_defense"
)

// AllCategories lists the closed set in a stable order, used for balancing
// and for category-count invariant checks.
var AllCategories = []BuyerJourneyCategory{
	CategoryProblemUnaware, CategoryProblemAware, CategorySolutionAware,
	CategoryProductAware, CategoryMostAware, CategoryBrandDefense,
}

// AuditQuery is one generated prompt (SPEC_FULL.md §3, §4.3).
type AuditQuery struct {
	ID            string               `gorm:"primaryKey;size:36" json:"id"`
	AuditID       string               `gorm:"size:36;not null;uniqueIndex:idx_audit_query_text" json:"audit_id"`
	Text          string               `gorm:"type:text;not null" json:"text"`
	LowerText     string               `gorm:"type:text;not null;uniqueIndex:idx_audit_query_text" json:"-"`
	Category      BuyerJourneyCategory `gorm:"size:32;not null;index" json:"category"`
	IntentSubtype string               `gorm:"size:100" json:"intent_subtype,omitempty"`
	Priority      float64              `json:"priority"`
	Metadata      map[string]any       `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// TableName implements gorm.Tabler.
func (AuditQuery) TableName() string { return "audit_queries" }

// AuditResponse is one provider's reply to one query (SPEC_FULL.md §3, §4.4).
type AuditResponse struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	AuditID      string     `gorm:"size:36;not null;uniqueIndex:idx_audit_response_cell" json:"audit_id"`
	QueryID      string     `gorm:"size:36;not null;uniqueIndex:idx_audit_response_cell" json:"query_id"`
	Provider     string     `gorm:"size:32;not null;uniqueIndex:idx_audit_response_cell" json:"provider"`
	Text         string     `gorm:"type:text" json:"text"`
	LatencyMs    int64      `json:"latency_ms"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostEstimate float64    `gorm:"type:decimal(10,6)" json:"cost_estimate"`
	ErrorKind    string     `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName implements gorm.Tabler.
func (AuditResponse) TableName() string { return "audit_responses" }

// Failed reports whether this response row represents a terminal failure
// (empty text persisted with an error kind per SPEC_FULL.md §4.4).
func (r *AuditResponse) Failed() bool { return r.ErrorKind != "" }

// SentimentClass is the closed set of sentiment classes.
type SentimentClass string

const (
	SentimentPositive SentimentClass = "positive"
	SentimentNeutral  SentimentClass = "neutral"
	SentimentNegative SentimentClass = "negative"
)

// CompetitorMention is one detected competitor occurrence.
type CompetitorMention struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// AuditAnalysis is the per-Response NLP result (SPEC_FULL.md §3, §4.5).
type AuditAnalysis struct {
	ID                     string              `gorm:"primaryKey;size:36" json:"id"`
	AuditID                string              `gorm:"size:36;not null;index" json:"audit_id"`
	ResponseID             string              `gorm:"size:36;not null;uniqueIndex" json:"response_id"`
	BrandMentioned         bool                `json:"brand_mentioned"`
	FirstMentionPosition   *int                `json:"first_mention_position,omitempty"`
	Sentiment              SentimentClass      `gorm:"size:16" json:"sentiment"`
	SentimentScore         float64             `json:"sentiment_score"`
	CompetitorsMentioned   []CompetitorMention `gorm:"serializer:json" json:"competitors_mentioned"`
	GEOScore               float64             `gorm:"type:decimal(5,2)" json:"geo_score"`
	SOVScore               float64             `gorm:"type:decimal(5,2)" json:"sov_score"`
	ContextCompleteness    float64             `gorm:"type:decimal(5,2)" json:"context_completeness"`
	RecommendationSignal   float64             `gorm:"type:decimal(5,2)" json:"recommendation_signal"`
	Recommendations        []string            `gorm:"serializer:json" json:"recommendations,omitempty"`
	Errored                bool                `json:"errored"`
	ErrorMessage           string              `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
}

// TableName implements gorm.Tabler.
func (AuditAnalysis) TableName() string { return "audit_analyses" }

// ProviderBreakdown is the per-provider roll-up of the five subscores.
type ProviderBreakdown struct {
	Provider            string  `json:"provider"`
	GEO                 float64 `json:"geo"`
	SOV                 float64 `json:"sov"`
	Recommendation      float64 `json:"recommendation"`
	Sentiment           float64 `json:"sentiment"`
	Visibility          float64 `json:"visibility"`
	ContextCompleteness float64 `json:"context_completeness"`
	ResponseCount       int     `json:"response_count"`
}

// CategoryBreakdown is the per-category roll-up of the same subscores.
type CategoryBreakdown struct {
	Category            BuyerJourneyCategory `json:"category"`
	GEO                 float64              `json:"geo"`
	SOV                 float64              `json:"sov"`
	Recommendation      float64              `json:"recommendation"`
	Sentiment           float64              `json:"sentiment"`
	Visibility          float64              `json:"visibility"`
	ContextCompleteness float64              `json:"context_completeness"`
	ResponseCount       int                  `json:"response_count"`
}

// AggregateScores is the per-audit roll-up (SPEC_FULL.md §3, §4.6).
type AggregateScores struct {
	ID                  string              `gorm:"primaryKey;size:36" json:"id"`
	AuditID             string              `gorm:"size:36;not null;uniqueIndex" json:"audit_id"`
	Overall             float64             `gorm:"type:decimal(5,2)" json:"overall"`
	GEO                 float64             `gorm:"type:decimal(5,2)" json:"geo"`
	SOV                 float64             `gorm:"type:decimal(5,2)" json:"sov"`
	Recommendation      float64             `gorm:"type:decimal(5,2)" json:"recommendation"`
	Sentiment           float64             `gorm:"type:decimal(5,2)" json:"sentiment"`
	Visibility          float64             `gorm:"type:decimal(5,2)" json:"visibility"`
	ContextCompleteness float64             `gorm:"type:decimal(5,2)" json:"context_completeness"`
	ProviderBreakdown   []ProviderBreakdown `gorm:"serializer:json" json:"provider_breakdown"`
	CategoryBreakdown   []CategoryBreakdown `gorm:"serializer:json" json:"category_breakdown"`
	CompetitorCounts    map[string]int      `gorm:"serializer:json" json:"competitor_counts"`
	CreatedAt           time.Time           `json:"created_at"`
}

// TableName implements gorm.Tabler.
func (AggregateScores) TableName() string { return "audit_aggregates" }

// RankedRecommendation is one recommendation/gap/opportunity item produced by
// the Recommendation Extractor (SPEC_FULL.md §4.7), or surfaced from a single
// Analysis.
type RankedRecommendation struct {
	Text     string               `json:"text"`
	Category BuyerJourneyCategory `json:"category,omitempty"`
	Priority float64              `json:"priority"`
}

// CompetitorLandscapeEntry is one row of the competitor-mentions table shown
// on the dashboard.
type CompetitorLandscapeEntry struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	SharePct float64 `json:"share_pct"`
}

// CategoryInsight is a short summary of one buyer-journey category's results.
type CategoryInsight struct {
	Category      BuyerJourneyCategory `json:"category"`
	ResponseCount int                  `json:"response_count"`
	Summary       string               `json:"summary"`
}

// DashboardRecord is the UI-ready denormalized snapshot (SPEC_FULL.md §3, §4.8).
// One per audit, rewritten idempotently.
type DashboardRecord struct {
	ID                      string                     `gorm:"primaryKey;size:36" json:"id"`
	AuditID                 string                     `gorm:"size:36;not null;uniqueIndex" json:"audit_id"`
	TopRecommendations      []RankedRecommendation     `gorm:"serializer:json" json:"top_recommendations"`
	CompetitiveGaps         []RankedRecommendation     `gorm:"serializer:json" json:"competitive_gaps"`
	ContentOpportunities    []RankedRecommendation     `gorm:"serializer:json" json:"content_opportunities"`
	CompetitorLandscape     []CompetitorLandscapeEntry `gorm:"serializer:json" json:"competitor_landscape"`
	CategoryInsights        []CategoryInsight          `gorm:"serializer:json" json:"category_insights"`
	ExecutiveSummary        string                     `gorm:"type:text" json:"executive_summary"`
	CreatedAt               time.Time                  `json:"created_at"`
	UpdatedAt               time.Time                  `json:"updated_at"`
}

// TableName implements gorm.Tabler.
func (DashboardRecord) TableName() string { return "audit_dashboard" }
