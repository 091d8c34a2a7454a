package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"pressroom/api/internal/blocks"
	"pressroom/api/internal/config"
	"pressroom/api/internal/metrics"
	"pressroom/api/internal/search"
	"pressroom/api/internal/slug"
	"pressroom/api/internal/store"
	"pressroom/api/internal/util"
)

// Submission is the normalized form of an ingest request body.
type Submission struct {
	Title      string
	SiteDomain string
	Excerpt    string
	SlugHint   string
	Type       string
	Keywords   []string
	Body       any
	Categories any
}

// FieldIssue names a single input field problem in a validation error.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ParseSubmission decodes and normalizes an ingest payload. It accepts
// either a JSON object or a JSON string containing an encoded object,
// which some upstream webhooks produce by stringifying twice.
func ParseSubmission(raw []byte) (Submission, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Submission{}, validationError("Invalid JSON body", nil)
	}
	if encoded, ok := value.(string); ok {
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			return Submission{}, validationError("Invalid JSON body", nil)
		}
	}
	payload, ok := value.(map[string]any)
	if !ok {
		return Submission{}, validationError("Request body must be a JSON object", nil)
	}

	sub := Submission{
		Title:      trimString(payload["title"]),
		SiteDomain: trimString(payload["siteDomain"]),
		Excerpt:    trimString(payload["excerpt"]),
		SlugHint:   trimString(payload["slug"]),
		Type:       trimString(payload["type"]),
		Keywords:   normalizeKeywords(payload["keywords"]),
		Body:       payload["body"],
		Categories: payload["categories"],
	}

	var issues []FieldIssue
	if sub.Title == "" {
		issues = append(issues, FieldIssue{Field: "title", Message: "required"})
	}
	if sub.SiteDomain == "" {
		issues = append(issues, FieldIssue{Field: "siteDomain", Message: "required"})
	}
	if len(issues) > 0 {
		return Submission{}, validationError("title and siteDomain required", issues)
	}
	return sub, nil
}

func trimString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// normalizeKeywords accepts either an array of strings or a single
// comma-separated string and always returns a non-nil slice so the
// persisted field marshals as an array.
func normalizeKeywords(raw any) []string {
	out := []string{}
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// CategoryRef is a keyed reference to a category document.
type CategoryRef struct {
	Type string `json:"_type"`
	Ref  string `json:"_ref"`
	Key  string `json:"_key"`
}

// ResolveCategories turns a raw categories value into keyed references.
// Elements may be plain ID strings or objects carrying "_ref" or "id";
// anything without a usable identifier is dropped. Input order is kept.
func ResolveCategories(raw any) []CategoryRef {
	items, _ := raw.([]any)
	refs := make([]CategoryRef, 0, len(items))
	for _, item := range items {
		var id string
		switch v := item.(type) {
		case string:
			id = v
		case map[string]any:
			// A string-typed _ref always wins, even blank; a blank one
			// drops the element rather than falling through to id.
			if ref, ok := v["_ref"].(string); ok {
				id = ref
			} else if alt, ok := v["id"].(string); ok {
				id = alt
			}
		}
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		refs = append(refs, CategoryRef{Type: "reference", Ref: id, Key: util.NewKey()})
	}
	return refs
}

// Store is the document persistence surface the pipeline needs. Both the
// Postgres and content API backends satisfy it.
type Store interface {
	Get(ctx context.Context, id string) (*store.Document, error)
	FindSiteByDomain(ctx context.Context, domain string) (*store.Document, error)
	Create(ctx context.Context, doc store.Document) (store.Document, error)
	CreateOrReplace(ctx context.Context, doc store.Document) (store.Document, error)
	Patch(ctx context.Context, id string, set map[string]any, unset []string) error
	ListIDsByType(ctx context.Context, docType string) ([]string, error)
	Ping(ctx context.Context) error
}

type siteCache interface {
	Get(ctx context.Context, domain string) (string, error)
	Set(ctx context.Context, domain, id string) error
}

type articleIndexer interface {
	Healthy() bool
	IndexArticle(a search.Article) error
}

// Service wires the ingest pipeline: payload normalization, site
// resolution, block repair, slug derivation and the upsert itself.
type Service struct {
	cfg     config.Config
	store   Store
	sites   siteCache
	index   articleIndexer
	metrics *metrics.Metrics
}

func New(cfg config.Config, st Store) *Service {
	return &Service{cfg: cfg, store: st}
}

func (s *Service) UseSiteCache(cache siteCache) { s.sites = cache }

func (s *Service) UseIndexer(index articleIndexer) { s.index = index }

func (s *Service) UseMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) IngestSecret() string { return s.cfg.IngestSecret }

func (s *Service) ConfigMissing() []string { return s.cfg.Missing() }

func (s *Service) MetricsHandler() http.Handler {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Handler()
}

func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) repairMode() blocks.Mode {
	if s.cfg.StrictBlocks {
		return blocks.Strict
	}
	return blocks.Lenient
}

// Ingest runs one submission through the pipeline and returns the ID of
// the persisted post document. Re-submitting the same title rewrites the
// same document while keeping its original creation timestamp.
func (s *Service) Ingest(ctx context.Context, sub Submission) (string, error) {
	start := time.Now()

	siteID, err := s.resolveSite(ctx, sub.SiteDomain)
	if err != nil {
		s.countIngest("error")
		return "", persistenceError(err)
	}

	body := blocks.Repair(sub.Body, s.repairMode())
	categories := ResolveCategories(sub.Categories)

	source := sub.SlugHint
	if source == "" {
		source = sub.Title
	}
	derived := slug.Derive(source)
	if derived == "" {
		derived = slug.Random(10)
	}
	documentID := "post-" + derived

	existing, err := s.store.Get(ctx, documentID)
	if err != nil {
		s.countIngest("error")
		return "", persistenceError(err)
	}
	createdAt := time.Now().UTC()
	outcome := "created"
	if existing != nil {
		outcome = "replaced"
		if !existing.CreatedAt.IsZero() {
			createdAt = existing.CreatedAt
		}
	}

	var postType any
	if sub.Type != "" {
		postType = sub.Type
	}

	fields := map[string]any{
		"title":           sub.Title,
		"excerpt":         sub.Excerpt,
		"slug":            map[string]any{"_type": "slug", "current": derived},
		"site":            map[string]any{"_type": "reference", "_ref": siteID},
		"categories":      categories,
		"body":            body,
		"type":            postType,
		"keywords":        sub.Keywords,
		"publishedAt":     nil,
		"metaTitle":       truncateRunes(sub.Title, 60),
		"metaDescription": truncateRunes(sub.Excerpt, 160),
	}

	persisted, err := s.store.CreateOrReplace(ctx, store.Document{
		ID:        documentID,
		Type:      store.TypePost,
		CreatedAt: createdAt,
		Fields:    fields,
	})
	if err != nil {
		s.countIngest("error")
		return "", persistenceError(err)
	}

	s.indexArticle(persisted.ID, derived, sub)
	s.countIngest(outcome)
	if s.metrics != nil {
		s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}
	return persisted.ID, nil
}

// resolveSite returns the site document ID for a domain, creating the
// site on first sight. A hit in the cache skips the store entirely.
func (s *Service) resolveSite(ctx context.Context, domain string) (string, error) {
	if s.sites != nil {
		id, err := s.sites.Get(ctx, domain)
		if err != nil {
			log.Printf("site cache get %q: %v", domain, err)
		} else if id != "" {
			if s.metrics != nil {
				s.metrics.SiteCacheHitsTotal.Inc()
			}
			return id, nil
		} else if s.metrics != nil {
			s.metrics.SiteCacheMissTotal.Inc()
		}
	}

	site, err := s.store.FindSiteByDomain(ctx, domain)
	if err != nil {
		return "", err
	}
	if site == nil {
		created, err := s.store.Create(ctx, store.Document{
			Type: store.TypeSite,
			Fields: map[string]any{
				"title":  domain,
				"domain": domain,
			},
		})
		if err != nil {
			return "", err
		}
		site = &created
		if s.metrics != nil {
			s.metrics.SitesCreatedTotal.Inc()
		}
	}

	if s.sites != nil {
		if err := s.sites.Set(ctx, domain, site.ID); err != nil {
			log.Printf("site cache set %q: %v", domain, err)
		}
	}
	return site.ID, nil
}

func (s *Service) indexArticle(id, derivedSlug string, sub Submission) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	article := search.Article{
		ID:         id,
		Title:      sub.Title,
		Slug:       derivedSlug,
		Excerpt:    sub.Excerpt,
		SiteDomain: sub.SiteDomain,
		Keywords:   sub.Keywords,
		Type:       sub.Type,
	}
	go func() {
		if err := s.index.IndexArticle(article); err != nil {
			log.Printf("index article %s: %v", id, err)
		}
	}()
}

func (s *Service) countIngest(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IngestedTotal.WithLabelValues(outcome).Inc()
}

// retiredPostFields are legacy fields stripped from post documents by
// the cleanup pass after a schema slimming.
var retiredPostFields = []string{
	"excerpt",
	"keywords",
	"metaDescription",
	"metaTitle",
	"site",
	"type",
	"categories",
	"publishedAt",
	"author",
}

// CleanupResult reports the outcome of one document in a cleanup run.
type CleanupResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Cleanup unsets retired fields on every post document. Failures on
// individual documents are reported, not fatal.
func (s *Service) Cleanup(ctx context.Context) ([]CleanupResult, error) {
	ids, err := s.store.ListIDsByType(ctx, store.TypePost)
	if err != nil {
		return nil, persistenceError(err)
	}
	results := make([]CleanupResult, 0, len(ids))
	for _, id := range ids {
		if err := s.store.Patch(ctx, id, nil, retiredPostFields); err != nil {
			results = append(results, CleanupResult{ID: id, Status: "error", Message: err.Error()})
			continue
		}
		results = append(results, CleanupResult{ID: id, Status: "cleaned"})
	}
	return results, nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
