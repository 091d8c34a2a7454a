package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pressroom/api/internal/config"
	"pressroom/api/internal/slug"
	"pressroom/api/internal/store"
	"pressroom/api/internal/util"
)

type fakeStore struct {
	getFn              func(context.Context, string) (*store.Document, error)
	findSiteByDomainFn func(context.Context, string) (*store.Document, error)
	createFn           func(context.Context, store.Document) (store.Document, error)
	createOrReplaceFn  func(context.Context, store.Document) (store.Document, error)
	patchFn            func(context.Context, string, map[string]any, []string) error
	listIDsByTypeFn    func(context.Context, string) ([]string, error)
	pingFn             func(context.Context) error
}

func (f *fakeStore) Get(ctx context.Context, id string) (*store.Document, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, nil
}
func (f *fakeStore) FindSiteByDomain(ctx context.Context, domain string) (*store.Document, error) {
	if f.findSiteByDomainFn != nil {
		return f.findSiteByDomainFn(ctx, domain)
	}
	return nil, nil
}
func (f *fakeStore) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	if f.createFn != nil {
		return f.createFn(ctx, doc)
	}
	if doc.ID == "" {
		doc.ID = util.NewID(doc.Type)
	}
	return doc, nil
}
func (f *fakeStore) CreateOrReplace(ctx context.Context, doc store.Document) (store.Document, error) {
	if f.createOrReplaceFn != nil {
		return f.createOrReplaceFn(ctx, doc)
	}
	return doc, nil
}
func (f *fakeStore) Patch(ctx context.Context, id string, set map[string]any, unset []string) error {
	if f.patchFn != nil {
		return f.patchFn(ctx, id, set, unset)
	}
	return nil
}
func (f *fakeStore) ListIDsByType(ctx context.Context, docType string) ([]string, error) {
	if f.listIDsByTypeFn != nil {
		return f.listIDsByTypeFn(ctx, docType)
	}
	return nil, nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// memStore is a map-backed document store for full pipeline tests.
type memStore struct {
	mu   sync.Mutex
	docs map[string]store.Document
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]store.Document{}}
}

func (m *memStore) Get(_ context.Context, id string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (m *memStore) FindSiteByDomain(_ context.Context, domain string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *store.Document
	for _, doc := range m.docs {
		if doc.Type != store.TypeSite {
			continue
		}
		if d, _ := doc.Fields["domain"].(string); d != domain {
			continue
		}
		doc := doc
		if best == nil || doc.CreatedAt.Before(best.CreatedAt) {
			best = &doc
		}
	}
	return best, nil
}

func (m *memStore) Create(_ context.Context, doc store.Document) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = util.NewID(doc.Type)
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *memStore) CreateOrReplace(_ context.Context, doc store.Document) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.UpdatedAt = time.Now().UTC()
	m.docs[doc.ID] = doc
	return doc, nil
}

func (m *memStore) Patch(_ context.Context, id string, set map[string]any, unset []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return errors.New("document not found: " + id)
	}
	for key, value := range set {
		doc.Fields[key] = value
	}
	for _, key := range unset {
		delete(doc.Fields, key)
	}
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

func (m *memStore) ListIDsByType(_ context.Context, docType string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, doc := range m.docs {
		if doc.Type == docType {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) countByType(docType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, doc := range m.docs {
		if doc.Type == docType {
			n++
		}
	}
	return n
}

type fakeSiteCache struct {
	mu      sync.Mutex
	entries map[string]string
	hits    int
	sets    int
}

func newFakeSiteCache() *fakeSiteCache {
	return &fakeSiteCache{entries: map[string]string{}}
}

func (c *fakeSiteCache) Get(_ context.Context, domain string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.entries[domain]
	if id != "" {
		c.hits++
	}
	return id, nil
}

func (c *fakeSiteCache) Set(_ context.Context, domain, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = id
	c.sets++
	return nil
}

func newTestService(st Store) *Service {
	return New(config.Config{IngestSecret: "shh"}, st)
}

func TestParseSubmissionRequiresTitleAndDomain(t *testing.T) {
	_, err := ParseSubmission([]byte(`{"title":"  ","siteDomain":""}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" || domainErr.Status != 400 {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
	issues, ok := domainErr.Details.([]FieldIssue)
	if !ok || len(issues) != 2 {
		t.Fatalf("expected two field issues, got %#v", domainErr.Details)
	}
}

func TestParseSubmissionAcceptsDoubleEncodedBody(t *testing.T) {
	sub, err := ParseSubmission([]byte(`"{\"title\":\"Hello\",\"siteDomain\":\"example.com\"}"`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub.Title != "Hello" || sub.SiteDomain != "example.com" {
		t.Fatalf("unexpected submission: %+v", sub)
	}
}

func TestParseSubmissionRejectsInvalidJSON(t *testing.T) {
	for _, body := range []string{`{not json`, `"{not json"`, `[1,2]`} {
		if _, err := ParseSubmission([]byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestParseSubmissionKeywordCoercion(t *testing.T) {
	sub, err := ParseSubmission([]byte(`{"title":"t","siteDomain":"d","keywords":"go, http , ,api"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"go", "http", "api"}
	if len(sub.Keywords) != len(want) {
		t.Fatalf("keywords = %v, want %v", sub.Keywords, want)
	}
	for i, kw := range want {
		if sub.Keywords[i] != kw {
			t.Fatalf("keywords = %v, want %v", sub.Keywords, want)
		}
	}

	sub, err = ParseSubmission([]byte(`{"title":"t","siteDomain":"d","keywords":["go",2,"  ","api"]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sub.Keywords) != 2 || sub.Keywords[0] != "go" || sub.Keywords[1] != "api" {
		t.Fatalf("keywords = %v", sub.Keywords)
	}

	sub, err = ParseSubmission([]byte(`{"title":"t","siteDomain":"d"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub.Keywords == nil || len(sub.Keywords) != 0 {
		t.Fatalf("expected empty non-nil keywords, got %#v", sub.Keywords)
	}
}

func TestResolveCategories(t *testing.T) {
	raw := []any{
		"cat-go",
		map[string]any{"_ref": "cat-web"},
		map[string]any{"id": "cat-api"},
		map[string]any{"name": "no id here"},
		map[string]any{"_ref": "", "id": "cat-shadowed"},
		42,
		"  ",
	}
	refs := ResolveCategories(raw)
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d: %+v", len(refs), refs)
	}
	wantRefs := []string{"cat-go", "cat-web", "cat-api"}
	seen := map[string]bool{}
	for i, ref := range refs {
		if ref.Type != "reference" {
			t.Fatalf("ref %d type = %q", i, ref.Type)
		}
		if ref.Ref != wantRefs[i] {
			t.Fatalf("ref %d = %q, want %q", i, ref.Ref, wantRefs[i])
		}
		if ref.Key == "" || seen[ref.Key] {
			t.Fatalf("ref %d key %q is blank or duplicated", i, ref.Key)
		}
		seen[ref.Key] = true
	}

	if refs := ResolveCategories(nil); len(refs) != 0 {
		t.Fatalf("expected no refs for nil input, got %+v", refs)
	}
	if refs := ResolveCategories("not an array"); len(refs) != 0 {
		t.Fatalf("expected no refs for non-array input, got %+v", refs)
	}
}

func TestIngestCreatesSiteOncePerDomain(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)

	for _, title := range []string{"First Post", "Second Post"} {
		if _, err := svc.Ingest(context.Background(), Submission{
			Title:      title,
			SiteDomain: "example.com",
			Keywords:   []string{},
		}); err != nil {
			t.Fatalf("ingest %q: %v", title, err)
		}
	}

	if n := st.countByType(store.TypeSite); n != 1 {
		t.Fatalf("expected 1 site document, got %d", n)
	}
	site, err := st.FindSiteByDomain(context.Background(), "example.com")
	if err != nil || site == nil {
		t.Fatalf("site lookup: doc=%v err=%v", site, err)
	}
	if site.Fields["title"] != "example.com" || site.Fields["domain"] != "example.com" {
		t.Fatalf("unexpected site fields: %#v", site.Fields)
	}
}

func TestIngestIsIdempotentAndKeepsCreatedAt(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	sub := Submission{Title: "Loja Virtual: Guia!", SiteDomain: "example.com", Excerpt: "v1", Keywords: []string{}}
	firstID, err := svc.Ingest(ctx, sub)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if firstID != "post-loja-virtual-guia" {
		t.Fatalf("document ID = %q", firstID)
	}

	first, err := st.Get(ctx, firstID)
	if err != nil || first == nil {
		t.Fatalf("get after first ingest: doc=%v err=%v", first, err)
	}
	originalCreated := first.CreatedAt

	time.Sleep(5 * time.Millisecond)

	sub.Excerpt = "v2"
	secondID, err := svc.Ingest(ctx, sub)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if secondID != firstID {
		t.Fatalf("second ingest ID = %q, want %q", secondID, firstID)
	}

	second, err := st.Get(ctx, firstID)
	if err != nil || second == nil {
		t.Fatalf("get after second ingest: doc=%v err=%v", second, err)
	}
	if !second.CreatedAt.Equal(originalCreated) {
		t.Fatalf("created at changed: %v -> %v", originalCreated, second.CreatedAt)
	}
	if second.Fields["excerpt"] != "v2" {
		t.Fatalf("excerpt = %v, want v2", second.Fields["excerpt"])
	}
	if n := st.countByType(store.TypePost); n != 1 {
		t.Fatalf("expected 1 post document, got %d", n)
	}
}

func TestIngestDocumentShape(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)
	ctx := context.Background()

	longTitle := strings.Repeat("a", 80)
	id, err := svc.Ingest(ctx, Submission{
		Title:      longTitle,
		SiteDomain: "example.com",
		Excerpt:    "short",
		Keywords:   []string{"go"},
		Categories: []any{"cat-1"},
		Body:       []any{map[string]any{"_type": "block", "children": []any{}}},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	doc, err := st.Get(ctx, id)
	if err != nil || doc == nil {
		t.Fatalf("get: doc=%v err=%v", doc, err)
	}
	if doc.Type != store.TypePost {
		t.Fatalf("type = %q", doc.Type)
	}

	slugField, ok := doc.Fields["slug"].(map[string]any)
	if !ok || slugField["_type"] != "slug" {
		t.Fatalf("slug field = %#v", doc.Fields["slug"])
	}
	current, _ := slugField["current"].(string)
	if current == "" || len(current) > slug.MaxLength {
		t.Fatalf("slug current = %q", current)
	}
	if id != "post-"+current {
		t.Fatalf("id %q does not match slug %q", id, current)
	}

	siteRef, ok := doc.Fields["site"].(map[string]any)
	if !ok || siteRef["_type"] != "reference" || siteRef["_ref"] == "" {
		t.Fatalf("site field = %#v", doc.Fields["site"])
	}

	meta, _ := doc.Fields["metaTitle"].(string)
	if len(meta) != 60 || !strings.HasPrefix(longTitle, meta) {
		t.Fatalf("metaTitle = %q (len %d)", meta, len(meta))
	}
	if doc.Fields["metaDescription"] != "short" {
		t.Fatalf("metaDescription = %v", doc.Fields["metaDescription"])
	}
	if doc.Fields["publishedAt"] != nil {
		t.Fatalf("publishedAt = %v, want nil", doc.Fields["publishedAt"])
	}
	if doc.Fields["type"] != nil {
		t.Fatalf("type field = %v, want nil", doc.Fields["type"])
	}
	refs, ok := doc.Fields["categories"].([]CategoryRef)
	if !ok || len(refs) != 1 || refs[0].Ref != "cat-1" {
		t.Fatalf("categories = %#v", doc.Fields["categories"])
	}
}

func TestIngestFallsBackToRandomSlug(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)

	id, err := svc.Ingest(context.Background(), Submission{
		Title:      "!!! ### !!!",
		SiteDomain: "example.com",
		Keywords:   []string{},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.HasPrefix(id, "post-") {
		t.Fatalf("id = %q", id)
	}
	random := strings.TrimPrefix(id, "post-")
	if len(random) != 10 {
		t.Fatalf("fallback slug %q has length %d, want 10", random, len(random))
	}
	for _, r := range random {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			t.Fatalf("fallback slug %q contains %q", random, r)
		}
	}
}

func TestIngestPrefersSlugHint(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st)

	id, err := svc.Ingest(context.Background(), Submission{
		Title:      "Completely Different Title",
		SiteDomain: "example.com",
		SlugHint:   "My Custom Slug",
		Keywords:   []string{},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if id != "post-my-custom-slug" {
		t.Fatalf("id = %q", id)
	}
}

func TestIngestSiteCacheHitSkipsStore(t *testing.T) {
	cache := newFakeSiteCache()
	cache.entries["example.com"] = "site-cached"

	st := &fakeStore{
		findSiteByDomainFn: func(context.Context, string) (*store.Document, error) {
			t.Fatal("store site lookup should not run on cache hit")
			return nil, nil
		},
		createFn: func(context.Context, store.Document) (store.Document, error) {
			t.Fatal("site create should not run on cache hit")
			return store.Document{}, nil
		},
	}
	svc := newTestService(st)
	svc.UseSiteCache(cache)

	var upserted store.Document
	st.createOrReplaceFn = func(_ context.Context, doc store.Document) (store.Document, error) {
		upserted = doc
		return doc, nil
	}

	if _, err := svc.Ingest(context.Background(), Submission{
		Title:      "Cached",
		SiteDomain: "example.com",
		Keywords:   []string{},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	siteRef, _ := upserted.Fields["site"].(map[string]any)
	if siteRef["_ref"] != "site-cached" {
		t.Fatalf("site ref = %#v", upserted.Fields["site"])
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d", cache.hits)
	}
}

func TestIngestCachesResolvedSite(t *testing.T) {
	cache := newFakeSiteCache()
	st := newMemStore()
	svc := newTestService(st)
	svc.UseSiteCache(cache)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, Submission{Title: "One", SiteDomain: "example.com", Keywords: []string{}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if cache.sets != 1 || cache.entries["example.com"] == "" {
		t.Fatalf("cache not populated: sets=%d entries=%v", cache.sets, cache.entries)
	}

	if _, err := svc.Ingest(ctx, Submission{Title: "Two", SiteDomain: "example.com", Keywords: []string{}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits = %d", cache.hits)
	}
}

func TestIngestWrapsPersistenceErrors(t *testing.T) {
	boom := errors.New("connection refused")
	st := &fakeStore{
		createOrReplaceFn: func(context.Context, store.Document) (store.Document, error) {
			return store.Document{}, boom
		},
	}
	svc := newTestService(st)

	_, err := svc.Ingest(context.Background(), Submission{Title: "t", SiteDomain: "d", Keywords: []string{}})
	if err == nil {
		t.Fatal("expected error")
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T", err)
	}
	if domainErr.Code != "PERSISTENCE_ERROR" || domainErr.Status != 500 {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
	if !strings.Contains(domainErr.Message, "connection refused") {
		t.Fatalf("message = %q", domainErr.Message)
	}
}

func TestCleanupUnsetsRetiredFields(t *testing.T) {
	st := newMemStore()
	ctx := context.Background()
	if _, err := st.Create(ctx, store.Document{
		ID:   "post-old",
		Type: store.TypePost,
		Fields: map[string]any{
			"title":    "keep me",
			"excerpt":  "drop me",
			"author":   "drop me too",
			"keywords": []string{"x"},
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.Create(ctx, store.Document{
		ID:     "site-1",
		Type:   store.TypeSite,
		Fields: map[string]any{"domain": "example.com"},
	}); err != nil {
		t.Fatalf("seed site: %v", err)
	}

	svc := newTestService(st)
	results, err := svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(results) != 1 || results[0].ID != "post-old" || results[0].Status != "cleaned" {
		t.Fatalf("results = %+v", results)
	}

	doc, err := st.Get(ctx, "post-old")
	if err != nil || doc == nil {
		t.Fatalf("get: doc=%v err=%v", doc, err)
	}
	if doc.Fields["title"] != "keep me" {
		t.Fatalf("title = %v", doc.Fields["title"])
	}
	for _, field := range retiredPostFields {
		if _, ok := doc.Fields[field]; ok {
			t.Fatalf("field %q still present", field)
		}
	}
}

func TestCleanupReportsPerDocumentErrors(t *testing.T) {
	st := &fakeStore{
		listIDsByTypeFn: func(context.Context, string) ([]string, error) {
			return []string{"post-a", "post-b"}, nil
		},
		patchFn: func(_ context.Context, id string, _ map[string]any, _ []string) error {
			if id == "post-a" {
				return errors.New("locked")
			}
			return nil
		},
	}
	svc := newTestService(st)

	results, err := svc.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Status != "error" || !strings.Contains(results[0].Message, "locked") {
		t.Fatalf("first result = %+v", results[0])
	}
	if results[1].Status != "cleaned" {
		t.Fatalf("second result = %+v", results[1])
	}
}
