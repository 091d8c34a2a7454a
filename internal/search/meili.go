// Package search mirrors ingested articles into Meilisearch. Indexing is
// best-effort: the pipeline never fails an ingestion because the search
// backend is down.
package search

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPosts = "pressroom_posts"

// Article is the data we index per ingested post.
type Article struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Slug       string   `json:"slug"`
	Excerpt    string   `json:"excerpt"`
	SiteDomain string   `json:"siteDomain"`
	Keywords   []string `json:"keywords"`
	Type       string   `json:"type,omitempty"`
}

// Meili indexes articles in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the posts index.
// The client starts unhealthy if the initial connection fails and recovers
// via the background health loop.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPosts,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxPosts, err)
	}

	index := m.client.Index(idxPosts)
	filterable := []interface{}{"siteDomain", "type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxPosts, err)
	}
	searchable := []string{"title", "excerpt", "keywords"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxPosts, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexArticle adds or updates an article in the posts index.
func (m *Meili) IndexArticle(a Article) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	_, err := m.client.Index(idxPosts).AddDocuments([]Article{a}, nil)
	if err != nil {
		m.healthy.Store(false)
	}
	return err
}
