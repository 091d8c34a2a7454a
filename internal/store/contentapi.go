package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const contentAPIVersion = "v2024-01-01"

// ContentAPI talks to a hosted Sanity-style content store: a query endpoint
// for lookups and a mutations endpoint for create/createOrReplace/patch.
type ContentAPI struct {
	baseURL string
	dataset string
	token   string
	client  *http.Client
}

func NewContentAPI(projectID, dataset, token string) *ContentAPI {
	base := fmt.Sprintf("https://%s.api.sanity.io/%s", projectID, contentAPIVersion)
	return NewContentAPIWithBaseURL(base, dataset, token)
}

// NewContentAPIWithBaseURL overrides the API host, used by tests and
// self-hosted stores.
func NewContentAPIWithBaseURL(baseURL, dataset, token string) *ContentAPI {
	return &ContentAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		dataset: dataset,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *ContentAPI) Get(ctx context.Context, id string) (*Document, error) {
	var wire map[string]any
	found, err := c.query(ctx, `*[_id == $id][0]`, map[string]any{"id": id}, &wire)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	doc := decodeWireDocument(wire)
	return &doc, nil
}

func (c *ContentAPI) FindSiteByDomain(ctx context.Context, domain string) (*Document, error) {
	// Earliest-created match wins; see FindSiteByDomain on Postgres.
	var wire map[string]any
	found, err := c.query(ctx, `*[_type == "site" && domain == $d] | order(_createdAt asc) [0]`, map[string]any{"d": domain}, &wire)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	doc := decodeWireDocument(wire)
	return &doc, nil
}

func (c *ContentAPI) Create(ctx context.Context, doc Document) (Document, error) {
	return c.mutateOne(ctx, "create", doc)
}

func (c *ContentAPI) CreateOrReplace(ctx context.Context, doc Document) (Document, error) {
	return c.mutateOne(ctx, "createOrReplace", doc)
}

func (c *ContentAPI) Patch(ctx context.Context, id string, set map[string]any, unset []string) error {
	patch := map[string]any{"id": id}
	if len(set) > 0 {
		patch["set"] = set
	}
	if len(unset) > 0 {
		patch["unset"] = unset
	}
	_, err := c.mutate(ctx, []map[string]any{{"patch": patch}})
	return err
}

func (c *ContentAPI) ListIDsByType(ctx context.Context, docType string) ([]string, error) {
	var ids []string
	if _, err := c.query(ctx, `*[_type == $t]._id`, map[string]any{"t": docType}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *ContentAPI) Ping(ctx context.Context) error {
	_, err := c.query(ctx, `*[_id == "_ping"][0]`, nil, nil)
	return err
}

func (c *ContentAPI) mutateOne(ctx context.Context, op string, doc Document) (Document, error) {
	results, err := c.mutate(ctx, []map[string]any{{op: encodeWireDocument(doc)}})
	if err != nil {
		return Document{}, err
	}
	if len(results) == 0 {
		return Document{}, fmt.Errorf("content api: %s returned no results", op)
	}
	if len(results[0].Document) > 0 {
		var wire map[string]any
		if err := json.Unmarshal(results[0].Document, &wire); err != nil {
			return Document{}, fmt.Errorf("content api: decode %s result: %w", op, err)
		}
		return decodeWireDocument(wire), nil
	}
	doc.ID = results[0].ID
	return doc, nil
}

// query runs a GROQ query. found is false when the store returned null.
func (c *ContentAPI) query(ctx context.Context, groq string, params map[string]any, result any) (bool, error) {
	values := url.Values{}
	values.Set("query", groq)
	for name, value := range params {
		encoded, err := json.Marshal(value)
		if err != nil {
			return false, fmt.Errorf("content api: encode param %s: %w", name, err)
		}
		values.Set("$"+name, string(encoded))
	}

	endpoint := fmt.Sprintf("%s/data/query/%s?%s", c.baseURL, c.dataset, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("content api: build query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("content api: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, apiError("query", resp)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return false, fmt.Errorf("content api: decode query response: %w", err)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return false, nil
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return false, fmt.Errorf("content api: decode query result: %w", err)
		}
	}
	return true, nil
}

type mutationResult struct {
	ID       string          `json:"id"`
	Document json.RawMessage `json:"document"`
}

func (c *ContentAPI) mutate(ctx context.Context, mutations []map[string]any) ([]mutationResult, error) {
	payload, err := json.Marshal(map[string]any{"mutations": mutations})
	if err != nil {
		return nil, fmt.Errorf("content api: encode mutations: %w", err)
	}

	endpoint := fmt.Sprintf("%s/data/mutate/%s?returnDocuments=true&autoGenerateArrayKeys=true", c.baseURL, c.dataset)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("content api: build mutate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content api: mutate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("mutate", resp)
	}

	var envelope struct {
		Results []mutationResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("content api: decode mutate response: %w", err)
	}
	return envelope.Results, nil
}

func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var detail struct {
		Error struct {
			Description string `json:"description"`
		} `json:"error"`
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &detail); err == nil {
		if detail.Error.Description != "" {
			message = detail.Error.Description
		} else if detail.Message != "" {
			message = detail.Message
		}
	}
	return fmt.Errorf("content api: %s failed: %s: %s", op, resp.Status, message)
}

func encodeWireDocument(doc Document) map[string]any {
	wire := make(map[string]any, len(doc.Fields)+3)
	for k, v := range doc.Fields {
		wire[k] = v
	}
	if doc.ID != "" {
		wire["_id"] = doc.ID
	}
	wire["_type"] = doc.Type
	if !doc.CreatedAt.IsZero() {
		wire["_createdAt"] = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	return wire
}

func decodeWireDocument(wire map[string]any) Document {
	doc := Document{Fields: make(map[string]any, len(wire))}
	for k, v := range wire {
		switch k {
		case "_id":
			doc.ID, _ = v.(string)
		case "_type":
			doc.Type, _ = v.(string)
		case "_createdAt":
			doc.CreatedAt = parseWireTime(v)
		case "_updatedAt":
			doc.UpdatedAt = parseWireTime(v)
		case "_rev":
		default:
			doc.Fields[k] = v
		}
	}
	return doc
}

func parseWireTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
