package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePortal struct {
	mux          *http.ServeMux
	server       *httptest.Server
	tokenIssued  atomic.Int32
	restRequests atomic.Int32
}

// newFakePortal serves both the OAuth endpoint and the REST endpoint
// of a portal from one test server.
func newFakePortal(t *testing.T, rest http.HandlerFunc) *fakePortal {
	t.Helper()

	p := &fakePortal{mux: http.NewServeMux()}
	p.mux.HandleFunc("/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		n := p.tokenIssued.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fmt.Sprintf("token-%d", n),
			"refresh_token": fmt.Sprintf("refresh-%d", n),
			"expires_in":    3600,
		})
	})
	p.mux.HandleFunc("/rest/", func(w http.ResponseWriter, r *http.Request) {
		p.restRequests.Add(1)
		rest(w, r)
	})

	p.server = httptest.NewServer(p.mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) client(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()

	tokens := NewTokenManager(TokenManagerConfig{
		OAuthURL:       p.server.URL + "/oauth/token/",
		ClientID:       "app",
		ClientSecret:   "secret",
		RefreshToken:   "refresh-0",
		ClientEndpoint: p.server.URL + "/rest/",
	}, zap.NewNop())
	return NewClient(tokens, cfg, zap.NewNop())
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request body: %v", err)
	}
	return body
}

func writeLeadPage(w http.ResponseWriter, leads []map[string]any, next *int) {
	resp := map[string]any{"result": leads}
	if next != nil {
		resp["next"] = *next
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func leadStub(id string) map[string]any {
	return map[string]any{
		"ID":          id,
		"TITLE":       "Лид " + id,
		"STATUS_ID":   "2",
		"SOURCE_ID":   "WEB",
		"DATE_CREATE": "2026-03-01T09:00:00+03:00",
	}
}

func TestClient_FetchLeads(t *testing.T) {
	t.Run("FollowsNextCursor", func(t *testing.T) {
		portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			start := int(body["start"].(float64))

			switch start {
			case 0:
				next := 2
				writeLeadPage(w, []map[string]any{leadStub("1"), leadStub("2")}, &next)
			case 2:
				writeLeadPage(w, []map[string]any{leadStub("3")}, nil)
			default:
				t.Errorf("unexpected start offset %d", start)
			}
		})

		client := portal.client(t, ClientConfig{PageSize: 2})
		leads, err := client.FetchLeads(context.Background(), map[string]any{})
		require.NoError(t, err)
		require.Len(t, leads, 3)
		assert.Equal(t, "1", leads[0].ID)
		assert.Equal(t, "Лид 1", leads[0].Title)
		assert.Equal(t, "WEB", leads[0].SourceID)
		assert.Equal(t, 2026, leads[0].CreatedAt.Year())
	})

	t.Run("DeduplicatesAcrossPages", func(t *testing.T) {
		portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			start := int(body["start"].(float64))

			switch start {
			case 0:
				next := 2
				writeLeadPage(w, []map[string]any{leadStub("1"), leadStub("2")}, &next)
			default:
				// The portal shifted under us and repeats lead 2.
				writeLeadPage(w, []map[string]any{leadStub("2"), leadStub("3")}, nil)
			}
		})

		client := portal.client(t, ClientConfig{PageSize: 2})
		leads, err := client.FetchLeads(context.Background(), map[string]any{})
		require.NoError(t, err)
		require.Len(t, leads, 3)
	})

	t.Run("FullPageWithoutNextContinues", func(t *testing.T) {
		portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			start := int(body["start"].(float64))

			switch start {
			case 0:
				writeLeadPage(w, []map[string]any{leadStub("1"), leadStub("2")}, nil)
			case 2:
				writeLeadPage(w, []map[string]any{leadStub("3")}, nil)
			default:
				t.Errorf("unexpected start offset %d", start)
			}
		})

		client := portal.client(t, ClientConfig{PageSize: 2})
		leads, err := client.FetchLeads(context.Background(), map[string]any{})
		require.NoError(t, err)
		require.Len(t, leads, 3)
	})

	t.Run("StopsAtOffsetCap", func(t *testing.T) {
		portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			start := int(body["start"].(float64))
			next := start + 2
			writeLeadPage(w, []map[string]any{
				leadStub(fmt.Sprintf("%d", start+1)),
				leadStub(fmt.Sprintf("%d", start+2)),
			}, &next)
		})

		client := portal.client(t, ClientConfig{PageSize: 2, MaxLeadOffset: 6})
		leads, err := client.FetchLeads(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.Len(t, leads, 6)
	})

	t.Run("APIErrorPropagates", func(t *testing.T) {
		portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":             "QUERY_LIMIT_EXCEEDED",
				"error_description": "Too many requests",
			})
		})

		client := portal.client(t, ClientConfig{})
		_, err := client.FetchLeads(context.Background(), map[string]any{})
		require.Error(t, err)

		var apiErr APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "QUERY_LIMIT_EXCEEDED", apiErr.Code)
	})
}

func TestClient_AuthRetry(t *testing.T) {
	t.Run("RefreshesOnceOnExpiredToken", func(t *testing.T) {
		portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			if body["auth"] == "token-1" {
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "expired_token"})
				return
			}
			writeLeadPage(w, []map[string]any{leadStub("1")}, nil)
		})

		client := portal.client(t, ClientConfig{})
		leads, err := client.FetchLeads(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.Len(t, leads, 1)
		assert.Equal(t, int32(2), portal.tokenIssued.Load(), "initial refresh plus one on expiry")
	})

	t.Run("SecondExpiryFails", func(t *testing.T) {
		portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "expired_token"})
		})

		client := portal.client(t, ClientConfig{})
		_, err := client.FetchLeads(context.Background(), map[string]any{})
		require.Error(t, err)

		var apiErr APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.IsAuthExpired())
		assert.Equal(t, int32(2), portal.restRequests.Load(), "exactly one retry")
	})
}

func TestClient_FetchLeadsByContacts(t *testing.T) {
	portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		filter := body["filter"].(map[string]any)
		contacts := filter["CONTACT_ID"].([]any)

		leads := make([]map[string]any, 0, len(contacts))
		for _, c := range contacts {
			stub := leadStub("lead-" + c.(string))
			stub["CONTACT_ID"] = c
			leads = append(leads, stub)
		}
		writeLeadPage(w, leads, nil)
	})

	client := portal.client(t, ClientConfig{ContactBatchSize: 2, ContactConcurrency: 2})
	leads, err := client.FetchLeadsByContacts(context.Background(),
		[]string{"C1", "C2", "", "0", "C1", "C3"})
	require.NoError(t, err)
	assert.Len(t, leads, 3, "blank, zero and duplicate contacts are skipped")
}

func TestClient_FetchSources(t *testing.T) {
	portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		filter := body["filter"].(map[string]any)
		assert.Equal(t, "SOURCE", filter["ENTITY_ID"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"ID": "1", "ENTITY_ID": "SOURCE", "STATUS_ID": "CALL", "NAME": "Звонок"},
				{"ID": "2", "ENTITY_ID": "SOURCE", "STATUS_ID": "WEB", "NAME": "Сайт"},
			},
		})
	})

	client := portal.client(t, ClientConfig{})
	sources, err := client.FetchSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, Source{ID: "CALL", Name: "Звонок"}, sources[0])
}

func TestClient_FetchLeadStages(t *testing.T) {
	portal := newFakePortal(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		filter := body["filter"].(map[string]any)
		assert.Equal(t, "STATUS", filter["ENTITY_ID"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"ID": "1", "ENTITY_ID": "STATUS", "STATUS_ID": "NEW", "NAME": "Распределен"},
				{"ID": "2", "ENTITY_ID": "STATUS", "STATUS_ID": "CONVERTED", "NAME": "Обработка лида завершена"},
			},
		})
	})

	client := portal.client(t, ClientConfig{})
	stages, err := client.FetchLeadStages(context.Background())
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, LeadStage{ID: "NEW", Name: "Распределен"}, stages[0])
}

func TestParseBitrixTime(t *testing.T) {
	t.Run("RFC3339WithOffset", func(t *testing.T) {
		ts := parseBitrixTime("2026-03-01T09:30:00+03:00")
		require.False(t, ts.IsZero())
		assert.Equal(t, 9, ts.Hour())
	})

	t.Run("PlainDate", func(t *testing.T) {
		ts := parseBitrixTime("2026-03-01")
		require.False(t, ts.IsZero())
		assert.Equal(t, time.March, ts.Month())
	})

	t.Run("EmptyAndGarbage", func(t *testing.T) {
		assert.True(t, parseBitrixTime("").IsZero())
		assert.True(t, parseBitrixTime("not a date").IsZero())
	})
}
