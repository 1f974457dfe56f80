package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-digest/internal/audio"
	"github.com/loqalabs/loqa-digest/internal/bookmarks"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/digest"
	"github.com/loqalabs/loqa-digest/internal/feeds"
	"github.com/loqalabs/loqa-digest/internal/llm"
	"github.com/loqalabs/loqa-digest/internal/scraper"
	"github.com/loqalabs/loqa-digest/internal/store"
	"github.com/loqalabs/loqa-digest/internal/tts"
)

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>World</title><link>https://example.com</link><description>d</description>
<item><title>Harbour reopens</title><link>{{BASE}}/harbour</link><description>Ships return.</description></item>
<item><title>Bridge repaired</title><link>{{BASE}}/bridge</link><description>Traffic flows.</description></item>
</channel></rss>`

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/world.xml":
			_, _ = io.WriteString(w, strings.ReplaceAll(rssDoc, "{{BASE}}", srv.URL))
		case "/harbour", "/bridge":
			body := strings.Repeat("The city council confirmed the works finished ahead of schedule this week after months of detours. ", 6)
			_, _ = io.WriteString(w, "<html><head><title>"+r.URL.Path+"</title></head><body><article><p>"+body+"</p><p>"+body+"</p></article></body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	log := newLogger()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TTS.OutputDir = filepath.Join(dir, "audio")

	st, err := store.Open(context.Background(), config.StoreConfig{Path: filepath.Join(dir, "api.db")}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	pipeline := tts.NewPipeline(tts.NewMockSynth(audio.MP3), tts.PipelineConfigFrom(cfg.TTS), log)
	summarizer := llm.NewSummarizer(llm.NewMockGenerator(), cfg.LLM, log)
	bm := bookmarks.NewManager(st, log)
	a := &api{
		store:     st,
		feeds:     feeds.NewManager(cfg.Feeds, st, nil, log),
		bookmarks: bm,
		digests:   digest.NewOrchestrator(cfg.Digest, st, bm, scraper.New(cfg.Scraper, log), summarizer, pipeline, log),
		logger:    log,
	}
	mux := http.NewServeMux()
	a.register(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, target string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec
}

func TestFeedEndpoints(t *testing.T) {
	up := upstream(t)
	h := newTestAPI(t)

	var feed store.Feed
	rec := do(t, h, http.MethodPost, "/api/feeds", map[string]string{"name": "world", "url": up.URL + "/world.xml"}, &feed)
	if rec.Code != http.StatusCreated || feed.Name != "world" {
		t.Fatalf("add feed: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/feeds", map[string]string{"name": "world", "url": up.URL + "/world.xml"}, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate feed, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/feeds", map[string]string{"name": "bad", "url": up.URL + "/missing"}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid feed, got %d", rec.Code)
	}

	var list []store.Feed
	do(t, h, http.MethodGet, "/api/feeds", nil, &list)
	if len(list) != 1 {
		t.Fatalf("expected one feed, got %+v", list)
	}

	var articles []store.Article
	do(t, h, http.MethodGet, "/api/articles?feed=world&limit=1", nil, &articles)
	if len(articles) != 1 || articles[0].Title != "Harbour reopens" {
		t.Fatalf("unexpected articles %+v", articles)
	}
	if rec := do(t, h, http.MethodGet, "/api/articles?limit=abc", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}

	var refresh struct {
		Failures []string `json:"failures"`
	}
	if rec := do(t, h, http.MethodPost, "/api/feeds/refresh", nil, &refresh); rec.Code != http.StatusOK || len(refresh.Failures) != 0 {
		t.Fatalf("refresh: %d %+v", rec.Code, refresh)
	}

	if rec := do(t, h, http.MethodDelete, "/api/feeds/world", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("remove feed: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/feeds/world", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 removing unknown feed, got %d", rec.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	h := newTestAPI(t)

	if rec := do(t, h, http.MethodGet, "/api/settings/tts.voice", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unset key, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/settings/tts.voice", "en-GB-Neural2-B", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("put setting: %d %s", rec.Code, rec.Body.String())
	}
	var voice string
	do(t, h, http.MethodGet, "/api/settings/tts.voice", nil, &voice)
	if voice != "en-GB-Neural2-B" {
		t.Fatalf("unexpected voice %q", voice)
	}
	var all map[string]any
	do(t, h, http.MethodGet, "/api/settings", nil, &all)
	if all["tts.voice"] != "en-GB-Neural2-B" {
		t.Fatalf("unexpected settings %v", all)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/settings/tts.pitch", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rec.Code)
	}

	if rec := do(t, h, http.MethodDelete, "/api/settings/tts.voice", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete setting: %d", rec.Code)
	}
}

func TestDigestAndNarrationFlow(t *testing.T) {
	up := upstream(t)
	h := newTestAPI(t)

	if rec := do(t, h, http.MethodPost, "/api/digests", nil, nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without bookmarks, got %d", rec.Code)
	}

	for _, path := range []string{"/harbour", "/bridge"} {
		var added map[string]bool
		rec := do(t, h, http.MethodPost, "/api/bookmarks", store.Article{Title: path, Link: up.URL + path, FeedName: "world"}, &added)
		if rec.Code != http.StatusCreated || !added["added"] {
			t.Fatalf("add bookmark: %d %s", rec.Code, rec.Body.String())
		}
	}
	var marks []store.Bookmark
	do(t, h, http.MethodGet, "/api/bookmarks", nil, &marks)
	if len(marks) != 2 {
		t.Fatalf("expected two bookmarks, got %d", len(marks))
	}

	var d store.Digest
	if rec := do(t, h, http.MethodPost, "/api/digests", nil, &d); rec.Code != http.StatusCreated || d.ID == "" {
		t.Fatalf("generate digest: %d %s", rec.Code, rec.Body.String())
	}
	var got store.Digest
	do(t, h, http.MethodGet, "/api/digests/"+d.ID, nil, &got)
	if got.Summary != d.Summary {
		t.Fatalf("digest lookup mismatch")
	}

	var n narrationJSON
	if rec := do(t, h, http.MethodPost, "/api/digests/"+d.ID+"/narration", nil, &n); rec.Code != http.StatusCreated {
		t.Fatalf("narrate digest: %d %s", rec.Code, rec.Body.String())
	}
	if n.Source != d.ID || n.DurationMS <= 0 || n.AudioURL == "" {
		t.Fatalf("unexpected narration %+v", n)
	}

	req := httptest.NewRequest(http.MethodGet, n.AudioURL, nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusPartialContent || rec.Body.Len() != 100 {
		t.Fatalf("expected 100 byte partial content, got %d with %d bytes", rec.Code, rec.Body.Len())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}

	if rec := do(t, h, http.MethodPost, "/api/digests/missing/narration", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown digest, got %d", rec.Code)
	}

	if rec := do(t, h, http.MethodDelete, "/api/bookmarks?link="+url.QueryEscape(up.URL+"/bridge"), nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("remove bookmark: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/bookmarks/clear", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("clear bookmarks: %d", rec.Code)
	}
}

func TestAdhocNarration(t *testing.T) {
	h := newTestAPI(t)

	if rec := do(t, h, http.MethodPost, "/api/narrations", map[string]string{"text": "   "}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", rec.Code)
	}
	var n narrationJSON
	if rec := do(t, h, http.MethodPost, "/api/narrations", map[string]string{"text": "**Breaking:** the *harbour* reopened [1]."}, &n); rec.Code != http.StatusCreated {
		t.Fatalf("narrate: %d %s", rec.Code, rec.Body.String())
	}
	if n.Source != digest.SourceAdhoc || n.Chunks != 1 {
		t.Fatalf("unexpected narration %+v", n)
	}

	var list []narrationJSON
	do(t, h, http.MethodGet, "/api/narrations?source=adhoc", nil, &list)
	if len(list) != 1 || list[0].ID != n.ID {
		t.Fatalf("unexpected narrations %+v", list)
	}
	if rec := do(t, h, http.MethodGet, "/api/narrations/unknown/audio", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown narration, got %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	r := New(config.Default(), newLogger())
	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}
	r.ready.Store(true)
	rec = httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}
