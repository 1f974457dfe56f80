package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-digest/internal/audio"
	"github.com/loqalabs/loqa-digest/internal/bookmarks"
	"github.com/loqalabs/loqa-digest/internal/digest"
	"github.com/loqalabs/loqa-digest/internal/feeds"
	"github.com/loqalabs/loqa-digest/internal/llm"
	"github.com/loqalabs/loqa-digest/internal/store"
	"github.com/loqalabs/loqa-digest/internal/tts"
)

const maxBodyBytes = 1 << 20

// api serves the JSON HTTP interface.
type api struct {
	store     *store.Store
	feeds     *feeds.Manager
	bookmarks *bookmarks.Manager
	digests   *digest.Orchestrator
	logger    *slog.Logger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/feeds", a.listFeeds)
	mux.HandleFunc("POST /api/feeds", a.addFeed)
	mux.HandleFunc("POST /api/feeds/refresh", a.refreshFeeds)
	mux.HandleFunc("DELETE /api/feeds/{name}", a.removeFeed)

	mux.HandleFunc("GET /api/articles", a.listArticles)

	mux.HandleFunc("GET /api/bookmarks", a.listBookmarks)
	mux.HandleFunc("POST /api/bookmarks", a.addBookmark)
	mux.HandleFunc("DELETE /api/bookmarks", a.removeBookmark)
	mux.HandleFunc("POST /api/bookmarks/clear", a.clearBookmarks)

	mux.HandleFunc("GET /api/settings", a.listSettings)
	mux.HandleFunc("GET /api/settings/{key}", a.getSetting)
	mux.HandleFunc("PUT /api/settings/{key}", a.putSetting)
	mux.HandleFunc("DELETE /api/settings/{key}", a.deleteSetting)

	mux.HandleFunc("GET /api/digests", a.listDigests)
	mux.HandleFunc("POST /api/digests", a.generateDigest)
	mux.HandleFunc("GET /api/digests/{id}", a.getDigest)
	mux.HandleFunc("POST /api/digests/{id}/narration", a.narrateDigest)

	mux.HandleFunc("GET /api/narrations", a.listNarrations)
	mux.HandleFunc("POST /api/narrations", a.narrateText)
	mux.HandleFunc("GET /api/narrations/{id}/audio", a.narrationAudio)
}

func (a *api) listFeeds(w http.ResponseWriter, r *http.Request) {
	list, err := a.feeds.Feeds(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (a *api) addFeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := a.feeds.Add(r.Context(), body.Name, body.URL); err != nil {
		a.fail(w, err)
		return
	}
	feed, err := a.store.GetFeed(r.Context(), strings.TrimSpace(body.Name))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (a *api) removeFeed(w http.ResponseWriter, r *http.Request) {
	if err := a.feeds.Remove(r.Context(), r.PathValue("name")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) refreshFeeds(w http.ResponseWriter, r *http.Request) {
	failures := []string{}
	if err := a.feeds.RefreshAll(r.Context()); err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				failures = append(failures, e.Error())
			}
		} else {
			a.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (a *api) listArticles(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := a.feeds.Articles(r.Context(), r.URL.Query().Get("feed"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (a *api) listBookmarks(w http.ResponseWriter, r *http.Request) {
	list, err := a.bookmarks.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (a *api) addBookmark(w http.ResponseWriter, r *http.Request) {
	var article store.Article
	if !decode(w, r, &article) {
		return
	}
	added, err := a.bookmarks.Add(r.Context(), article)
	if err != nil {
		a.fail(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"added": added})
}

func (a *api) removeBookmark(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link == "" {
		writeError(w, http.StatusBadRequest, "link query parameter is required")
		return
	}
	if err := a.bookmarks.Remove(r.Context(), link); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) clearBookmarks(w http.ResponseWriter, r *http.Request) {
	if err := a.bookmarks.Clear(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listSettings(w http.ResponseWriter, r *http.Request) {
	all, err := a.store.Settings().List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (a *api) getSetting(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	ok, err := a.store.Settings().Get(r.Context(), r.PathValue("key"), &value)
	if err != nil {
		a.fail(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (a *api) putSetting(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if !decode(w, r, &value) {
		return
	}
	if err := a.store.Settings().Set(r.Context(), r.PathValue("key"), value); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Settings().Delete(r.Context(), r.PathValue("key")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listDigests(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := a.store.ListDigests(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(list))
}

func (a *api) generateDigest(w http.ResponseWriter, r *http.Request) {
	d, err := a.digests.Generate(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *api) getDigest(w http.ResponseWriter, r *http.Request) {
	d, err := a.store.GetDigest(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *api) narrateDigest(w http.ResponseWriter, r *http.Request) {
	n, err := a.digests.Narrate(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, narrationView(n))
}

func (a *api) listNarrations(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := a.store.ListNarrations(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]narrationJSON, 0, len(list))
	for _, n := range list {
		out = append(out, narrationView(n))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) narrateText(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	n, err := a.digests.NarrateText(r.Context(), digest.SourceAdhoc, body.Text)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, narrationView(n))
}

func (a *api) narrationAudio(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.GetNarration(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	f, err := os.Open(n.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusGone, "audio file no longer exists")
			return
		}
		a.fail(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.fail(w, err)
		return
	}
	if enc, err := audio.ParseEncoding(n.Encoding); err == nil {
		w.Header().Set("Content-Type", enc.MIMEType())
	}
	http.ServeContent(w, r, filepath.Base(n.Path), info.ModTime(), f)
}

type narrationJSON struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Encoding   string `json:"encoding"`
	Chunks     int    `json:"chunks"`
	Dropped    []int  `json:"dropped"`
	DurationMS int64  `json:"duration_ms"`
	Bytes      int64  `json:"bytes"`
	CreatedAt  string `json:"created_at"`
	AudioURL   string `json:"audio_url"`
}

func narrationView(n store.Narration) narrationJSON {
	return narrationJSON{
		ID:         n.ID,
		Source:     n.Source,
		Encoding:   n.Encoding,
		Chunks:     n.Chunks,
		Dropped:    orEmpty(n.Dropped),
		DurationMS: n.Duration.Milliseconds(),
		Bytes:      n.Bytes,
		CreatedAt:  n.CreatedAt.Format(time.RFC3339),
		AudioURL:   "/api/narrations/" + n.ID + "/audio",
	}
}

// fail maps domain errors to HTTP statuses.
func (a *api) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, feeds.ErrUnknownFeed):
		status = http.StatusNotFound
	case errors.Is(err, feeds.ErrFeedExists), errors.Is(err, store.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, feeds.ErrInvalidFeed), errors.Is(err, bookmarks.ErrMissingLink):
		status = http.StatusBadRequest
	case errors.Is(err, digest.ErrNoBookmarks), errors.Is(err, digest.ErrNothingScraped):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, tts.ErrConfigurationMissing):
		status = http.StatusServiceUnavailable
	case errors.Is(err, tts.ErrNoAudio), errors.Is(err, llm.ErrEmptySummary):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", slogError(err))
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
