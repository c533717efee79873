package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paperlens/paperlens/internal/backend"
	"github.com/paperlens/paperlens/internal/history"
	"github.com/paperlens/paperlens/internal/papers"
	"github.com/paperlens/paperlens/internal/storage"
)

// SearchCache is the last search, replaced wholesale by each new one.
type SearchCache struct {
	Query   string                 `json:"query"`
	Results []backend.SearchResult `json:"results"`
}

// UploadQuery is the cache query recorded for an upload of filename.
func UploadQuery(filename string) string {
	return "upload:" + filepath.Base(filename)
}

// Search runs a text search. The query is trimmed first; an empty query
// clears the cache and returns no results. A repeat of the cached query is
// answered locally. A failed search leaves the cache untouched.
func (a *App) Search(ctx context.Context, query string) ([]backend.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		if err := a.store.Remove(history.KeySearchData); err != nil {
			return nil, fmt.Errorf("clearing search cache: %w", err)
		}
		return []backend.SearchResult{}, nil
	}

	cached, err := a.CachedSearch()
	if err != nil {
		a.logger.Warn("ignoring unreadable search cache", "error", err)
	} else if cached.Query == query {
		a.logger.Debug("search cache hit", "query", query)
		return cached.Results, nil
	}

	results, err := a.api.SearchText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if err := a.store.SetJSON(history.KeySearchData, SearchCache{Query: query, Results: results}); err != nil {
		return nil, fmt.Errorf("saving search cache: %w", err)
	}
	return results, nil
}

// CachedSearch returns the last search. A missing cache is an empty
// SearchCache.
func (a *App) CachedSearch() (SearchCache, error) {
	var c SearchCache
	err := a.store.GetJSON(history.KeySearchData, &c)
	if errors.Is(err, storage.ErrNotFound) {
		return SearchCache{}, nil
	}
	return c, err
}

// Upload searches by document. Results replace the search cache under the
// query "upload:<filename>".
func (a *App) Upload(ctx context.Context, filename string, data []byte) ([]backend.SearchResult, error) {
	results, err := a.api.Upload(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	if err := a.store.SetJSON(history.KeySearchData, SearchCache{Query: UploadQuery(filename), Results: results}); err != nil {
		return nil, fmt.Errorf("saving search cache: %w", err)
	}
	return results, nil
}

// findResult looks id up in the cached search results.
func (a *App) findResult(id string) (backend.SearchResult, bool) {
	c, err := a.CachedSearch()
	if err != nil {
		return backend.SearchResult{}, false
	}
	for _, r := range c.Results {
		if r.ID == id {
			return r, true
		}
	}
	return backend.SearchResult{}, false
}

// Open records the PDF link of a cached search result under pdf:{id} and
// returns it.
func (a *App) Open(id string) (backend.SearchResult, string, error) {
	r, ok := a.findResult(id)
	if !ok {
		return backend.SearchResult{}, "", fmt.Errorf("%w: %s", ErrUnknownResult, id)
	}
	pdfURL := papers.PDFURL(r.DownloadURL)
	if pdfURL == "" {
		return r, "", fmt.Errorf("paper %s has no download url", id)
	}
	if err := a.store.Set(history.PDFKey(id), pdfURL); err != nil {
		return r, "", fmt.Errorf("saving pdf url: %w", err)
	}
	return r, pdfURL, nil
}

// PDFURL returns the PDF link recorded for id by Open.
func (a *App) PDFURL(id string) (string, error) {
	u, err := a.store.Get(history.PDFKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("no pdf recorded for %s; open it from search results first", id)
	}
	return u, err
}

// FetchPDF downloads the recorded PDF for id through the proxy.
func (a *App) FetchPDF(ctx context.Context, id string) ([]byte, error) {
	u, err := a.PDFURL(id)
	if err != nil {
		return nil, err
	}
	data, err := a.api.FetchPDF(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetching pdf: %w", err)
	}
	return data, nil
}

// titleFor picks the best known title for id from the search cache.
func (a *App) titleFor(id string) string {
	if r, ok := a.findResult(id); ok && !history.IsPlaceholder(r.Title) {
		return r.Title
	}
	return ""
}
