package provider

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
	"bookbag/internal/store"
)

// direct scrapes an HTML search page of a direct-download site.
type direct struct {
	http *httpx.Client
	// extensions accepted as direct file links, without the dot.
	extensions []string
}

var sizePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([kmg])i?b\b`)

func (d *direct) search(ctx context.Context, p config.Provider, q Query) ([]SearchResult, error) {
	searchPath := strings.TrimLeft(strings.TrimSpace(p.SearchPath), "/")
	pageURL := normalizeHost(p.Host) + "/" + searchPath
	params := url.Values{}
	params.Set("req", q.Term)
	params.Set("res", "100")
	resp, err := d.http.Do(ctx, httpx.Request{URL: pageURL, Params: params})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &httpx.MalformedError{URL: httpx.Redact(pageURL), Format: "html", Err: err}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var results []SearchResult
	doc.Find("tr, li").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
			return d.isDownloadLink(a.AttrOr("href", ""))
		}).First()
		if link.Length() == 0 {
			return
		}
		target, err := base.Parse(strings.TrimSpace(link.AttrOr("href", "")))
		if err != nil {
			return
		}
		href := target.String()
		if _, dup := seen[href]; dup {
			return
		}
		title := strings.TrimSpace(link.AttrOr("title", ""))
		if title == "" {
			title = strings.Join(strings.Fields(link.Text()), " ")
		}
		if title == "" {
			return
		}
		seen[href] = struct{}{}
		result := SearchResult{
			Kind:     q.Kind,
			Title:    title,
			Provider: p.Label(),
			Size:     parseSize(row.Text()),
			URL:      href,
			Mode:     store.ModeDirect,
			Priority: p.Priority,
		}
		applyDefaults(&result)
		results = append(results, result)
	})
	return results, nil
}

func (d *direct) isDownloadLink(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return false
	}
	lower := strings.ToLower(href)
	if strings.Contains(lower, "md5=") {
		return true
	}
	parsed, err := url.Parse(lower)
	if err != nil {
		return false
	}
	ext := strings.TrimPrefix(path.Ext(parsed.Path), ".")
	for _, allowed := range d.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// parseSize finds the first "12.5 MB" style size in text and returns bytes.
func parseSize(text string) int64 {
	match := sizePattern.FindStringSubmatch(text)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(match[2]) {
	case "k":
		value *= 1 << 10
	case "m":
		value *= 1 << 20
	case "g":
		value *= 1 << 30
	}
	return int64(value)
}
