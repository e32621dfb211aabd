package provider

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"bookbag/internal/httpx"
)

// APIError is an error document returned in place of a feed, e.g.
// <error code="100" description="Incorrect user credentials"/>.
type APIError struct {
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Description)
}

// RateLimited reports whether the provider says its request quota is spent.
func (e *APIError) RateLimited() bool {
	switch e.Code {
	case "429", "500", "501":
		return true
	}
	return httpx.MentionsRateLimit(e.Description)
}

type errorDocument struct {
	XMLName     xml.Name
	Code        string `xml:"code,attr"`
	Description string `xml:"description,attr"`
}

// checkErrorDocument returns an APIError when body is a newznab error document.
func checkErrorDocument(body []byte) error {
	var doc errorDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil
	}
	if !strings.EqualFold(doc.XMLName.Local, "error") {
		return nil
	}
	return &APIError{Code: strings.TrimSpace(doc.Code), Description: strings.TrimSpace(doc.Description)}
}

// parseFeed decodes an RSS or Atom body. A fresh parser is used per call
// because gofeed parsers keep state between Parse calls.
func parseFeed(resp *httpx.Response) (*gofeed.Feed, error) {
	if err := checkErrorDocument(resp.Body); err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &httpx.MalformedError{URL: httpx.Redact(resp.URL), Format: "feed", Err: err}
	}
	return feed, nil
}

// itemAttrs collects <prefix:attr name=".." value=".."/> values from every
// extension namespace on the item.
func itemAttrs(item *gofeed.Item) map[string]string {
	out := map[string]string{}
	for _, elements := range item.Extensions {
		for _, attr := range elements["attr"] {
			collectAttr(out, attr)
		}
	}
	return out
}

func collectAttr(out map[string]string, attr ext.Extension) {
	name := strings.ToLower(strings.TrimSpace(attr.Attrs["name"]))
	if name == "" {
		return
	}
	if _, exists := out[name]; !exists {
		out[name] = strings.TrimSpace(attr.Attrs["value"])
	}
}

func itemEnclosure(item *gofeed.Item) *gofeed.Enclosure {
	for _, enclosure := range item.Enclosures {
		if enclosure != nil && strings.TrimSpace(enclosure.URL) != "" {
			return enclosure
		}
	}
	return nil
}

// itemSize prefers the size attribute, then the enclosure length.
func itemSize(item *gofeed.Item, attrs map[string]string) int64 {
	if size, err := strconv.ParseInt(attrs["size"], 10, 64); err == nil && size > 0 {
		return size
	}
	if enclosure := itemEnclosure(item); enclosure != nil {
		if size, err := strconv.ParseInt(strings.TrimSpace(enclosure.Length), 10, 64); err == nil && size > 0 {
			return size
		}
	}
	return 0
}

func itemLink(item *gofeed.Item) string {
	if enclosure := itemEnclosure(item); enclosure != nil {
		return strings.TrimSpace(enclosure.URL)
	}
	return strings.TrimSpace(item.Link)
}
