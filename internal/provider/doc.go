// Package provider queries configured search sources and returns raw results.
//
// Four families are supported: newznab and torznab indexers (XML feeds with
// namespaced attributes), plain RSS feeds, and direct-download sites scraped
// as HTML. Searcher.Search fans a query out to every eligible provider at
// once; each provider runs under its own timeout and rate limiter, and a
// failing provider is put on cool-down without affecting the others.
//
// Results are unscored. The scorer package decides which ones are relevant.
package provider
