package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ProviderFamily identifies the request shape a provider speaks.
type ProviderFamily string

const (
	FamilyNewznab ProviderFamily = "newznab"
	FamilyTorznab ProviderFamily = "torznab"
	FamilyRSS     ProviderFamily = "rss"
	FamilyDirect  ProviderFamily = "direct"
)

// Families lists every provider family in configuration order.
var Families = []ProviderFamily{FamilyNewznab, FamilyTorznab, FamilyRSS, FamilyDirect}

// Provider is one configured search source. The daily API-call counter lives in
// the state database; only the limit is configuration.
type Provider struct {
	Name            string `toml:"name"`
	DisplayName     string `toml:"display_name"`
	Enabled         bool   `toml:"enabled"`
	Host            string `toml:"host"`
	APIKey          string `toml:"api_key"`
	GeneralSearch   string `toml:"general_search"`
	BookSearch      string `toml:"book_search"`
	AudioSearch     string `toml:"audio_search"`
	BookCategories  string `toml:"book_categories"`
	AudioCategories string `toml:"audio_categories"`
	Extended        string `toml:"extended"`
	Manual          bool   `toml:"manual"`
	APILimit        int    `toml:"api_limit"`
	Priority        int    `toml:"priority"`
	DLTypes         string `toml:"dl_types"`
	SearchPath      string `toml:"search_path"`
}

// Label returns the display name, falling back to the slot name.
func (p Provider) Label() string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	return p.Name
}

// Allows reports whether the provider is enabled for the given media kind code.
func (p Provider) Allows(kind string) bool {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind == "" {
		return true
	}
	return strings.Contains(p.DLTypes, kind)
}

// IsEmpty reports whether the slot is an unused placeholder.
func (p Provider) IsEmpty() bool {
	return strings.TrimSpace(p.Host) == ""
}

// Providers groups provider slots by family.
type Providers struct {
	Newznab []Provider `toml:"newznab"`
	Torznab []Provider `toml:"torznab"`
	RSS     []Provider `toml:"rss"`
	Direct  []Provider `toml:"direct"`
}

// List returns a pointer to the slice backing a family.
func (p *Providers) List(family ProviderFamily) *[]Provider {
	switch family {
	case FamilyNewznab:
		return &p.Newznab
	case FamilyTorznab:
		return &p.Torznab
	case FamilyRSS:
		return &p.RSS
	case FamilyDirect:
		return &p.Direct
	}
	return nil
}

// Enabled returns the non-empty, enabled providers of a family.
func (p *Providers) Enabled(family ProviderFamily) []Provider {
	list := p.List(family)
	if list == nil {
		return nil
	}
	out := make([]Provider, 0, len(*list))
	for _, provider := range *list {
		if provider.Enabled && !provider.IsEmpty() {
			out = append(out, provider)
		}
	}
	return out
}

func slotPrefix(family ProviderFamily) string {
	switch family {
	case FamilyNewznab:
		return "Newznab"
	case FamilyTorznab:
		return "Torznab"
	case FamilyRSS:
		return "RSS_"
	default:
		return "Direct"
	}
}

// EmptySlot returns the disabled placeholder for a family at position index.
func EmptySlot(family ProviderFamily, index int) Provider {
	name := fmt.Sprintf("%s%d", slotPrefix(family), index)
	slot := Provider{Name: name, DisplayName: name}
	switch family {
	case FamilyNewznab:
		slot.GeneralSearch = "search"
		slot.BookSearch = "book"
		slot.BookCategories = "7000,7020"
		slot.AudioCategories = "3030"
		slot.Extended = "1"
		slot.DLTypes = "A,E"
	case FamilyTorznab:
		slot.GeneralSearch = "search"
		slot.BookSearch = "book"
		slot.BookCategories = "8000,8010"
		slot.AudioCategories = "3030"
		slot.Extended = "1"
		slot.DLTypes = "A,E"
	case FamilyRSS:
		slot.DLTypes = "E"
	case FamilyDirect:
		slot.SearchPath = "search.php"
		slot.DLTypes = "E,M"
	}
	return slot
}

// AppendProviderSlot adds one empty placeholder to a family unless the last
// slot is already empty. It returns the name of the trailing slot.
func (p *Providers) AppendProviderSlot(family ProviderFamily) (string, error) {
	list := p.List(family)
	if list == nil {
		return "", fmt.Errorf("unknown provider family %q", family)
	}
	if n := len(*list); n > 0 && (*list)[n-1].IsEmpty() {
		return (*list)[n-1].Name, nil
	}
	used := make(map[string]struct{}, len(*list))
	for _, entry := range *list {
		used[entry.Name] = struct{}{}
	}
	slot := EmptySlot(family, len(*list))
	slot.Name = freeSlotName(family, used, len(*list))
	slot.DisplayName = slot.Name
	*list = append(*list, slot)
	return slot.Name, nil
}

// NormalizeDLTypes keeps the sorted unique letters of A, E and M, comma
// separated, defaulting to E.
func NormalizeDLTypes(value string) string {
	seen := make(map[rune]struct{}, 3)
	for _, r := range strings.ToUpper(value) {
		if strings.ContainsRune("AEM", r) {
			seen[r] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return "E"
	}
	letters := make([]string, 0, len(seen))
	for r := range seen {
		letters = append(letters, string(r))
	}
	sort.Strings(letters)
	return strings.Join(letters, ",")
}

// HostKey is the identity used for duplicate detection.
func HostKey(host string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(host)), "/")
}

func (p *Providers) normalizeEntries() {
	for _, family := range Families {
		list := p.List(family)
		for i := range *list {
			entry := &(*list)[i]
			entry.Name = strings.TrimSpace(entry.Name)
			entry.DisplayName = strings.TrimSpace(entry.DisplayName)
			entry.Host = strings.TrimSpace(entry.Host)
			entry.APIKey = strings.TrimSpace(entry.APIKey)
			entry.DLTypes = NormalizeDLTypes(entry.DLTypes)
			if entry.Name == "" {
				entry.Name = fmt.Sprintf("%s%d", slotPrefix(family), i)
			}
			if entry.APILimit < 0 {
				entry.APILimit = 0
			}
		}
	}
}

func (p *Providers) validate() error {
	for _, family := range Families {
		for _, entry := range *p.List(family) {
			if entry.Enabled && entry.IsEmpty() {
				return fmt.Errorf("providers.%s %s is enabled but has no host", family, entry.Name)
			}
		}
	}
	return nil
}

// Compact prepares provider slots for persistence: empty slots are dropped,
// duplicate hosts (case and trailing slash insensitive) are removed, dl_types
// are normalized, and exactly one empty slot is appended per family. Surviving
// providers keep their names, since usage counters and cooldowns are keyed by
// name; only missing or clashing names get a fresh slot name. It returns the
// number of duplicates removed.
func (p *Providers) Compact(logger *slog.Logger) int {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	removed := 0
	for _, family := range Families {
		list := p.List(family)
		seen := make(map[string]struct{}, len(*list))
		kept := make([]Provider, 0, len(*list)+1)
		duplicates := 0
		for _, entry := range *list {
			if entry.IsEmpty() {
				continue
			}
			key := HostKey(entry.Host)
			if _, dup := seen[key]; dup {
				duplicates++
				logger.Warn("removing duplicate provider",
					slog.String("family", string(family)),
					slog.String("provider", entry.Label()),
					slog.String("host", entry.Host),
					slog.String("event_type", "provider_duplicate_removed"),
					slog.String("error_hint", "remove the duplicate entry from the indexer manager"),
				)
				continue
			}
			seen[key] = struct{}{}
			kept = append(kept, entry)
		}
		if duplicates > 0 {
			logger.Info("removed duplicate providers",
				slog.String("family", string(family)),
				slog.Int("count", duplicates),
			)
		}
		names := make(map[string]struct{}, len(kept)+1)
		for i := range kept {
			name := strings.TrimSpace(kept[i].Name)
			if _, clash := names[name]; name == "" || clash {
				name = freeSlotName(family, names, len(kept))
			}
			names[name] = struct{}{}
			kept[i].Name = name
			kept[i].DLTypes = NormalizeDLTypes(kept[i].DLTypes)
		}
		slot := EmptySlot(family, len(kept))
		slot.Name = freeSlotName(family, names, len(kept))
		slot.DisplayName = slot.Name
		kept = append(kept, slot)
		*list = kept
		removed += duplicates
	}
	return removed
}

// freeSlotName returns the first unused placeholder name at or after index.
func freeSlotName(family ProviderFamily, used map[string]struct{}, index int) string {
	for ; ; index++ {
		name := fmt.Sprintf("%s%d", slotPrefix(family), index)
		if _, taken := used[name]; !taken {
			return name
		}
	}
}
