package feed

import (
	"encoding/json"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/jobsink/jobsink/pkg/domain"
)

// rule extracts one candidate value for a canonical field from a feed item.
// Rules for a field are evaluated in priority order, first non-empty wins.
type rule func(it *gofeed.Item) string

var companyRules = []rule{
	func(it *gofeed.Item) string { return extValue(it, "job", "company") },
	func(it *gofeed.Item) string { return custom(it, "company") },
	func(it *gofeed.Item) string {
		if it.Author != nil {
			return it.Author.Name
		}
		return ""
	},
}

var locationRules = []rule{
	func(it *gofeed.Item) string { return extValue(it, "job", "location") },
	func(it *gofeed.Item) string { return custom(it, "location") },
}

var typeRules = []rule{
	func(it *gofeed.Item) string { return extValue(it, "job", "jobtype") },
	func(it *gofeed.Item) string { return extValue(it, "job", "job_type") },
	func(it *gofeed.Item) string { return custom(it, "type") },
}

var descriptionRules = []rule{
	func(it *gofeed.Item) string { return it.Description },
	func(it *gofeed.Item) string { return it.Content },
}

// Normalize converts a parsed feed into canonical entries. It is a pure
// transformation: gofeed already collapsed RSS channel items and Atom
// entries into a single Items list, so a document with neither yields an
// empty result rather than an error. Malformed individual items degrade to
// partial extraction, they never abort the whole feed.
func Normalize(feed *gofeed.Feed, sourceURL string) []domain.Entry {
	if feed == nil {
		return []domain.Entry{}
	}

	entries := make([]domain.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, normalizeItem(item, sourceURL))
	}
	return entries
}

// normalizeItem maps one feed item to a canonical entry
func normalizeItem(item *gofeed.Item, sourceURL string) domain.Entry {
	link := item.Link
	if link == "" {
		link = item.GUID
	}

	entry := domain.Entry{
		SourceURL:   sourceURL,
		Title:       strings.TrimSpace(item.Title),
		Company:     strings.TrimSpace(apply(item, companyRules)),
		Location:    strings.TrimSpace(apply(item, locationRules)),
		Type:        strings.TrimSpace(apply(item, typeRules)),
		Description: apply(item, descriptionRules),
		Link:        link,
		ExternalID:  externalID(item),
	}

	// feed-native date fields, already parsed by gofeed; absent if unparsable
	if item.PublishedParsed != nil {
		entry.PublishedAt = item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		entry.PublishedAt = item.UpdatedParsed
	}

	// keep the original item for forensic purposes
	if raw, err := json.Marshal(item); err == nil {
		entry.Raw = raw
	}

	return entry
}

// externalID derives the best-effort stable identifier: feed-native guid,
// else the link, else the title. Empty only when all three are empty.
func externalID(item *gofeed.Item) string {
	for _, candidate := range []string{item.GUID, item.Link, item.Title} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

// apply evaluates rules in order and returns the first non-empty value
func apply(item *gofeed.Item, rules []rule) string {
	for _, r := range rules {
		if v := r(item); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// extValue returns the first value of a namespaced extension element,
// e.g. <job:company> ends up under Extensions["job"]["company"]
func extValue(item *gofeed.Item, prefix, name string) string {
	exts, ok := item.Extensions[prefix]
	if !ok {
		return ""
	}
	vals, ok := exts[name]
	if !ok || len(vals) == 0 {
		return ""
	}
	return vals[0].Value
}

// custom returns a non-namespaced vendor field captured by gofeed
func custom(item *gofeed.Item, name string) string {
	if item.Custom == nil {
		return ""
	}
	return item.Custom[name]
}
