package entity

// FeedSnapshot is the transient result of parsing a fetched feed body. It
// is discarded once the owning feed task completes; nothing about it is
// persisted except, indirectly, the entry/hub tasks it causes to be
// submitted.
type FeedSnapshot struct {
	SelfURL     string
	HubURLs     []string
	ItemURLs    []string
	ArchiveURLs []string // RFC 5005 rel="prev-archive" targets
}
