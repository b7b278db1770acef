package engine

// Persisted layout: one key per node metadata record, one key per
// directory listing, one key per file's data payload. Splitting metadata
// from data lets timestamp and size updates commit without rewriting file
// content. The root directory is reachable via the fixed root node ID.
const (
	rootNodeID = "root"

	metaKeyPrefix = "meta/"
	dirKeyPrefix  = "dir/"
	dataKeyPrefix = "data/"
)

func metaKey(id string) string {
	return metaKeyPrefix + id
}

func dirKey(id string) string {
	return dirKeyPrefix + id
}

func dataKey(id string) string {
	return dataKeyPrefix + id
}
