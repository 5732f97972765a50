package types

// MediaCatalog is the subset of the catalog that network-facing
// components mutate.
type MediaCatalog interface {
	// AddMediaIfAbsent inserts item unless its url is already present, in
	// which case the stored item is returned with added false.
	AddMediaIfAbsent(item *MediaItem) (stored *MediaItem, added bool, err error)
	RemoveMedia(id MediaID) error
	Media() []*MediaItem
}

type HistoryRecorder interface {
	AddHistoryItem(kind HistoryKind, description, mediaName string) error
}

type EventEmitter interface {
	Emit(draft EventDraft) (*Event, error)
}
