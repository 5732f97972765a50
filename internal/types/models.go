package types

import (
	"path"
	"strings"
	"time"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

var mediaExtensions = map[string]MediaType{
	"jpg":  MediaImage,
	"jpeg": MediaImage,
	"png":  MediaImage,
	"gif":  MediaImage,
	"webp": MediaImage,
	"bmp":  MediaImage,
	"mp4":  MediaVideo,
	"webm": MediaVideo,
	"mov":  MediaVideo,
	"avi":  MediaVideo,
	"mkv":  MediaVideo,
}

// MediaTypeFromName classifies a file name by its extension. Unknown
// extensions report false.
func MediaTypeFromName(name string) (MediaType, bool) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	t, ok := mediaExtensions[ext]
	return t, ok
}

type MediaItem struct {
	ID           MediaID   `json:"id"`
	Name         string    `json:"name"`
	Type         MediaType `json:"type"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Tags         []TagID   `json:"tags"`
	CreatedAt    time.Time `json:"created_at"`
	Size         int64     `json:"size"`
	Duration     *float64  `json:"duration,omitempty"`
	SourcePath   string    `json:"source_path,omitempty"`
	SourceFolder string    `json:"source_folder,omitempty"`
	IsLinked     bool      `json:"is_linked"`
}

// Clone returns a deep copy so callers cannot mutate catalog state.
func (m *MediaItem) Clone() *MediaItem {
	if m == nil {
		return nil
	}
	c := *m
	c.Tags = append([]TagID(nil), m.Tags...)
	if m.Duration != nil {
		d := *m.Duration
		c.Duration = &d
	}
	return &c
}

// HasTag reports whether the item references the tag id.
func (m *MediaItem) HasTag(id TagID) bool {
	for _, t := range m.Tags {
		if t == id {
			return true
		}
	}
	return false
}

type TagColor string

const (
	ColorRed    TagColor = "red"
	ColorOrange TagColor = "orange"
	ColorYellow TagColor = "yellow"
	ColorGreen  TagColor = "green"
	ColorBlue   TagColor = "blue"
	ColorPurple TagColor = "purple"
	ColorPink   TagColor = "pink"
	ColorGray   TagColor = "gray"
)

// TagPalette lists the colors a tag may use, in display order.
var TagPalette = []TagColor{
	ColorRed, ColorOrange, ColorYellow, ColorGreen,
	ColorBlue, ColorPurple, ColorPink, ColorGray,
}

func (c TagColor) Valid() bool {
	for _, p := range TagPalette {
		if p == c {
			return true
		}
	}
	return false
}

type Tag struct {
	ID    TagID    `json:"id"`
	Name  string   `json:"name"`
	Color TagColor `json:"color"`
}

type EventType string

const (
	EventGenerationCompleted    EventType = "generation-completed"
	EventGenerationFailed       EventType = "generation-failed"
	EventGenerationProgress     EventType = "generation-progress"
	EventTranscriptionCompleted EventType = "transcription-completed"
	EventTranscriptionFailed    EventType = "transcription-failed"
	EventUploadCompleted        EventType = "upload-completed"
	EventUploadFailed           EventType = "upload-failed"
	EventSyncCompleted          EventType = "sync-completed"
	EventInstallCompleted       EventType = "install-completed"
	EventInstallFailed          EventType = "install-failed"
	EventInfo                   EventType = "info"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventGenerationCompleted,
	EventGenerationFailed,
	EventGenerationProgress,
	EventTranscriptionCompleted,
	EventTranscriptionFailed,
	EventUploadCompleted,
	EventUploadFailed,
	EventSyncCompleted,
	EventInstallCompleted,
	EventInstallFailed,
	EventInfo,
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Category is the coarse outcome class of an event, used to pick the
// audible cue and the toast styling.
type Category int

const (
	CategoryNeutral Category = iota
	CategorySuccess
	CategoryFailure
)

func (t EventType) Category() Category {
	switch {
	case strings.HasSuffix(string(t), "-completed"):
		return CategorySuccess
	case strings.HasSuffix(string(t), "-failed"):
		return CategoryFailure
	default:
		return CategoryNeutral
	}
}

type EventMetadata struct {
	TaskID        string `json:"task_id,omitempty"`
	Model         string `json:"model,omitempty"`
	OutputURL     string `json:"output_url,omitempty"`
	Error         string `json:"error,omitempty"`
	QueuePosition *int   `json:"queue_position,omitempty"`
}

type Event struct {
	ID        EventID       `json:"id"`
	Type      EventType     `json:"type"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Progress  *int          `json:"progress,omitempty"`
	Metadata  EventMetadata `json:"metadata"`
	Timestamp time.Time     `json:"timestamp"`
	Read      bool          `json:"read"`
}

func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Progress != nil {
		p := *e.Progress
		c.Progress = &p
	}
	if e.Metadata.QueuePosition != nil {
		q := *e.Metadata.QueuePosition
		c.Metadata.QueuePosition = &q
	}
	return &c
}

// EventDraft is what producers hand to the bus; id, timestamp and read
// state are assigned on emit.
type EventDraft struct {
	Type     EventType     `json:"type"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Progress *int          `json:"progress,omitempty"`
	Metadata EventMetadata `json:"metadata"`
}

type HistoryKind string

const (
	HistoryUpload HistoryKind = "upload"
	HistoryDelete HistoryKind = "delete"
	HistoryEdit   HistoryKind = "edit"
	HistoryTag    HistoryKind = "tag"
)

type HistoryItem struct {
	ID          HistoryID   `json:"id"`
	Kind        HistoryKind `json:"kind"`
	Description string      `json:"description"`
	MediaName   string      `json:"media_name,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// RemoteFile is one entry of the file server's listing.
type RemoteFile struct {
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	Size         int64      `json:"size"`
	Type         string     `json:"type"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}
