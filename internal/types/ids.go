package types

import (
	"github.com/google/uuid"
)

type MediaID string
type TagID string
type EventID string
type HistoryID string

func NewMediaID() MediaID {
	return MediaID(uuid.New().String())
}

func NewTagID() TagID {
	return TagID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewHistoryID() HistoryID {
	return HistoryID(uuid.New().String())
}
