package catalog

import (
	"fmt"
	"strings"

	"github.com/user/mediasync/internal/state"
	"github.com/user/mediasync/internal/types"
)

// AddTag creates a tag. An empty color picks the next palette entry.
func (c *Catalog) AddTag(name string, color types.TagColor) (*types.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is required")
	}
	if color != "" && !color.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidColor, color)
	}

	tag := &types.Tag{ID: types.NewTagID(), Name: name, Color: color}
	err := c.mutate(func(s *snapshot) error {
		if color == "" {
			tag.Color = types.TagPalette[len(s.Tags)%len(types.TagPalette)]
		}
		cp := *tag
		s.Tags = append(s.Tags, &cp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// UpdateTag renames or recolors a tag. Empty arguments leave the field as is.
func (c *Catalog) UpdateTag(id types.TagID, name string, color types.TagColor) error {
	if color != "" && !color.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidColor, color)
	}
	name = strings.TrimSpace(name)

	return c.mutate(func(s *snapshot) error {
		for _, t := range s.Tags {
			if t.ID != id {
				continue
			}
			if name != "" {
				t.Name = name
			}
			if color != "" {
				t.Color = color
			}
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTagNotFound, id)
	})
}

// RemoveTag deletes a tag and clears every media reference to it, so the
// catalog never holds dangling tag ids.
func (c *Catalog) RemoveTag(id types.TagID) error {
	return c.mutate(func(s *snapshot) error {
		idx := -1
		for i, t := range s.Tags {
			if t.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrTagNotFound, id)
		}
		s.Tags = append(s.Tags[:idx:idx], s.Tags[idx+1:]...)

		for _, m := range s.Media {
			m.Tags = without(m.Tags, id)
		}
		s.View.SelectedTags = without(s.View.SelectedTags, id)
		return nil
	})
}

func without(ids []types.TagID, drop ...types.TagID) []types.TagID {
	if ids == nil {
		return nil
	}
	kept := make([]types.TagID, 0, len(ids))
	for _, t := range ids {
		keep := true
		for _, d := range drop {
			if t == d {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, t)
		}
	}
	return kept
}

// Tags returns copies of all tags in creation order.
func (c *Catalog) Tags() []*types.Tag {
	c.mu.Lock()
	defer c.mu.Unlock()

	tags := c.current().Tags
	out := make([]*types.Tag, len(tags))
	for i, t := range tags {
		cp := *t
		out[i] = &cp
	}
	return out
}

// TagByName finds a tag by case-insensitive name.
func (c *Catalog) TagByName(name string) (*types.Tag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.current().Tags {
		if strings.EqualFold(t.Name, name) {
			cp := *t
			return &cp, true
		}
	}
	return nil, false
}

// TagMedia adds tag ids to an item, keeping the existing order.
func (c *Catalog) TagMedia(id types.MediaID, tagIDs ...types.TagID) error {
	return c.mutate(func(s *snapshot) error {
		m := findMedia(s, id)
		if m == nil {
			return fmt.Errorf("%w: %s", ErrMediaNotFound, id)
		}
		for _, t := range tagIDs {
			if !hasTag(s, t) {
				return fmt.Errorf("%w: %s", ErrTagNotFound, t)
			}
		}
		m.Tags = dedupTags(append(m.Tags, tagIDs...))
		return nil
	})
}

// UntagMedia removes tag ids from an item.
func (c *Catalog) UntagMedia(id types.MediaID, tagIDs ...types.TagID) error {
	return c.mutate(func(s *snapshot) error {
		m := findMedia(s, id)
		if m == nil {
			return fmt.Errorf("%w: %s", ErrMediaNotFound, id)
		}
		kept := without(m.Tags, tagIDs...)
		if len(kept) == len(m.Tags) {
			return state.ErrUnchanged
		}
		m.Tags = kept
		return nil
	})
}

func hasTag(s *snapshot, id types.TagID) bool {
	for _, t := range s.Tags {
		if t.ID == id {
			return true
		}
	}
	return false
}
