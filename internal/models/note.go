// Package models defines the note record and the rules for creating and
// updating it.
package models

import (
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/jotter/internal/apperr"
	"github.com/starford/jotter/internal/checksum"
	"github.com/starford/jotter/internal/summary"
)

const (
	MaxTitleChars   = 200
	MaxContentBytes = 1 << 20
)

// Note is a single stored note. Summary is derived from Content and is never
// set directly by clients.
type Note struct {
	ID        int64     `json:"id"`
	Title     *string   `json:"title"`
	Content   string    `json:"content"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revision identifies the current state of the note. It changes on every
// successful update.
func (n Note) Revision() string {
	title := ""
	if n.Title != nil {
		title = "t:" + *n.Title
	}
	return checksum.Fields(
		strconv.FormatInt(n.ID, 10),
		title,
		n.Content,
		strconv.FormatInt(n.UpdatedAt.UnixNano(), 10),
	)
}

// Clone returns a copy that shares no memory with n.
func (n Note) Clone() Note {
	if n.Title != nil {
		t := *n.Title
		n.Title = &t
	}
	return n
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current time in UTC without a monotonic reading.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Validate normalises title and content. A nil or blank title becomes nil,
// content is trimmed and must not be empty.
func Validate(title *string, content string) (*string, string, error) {
	content = strings.TrimSpace(content)
	var normTitle *string
	if title != nil {
		if t := strings.TrimSpace(*title); t != "" {
			normTitle = &t
		}
	}

	if err := validation.Validate(content,
		validation.Required.Error("content must not be empty"),
		validation.Length(0, MaxContentBytes).Error("content is too long"),
	); err != nil {
		return nil, "", apperr.Validation("%s", err.Error())
	}
	if normTitle != nil {
		if err := validation.Validate(*normTitle,
			validation.RuneLength(0, MaxTitleChars).Error("title must be at most 200 characters"),
		); err != nil {
			return nil, "", apperr.Validation("%s", err.Error())
		}
	}
	return normTitle, content, nil
}

// New builds a note with the given id. Timestamps come from clock and the
// summary is derived from the normalised content.
func New(id int64, title *string, content string, clock Clock) (Note, error) {
	title, content, err := Validate(title, content)
	if err != nil {
		return Note{}, err
	}
	now := clock.Now()
	return Note{
		ID:        id,
		Title:     title,
		Content:   content,
		Summary:   summary.Derive(content),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ApplyUpdate returns a copy of n with title and content replaced and the
// summary recomputed. ID and CreatedAt are preserved; UpdatedAt never moves
// backwards even if the clock does.
func ApplyUpdate(n Note, title *string, content string, clock Clock) (Note, error) {
	title, content, err := Validate(title, content)
	if err != nil {
		return Note{}, err
	}
	now := clock.Now()
	if now.Before(n.UpdatedAt) {
		now = n.UpdatedAt
	}
	return Note{
		ID:        n.ID,
		Title:     title,
		Content:   content,
		Summary:   summary.Derive(content),
		CreatedAt: n.CreatedAt,
		UpdatedAt: now,
	}, nil
}
