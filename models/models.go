package models

import (
	"encoding/json"
	"sort"
	"time"

	se "wuyrush.io/wave/errors"
)

/*
 Application layer data models.
*/

// TTL is the fixed lifetime of a wave, stamped at creation.
const TTL = 24 * time.Hour

const (
	TextContentMaxBytes = 2048
	CaptionMaxBytes     = 512
	DefaultBackground   = "#000000"
)

type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
	KindText  Kind = "text"
)

var KindVals = map[Kind]struct{}{
	KindPhoto: {},
	KindVideo: {},
	KindText:  {},
}

// IDSet is an unordered set of user ids. It is marshalled as a sorted JSON array.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members of s in ascending order
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s IDSet) Clone() IDSet {
	if s == nil {
		return nil
	}
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IDSet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// Wave is an ephemeral media or text post.
type Wave struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	Kind     Kind   `json:"kind"`
	// MediaURL is set for photo and video waves
	MediaURL string `json:"mediaUrl,omitempty"`
	// TextContent and BackgroundColor are set for text waves
	TextContent     string    `json:"textContent,omitempty"`
	BackgroundColor string    `json:"backgroundColor,omitempty"`
	Caption         *string   `json:"caption,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	ViewCount       uint64    `json:"viewCount"`
	Viewers         IDSet     `json:"viewers"`
	Reactors        IDSet     `json:"reactors"`
}

// NewWave assembles a wave authored by authorID out of a validated draft. The
// expiry is fixed here and never moves afterwards.
func NewWave(id, authorID string, d *Draft, now time.Time) *Wave {
	return &Wave{
		ID:              id,
		AuthorID:        authorID,
		Kind:            d.Kind,
		MediaURL:        d.MediaURL,
		TextContent:     d.TextContent,
		BackgroundColor: d.BackgroundColor,
		Caption:         d.Caption,
		CreatedAt:       now,
		ExpiresAt:       now.Add(TTL),
		Viewers:         IDSet{},
		Reactors:        IDSet{},
	}
}

// Active checks whether the wave is still in circulation at the given time. A wave is active
// if and only if now is strictly before its expiry.
func (w *Wave) Active(now time.Time) bool {
	return now.Before(w.ExpiresAt)
}

func (w *Wave) Video() bool {
	return w.Kind == KindVideo
}

func (w *Wave) ViewedBy(userID string) bool {
	return w.Viewers.Has(userID)
}

func (w *Wave) ReactedBy(userID string) bool {
	return w.Reactors.Has(userID)
}

// Clone returns a copy of w which shares no mutable state with it
func (w Wave) Clone() Wave {
	if w.Caption != nil {
		c := *w.Caption
		w.Caption = &c
	}
	w.Viewers = w.Viewers.Clone()
	w.Reactors = w.Reactors.Clone()
	return w
}

// Draft is the payload of a wave creation request. Media size and duration limits are
// enforced upstream at upload time and are not re-checked here.
type Draft struct {
	Kind            Kind    `json:"kind"`
	MediaURL        string  `json:"mediaUrl,omitempty"`
	TextContent     string  `json:"textContent,omitempty"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
	Caption         *string `json:"caption,omitempty"`
}

// Validate checks the shape of the draft and fills in defaults.
func (d *Draft) Validate() *se.Err {
	if _, ok := KindVals[d.Kind]; !ok {
		return se.NewBadInput("unknown wave kind " + string(d.Kind))
	}
	switch d.Kind {
	case KindPhoto, KindVideo:
		if d.MediaURL == "" {
			return se.NewBadInput("media url is required for " + string(d.Kind) + " waves")
		}
		d.TextContent, d.BackgroundColor = "", ""
	case KindText:
		if d.TextContent == "" {
			return se.NewBadInput("text content is required for text waves")
		}
		if len(d.TextContent) > TextContentMaxBytes {
			return se.NewBadInput("text content oversized")
		}
		if d.BackgroundColor == "" {
			d.BackgroundColor = DefaultBackground
		}
		d.MediaURL = ""
	}
	if d.Caption != nil && len(*d.Caption) > CaptionMaxBytes {
		return se.NewBadInput("caption oversized")
	}
	return nil
}

// Viewer is one entry of the list of users who viewed a wave
type Viewer struct {
	UserID   string    `json:"userId"`
	ViewedAt time.Time `json:"viewedAt"`
}
