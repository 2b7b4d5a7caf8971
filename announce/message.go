// Package announce formats newly detected live sessions and delivers them to
// the configured sinks (Discord webhook, Twitch chat, dashboard feed).
package announce

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/live-herald/live"
	"github.com/onnwee/live-herald/tracked"
)

const (
	// LiveColor is Twitch purple.
	LiveColor = 0x9146FF

	DefaultThumbnailWidth  = 1920
	DefaultThumbnailHeight = 1080
)

// Field is a labelled value shown under the announcement.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Message is a rendered announcement, independent of any sink.
type Message struct {
	Identity  string    `json:"identity"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	ImageURL  string    `json:"image_url,omitempty"`
	Color     int       `json:"color"`
	Fields    []Field   `json:"fields,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Text renders the message as a single chat line: the body, followed by the
// channel URL unless the body already contains it.
func (m Message) Text() string {
	text := strings.Join(strings.Fields(m.Body), " ")
	if !strings.Contains(text, m.URL) {
		text = strings.TrimSpace(text + " " + m.URL)
	}
	return text
}

// Formatter builds messages. Zero thumbnail sizes select the defaults.
type Formatter struct {
	ThumbnailWidth  int
	ThumbnailHeight int
	now             func() time.Time
}

// Format renders entry and snapshot with the default thumbnail size.
func Format(entry tracked.Entry, snap live.Snapshot) Message {
	return Formatter{}.Format(entry, snap)
}

func (f Formatter) Format(entry tracked.Entry, snap live.Snapshot) Message {
	display := snap.DisplayName
	if display == "" {
		display = entry.Identity
	}
	ts := snap.StartedAt
	if ts.IsZero() {
		if f.now != nil {
			ts = f.now()
		} else {
			ts = time.Now()
		}
	}
	return Message{
		Identity:  entry.Identity,
		Title:     fmt.Sprintf("%s is LIVE!", display),
		Body:      entry.Template,
		URL:       "https://twitch.tv/" + entry.Identity,
		ImageURL:  f.thumbnail(snap.ThumbnailTemplate),
		Color:     LiveColor,
		Timestamp: ts.UTC(),
		Fields: []Field{
			{Name: "Stream title", Value: orDefault(snap.Title, live.NoTitlePlaceholder)},
			{Name: "Category", Value: orDefault(snap.Category, live.NoCategoryPlaceholder), Inline: true},
			{Name: "Viewers", Value: strconv.Itoa(snap.ViewerCount), Inline: true},
		},
	}
}

func (f Formatter) thumbnail(tmpl string) string {
	if tmpl == "" {
		return ""
	}
	w, h := f.ThumbnailWidth, f.ThumbnailHeight
	if w <= 0 {
		w = DefaultThumbnailWidth
	}
	if h <= 0 {
		h = DefaultThumbnailHeight
	}
	r := strings.NewReplacer("{width}", strconv.Itoa(w), "{height}", strconv.Itoa(h))
	return r.Replace(tmpl)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
