package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	chat "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/domain"
)

// ErrInvalidPayload marks a structurally invalid webhook body. Nothing has
// been processed when it is returned.
var ErrInvalidPayload = errors.New("webhook: invalid payload")

// NormalizeOptions tunes structural validation.
type NormalizeOptions struct {
	// RequireMessages rejects deliveries where no change carries a non-empty
	// messages list. When false a change with only statuses is accepted.
	RequireMessages bool

	// FirstChangeOnly inspects only the first change of the first entry.
	FirstChangeOnly bool
}

func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{RequireMessages: true}
}

// Normalize decodes body and converts it to the canonical Update. It has no
// side effects.
func Normalize(body []byte, opts NormalizeOptions) (Update, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Update{}, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return NormalizePayload(p, opts)
}

// NormalizePayload is Normalize for an already decoded payload.
func NormalizePayload(p Payload, opts NormalizeOptions) (Update, error) {
	if len(p.Entry) == 0 {
		return Update{}, fmt.Errorf("%w: no entry", ErrInvalidPayload)
	}

	type located struct {
		entryID string
		change  Change
	}
	var changes []located
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			changes = append(changes, located{entryID: e.ID, change: c})
			if opts.FirstChangeOnly {
				break
			}
		}
		if opts.FirstChangeOnly {
			break
		}
	}
	if len(changes) == 0 {
		return Update{}, fmt.Errorf("%w: no changes", ErrInvalidPayload)
	}

	if opts.RequireMessages {
		found := false
		for _, c := range changes {
			if len(c.change.Value.Messages) > 0 {
				found = true
				break
			}
		}
		if !found {
			return Update{}, fmt.Errorf("%w: no messages", ErrInvalidPayload)
		}
	}

	var u Update
	for _, c := range changes {
		u.ChangeSets = append(u.ChangeSets, normalizeChange(c.entryID, c.change.Value))
	}
	return u, nil
}

func normalizeChange(entryID string, v Value) ChangeSet {
	cs := ChangeSet{EntryID: entryID, Metadata: v.Metadata}

	for _, s := range v.Statuses {
		if ev, ok := toStatusEvent(s); ok {
			cs.Statuses = append(cs.Statuses, ev)
		}
	}
	for _, m := range v.Messages {
		for _, s := range m.Statuses {
			if ev, ok := toStatusEvent(s); ok {
				cs.Statuses = append(cs.Statuses, ev)
			}
		}
	}

	for _, m := range v.Messages {
		if m.ID == "" || m.From == "" {
			continue
		}
		if cs.Message == nil {
			ev := toMessageEvent(m, v)
			cs.Message = &ev
			continue
		}
		cs.SkippedMessages++
	}
	return cs
}

func toStatusEvent(s ProviderStatus) (StatusEvent, bool) {
	id := strings.TrimSpace(s.ID)
	status := chat.ParseStatus(s.Status)
	if id == "" || status == "" {
		return StatusEvent{}, false
	}
	return StatusEvent{
		ExternalID:  id,
		Status:      status,
		Timestamp:   parseUnix(s.Timestamp),
		RecipientID: s.RecipientID,
	}, true
}

func toMessageEvent(m ProviderMessage, v Value) MessageEvent {
	ev := MessageEvent{
		ExternalID:            strings.TrimSpace(m.ID),
		From:                  strings.TrimSpace(m.From),
		Timestamp:             parseUnix(m.Timestamp),
		BusinessPhoneNumberID: v.Metadata.PhoneNumberID,
	}
	for _, c := range v.Contacts {
		if c.WaID == ev.From && c.Profile.Name != "" {
			name := c.Profile.Name
			ev.SenderName = &name
			break
		}
	}

	media := []struct {
		kind    chat.MessageType
		content *MediaContent
	}{
		{chat.MessageTypeImage, m.Image},
		{chat.MessageTypeVideo, m.Video},
		{chat.MessageTypeAudio, m.Audio},
		{chat.MessageTypeDocument, m.Document},
		{chat.MessageTypeSticker, m.Sticker},
	}
	for _, md := range media {
		if md.content == nil || strings.TrimSpace(md.content.ID) == "" {
			continue
		}
		ev.Media = append(ev.Media, MediaDescriptor{
			Kind:     md.kind,
			MediaID:  strings.TrimSpace(md.content.ID),
			MimeType: md.content.MimeType,
			FileName: nonEmpty(md.content.Filename),
			Caption:  nonEmpty(md.content.Caption),
		})
	}

	if m.Text != nil {
		ev.Body = nonEmpty(m.Text.Body)
	}
	if ev.Body == nil {
		for _, md := range ev.Media {
			if md.Caption != nil {
				ev.Body = md.Caption
				break
			}
		}
	}

	switch len(ev.Media) {
	case 0:
		ev.Type = chat.MessageTypeText
	case 1:
		ev.Type = ev.Media[0].Kind
	default:
		ev.Type = chat.MessageTypeMedia
	}
	return ev
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
