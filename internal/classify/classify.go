// Package classify assigns a coarse content-type tag to inbound WhatsApp
// webhook payloads and extracts a normalized media descriptor.
//
// Payloads are decoded into a typed intermediate form and matched in a fixed
// precedence order:
//
//  1. an explicit "type" string on the message (or the payload root)
//  2. the first structural sub-message present, in the order image, video,
//     audio, document, sticker, contact, location, text, receipt
//  3. the event name ("message.ack", "group.*")
//  4. text
//
// A field whose JSON type does not fit, such as a numeric type or a string
// message, is treated as absent instead of spoiling the whole payload.
package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// MessageType is the coarse tag recorded on log entries.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeImage      MessageType = "image"
	TypeVideo      MessageType = "video"
	TypeAudio      MessageType = "audio"
	TypeDocument   MessageType = "document"
	TypeSticker    MessageType = "sticker"
	TypeContact    MessageType = "contact"
	TypeLocation   MessageType = "location"
	TypeReceipt    MessageType = "receipt"
	TypeGroupEvent MessageType = "group-event"
	TypeUnknown    MessageType = "unknown"
)

// IsMedia reports whether messages of this type can carry a media descriptor.
func (t MessageType) IsMedia() bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeSticker:
		return true
	}
	return false
}

// MediaDescriptor is the normalized view of a message's attached media.
type MediaDescriptor struct {
	Path      string  `json:"path"`
	MimeType  string  `json:"mimeType"`
	Caption   *string `json:"caption"`
	SizeBytes *int64  `json:"sizeBytes"`
}

// explicitTypes maps backend type strings to tags.
var explicitTypes = map[string]MessageType{
	"chat":               TypeText,
	"text":               TypeText,
	"image":              TypeImage,
	"video":              TypeVideo,
	"audio":              TypeAudio,
	"ptt":                TypeAudio,
	"document":           TypeDocument,
	"sticker":            TypeSticker,
	"vcard":              TypeContact,
	"multi_vcard":        TypeContact,
	"contact":            TypeContact,
	"location":           TypeLocation,
	"receipt":            TypeReceipt,
	"ack":                TypeReceipt,
	"gp2":                TypeGroupEvent,
	"group":              TypeGroupEvent,
	"group_notification": TypeGroupEvent,
	"group-event":        TypeGroupEvent,
}

type envelope struct {
	Event   string   `json:"event"`
	Type    string   `json:"type"`
	Message *message `json:"message"`
}

// mediaFields appear both inside typed sub-messages and flattened on the
// message itself when the backend sends an explicit type.
type mediaFields struct {
	URL        string    `json:"url"`
	DirectPath string    `json:"directPath"`
	Mimetype   string    `json:"mimetype"`
	Caption    *string   `json:"caption"`
	FileLength flexInt64 `json:"fileLength"`
}

type message struct {
	mediaFields

	Type                string          `json:"type"`
	ImageMessage        *mediaFields    `json:"imageMessage"`
	VideoMessage        *mediaFields    `json:"videoMessage"`
	AudioMessage        *mediaFields    `json:"audioMessage"`
	DocumentMessage     *mediaFields    `json:"documentMessage"`
	StickerMessage      *mediaFields    `json:"stickerMessage"`
	ContactMessage      json.RawMessage `json:"contactMessage"`
	LocationMessage     json.RawMessage `json:"locationMessage"`
	ExtendedTextMessage json.RawMessage `json:"extendedTextMessage"`
	Conversation        *string         `json:"conversation"`
	ReceiptMessage      json.RawMessage `json:"receiptMessage"`
}

// Classify returns the payload's tag and, for media-bearing messages with a
// path, its media descriptor. It is pure: the same input always yields the
// same result.
func Classify(payload []byte) (MessageType, *MediaDescriptor) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return TypeUnknown, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil && !mistyped(err) {
		return TypeUnknown, nil
	}

	msgType, media := classifyEnvelope(&env)
	if !msgType.IsMedia() || media == nil {
		return msgType, nil
	}
	return msgType, media.descriptor(msgType)
}

func classifyEnvelope(env *envelope) (MessageType, *mediaFields) {
	msg := env.Message

	explicit := env.Type
	if msg != nil && msg.Type != "" {
		explicit = msg.Type
	}
	if explicit != "" {
		t, ok := explicitTypes[strings.ToLower(strings.TrimSpace(explicit))]
		if !ok {
			return TypeUnknown, nil
		}
		if msg == nil || !t.IsMedia() {
			return t, nil
		}
		if sub := msg.subMessage(t); sub != nil {
			return t, sub
		}
		return t, &msg.mediaFields
	}

	if msg != nil {
		if t, media, ok := msg.structural(); ok {
			return t, media
		}
	}

	switch {
	case env.Event == "message.ack":
		return TypeReceipt, nil
	case strings.HasPrefix(env.Event, "group."):
		return TypeGroupEvent, nil
	}
	return TypeText, nil
}

// structural matches sub-messages in fixed precedence order.
func (m *message) structural() (MessageType, *mediaFields, bool) {
	switch {
	case m.ImageMessage != nil:
		return TypeImage, m.ImageMessage, true
	case m.VideoMessage != nil:
		return TypeVideo, m.VideoMessage, true
	case m.AudioMessage != nil:
		return TypeAudio, m.AudioMessage, true
	case m.DocumentMessage != nil:
		return TypeDocument, m.DocumentMessage, true
	case m.StickerMessage != nil:
		return TypeSticker, m.StickerMessage, true
	case present(m.ContactMessage):
		return TypeContact, nil, true
	case present(m.LocationMessage):
		return TypeLocation, nil, true
	case present(m.ExtendedTextMessage), m.Conversation != nil:
		return TypeText, nil, true
	case present(m.ReceiptMessage):
		return TypeReceipt, nil, true
	}
	return "", nil, false
}

func (m *message) subMessage(t MessageType) *mediaFields {
	switch t {
	case TypeImage:
		return m.ImageMessage
	case TypeVideo:
		return m.VideoMessage
	case TypeAudio:
		return m.AudioMessage
	case TypeDocument:
		return m.DocumentMessage
	case TypeSticker:
		return m.StickerMessage
	}
	return nil
}

func (f *mediaFields) descriptor(t MessageType) *MediaDescriptor {
	path := f.URL
	if path == "" {
		path = f.DirectPath
	}
	if path == "" {
		return nil
	}

	d := &MediaDescriptor{
		Path:     path,
		MimeType: f.Mimetype,
	}
	// Audio and stickers have no caption field upstream.
	if f.Caption != nil && t != TypeAudio && t != TypeSticker {
		caption := *f.Caption
		d.Caption = &caption
	}
	if f.FileLength.set {
		size := f.FileLength.v
		d.SizeBytes = &size
	}
	return d
}

// mistyped reports a decode error that only concerns field types. The decoder
// skips such fields and still fills in the rest of the envelope.
func mistyped(err error) bool {
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// flexInt64 accepts a JSON number or a numeric string; the backend encodes
// protobuf int64 fields such as fileLength as strings.
type flexInt64 struct {
	v   int64
	set bool
}

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			// Unparseable sizes are dropped rather than failing classification.
			return nil
		}
		v = int64(fv)
	}
	f.v = v
	f.set = true
	return nil
}
