package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTypes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    MessageType
	}{
		{"empty object defaults to text", `{}`, TypeText},
		{"conversation", `{"event":"message","message":{"conversation":"hola"}}`, TypeText},
		{"extended text", `{"message":{"extendedTextMessage":{"text":"hi"}}}`, TypeText},
		{"image", `{"message":{"imageMessage":{"url":"https://mmg.test/a"}}}`, TypeImage},
		{"video", `{"message":{"videoMessage":{}}}`, TypeVideo},
		{"audio", `{"message":{"audioMessage":{}}}`, TypeAudio},
		{"document", `{"message":{"documentMessage":{}}}`, TypeDocument},
		{"sticker", `{"message":{"stickerMessage":{}}}`, TypeSticker},
		{"contact", `{"message":{"contactMessage":{"vcard":"BEGIN:VCARD"}}}`, TypeContact},
		{"location", `{"message":{"locationMessage":{"degreesLatitude":40.4}}}`, TypeLocation},
		{"receipt", `{"message":{"receiptMessage":{"ids":["x"]}}}`, TypeReceipt},
		{"explicit type on message", `{"message":{"type":"ptt"}}`, TypeAudio},
		{"explicit type on root", `{"type":"vcard","message":{}}`, TypeContact},
		{"explicit chat", `{"message":{"type":"chat","body":"hi"}}`, TypeText},
		{"explicit group notification", `{"message":{"type":"gp2"}}`, TypeGroupEvent},
		{"unrecognized explicit type", `{"message":{"type":"poll_creation"}}`, TypeUnknown},
		{"ack event", `{"event":"message.ack","ack":3}`, TypeReceipt},
		{"group event", `{"event":"group.participants","action":"add"}`, TypeGroupEvent},
		{"non-object payload", `["a","b"]`, TypeUnknown},
		{"invalid json", `{"message":`, TypeUnknown},
		{"null sub-message is ignored", `{"message":{"contactMessage":null,"conversation":"x"}}`, TypeText},
		{"string message", `{"event":"message","message":"hello"}`, TypeText},
		{"numeric type falls through to structure", `{"message":{"type":5,"videoMessage":{}}}`, TypeVideo},
		{"numeric root type", `{"type":7,"event":"message.ack"}`, TypeReceipt},
		{"mistyped event", `{"event":12,"message":{"stickerMessage":{}}}`, TypeSticker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify([]byte(tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	t.Run("explicit type wins over structure", func(t *testing.T) {
		got, _ := Classify([]byte(`{"message":{"type":"location","imageMessage":{"url":"u"}}}`))
		assert.Equal(t, TypeLocation, got)
	})

	t.Run("first structural match wins", func(t *testing.T) {
		got, _ := Classify([]byte(`{"message":{"conversation":"c","documentMessage":{},"videoMessage":{}}}`))
		assert.Equal(t, TypeVideo, got)
	})

	t.Run("structure wins over event name", func(t *testing.T) {
		got, _ := Classify([]byte(`{"event":"group.participants","message":{"stickerMessage":{}}}`))
		assert.Equal(t, TypeSticker, got)
	})
}

func TestClassifyMediaDescriptor(t *testing.T) {
	t.Run("image with url, caption and numeric size", func(t *testing.T) {
		got, media := Classify([]byte(`{"message":{"imageMessage":{
			"url":"https://mmg.test/img.enc","directPath":"/v/t62/img",
			"mimetype":"image/jpeg","caption":"look","fileLength":2048}}}`))
		require.Equal(t, TypeImage, got)
		require.NotNil(t, media)
		assert.Equal(t, "https://mmg.test/img.enc", media.Path)
		assert.Equal(t, "image/jpeg", media.MimeType)
		require.NotNil(t, media.Caption)
		assert.Equal(t, "look", *media.Caption)
		require.NotNil(t, media.SizeBytes)
		assert.Equal(t, int64(2048), *media.SizeBytes)
	})

	t.Run("falls back to directPath and string size", func(t *testing.T) {
		_, media := Classify([]byte(`{"message":{"documentMessage":{
			"directPath":"/v/t62/doc","mimetype":"application/pdf","fileLength":"104857"}}}`))
		require.NotNil(t, media)
		assert.Equal(t, "/v/t62/doc", media.Path)
		assert.Nil(t, media.Caption)
		require.NotNil(t, media.SizeBytes)
		assert.Equal(t, int64(104857), *media.SizeBytes)
	})

	t.Run("audio drops caption", func(t *testing.T) {
		_, media := Classify([]byte(`{"message":{"audioMessage":{"url":"u","mimetype":"audio/ogg","caption":"x"}}}`))
		require.NotNil(t, media)
		assert.Nil(t, media.Caption)
		assert.Nil(t, media.SizeBytes)
	})

	t.Run("no path means no descriptor", func(t *testing.T) {
		got, media := Classify([]byte(`{"message":{"videoMessage":{"mimetype":"video/mp4"}}}`))
		assert.Equal(t, TypeVideo, got)
		assert.Nil(t, media)
	})

	t.Run("explicit media type reads flattened fields", func(t *testing.T) {
		got, media := Classify([]byte(`{"message":{"type":"image","url":"https://mmg.test/flat","mimetype":"image/png"}}`))
		assert.Equal(t, TypeImage, got)
		require.NotNil(t, media)
		assert.Equal(t, "https://mmg.test/flat", media.Path)
		assert.Equal(t, "image/png", media.MimeType)
	})

	t.Run("mistyped caption is dropped", func(t *testing.T) {
		got, media := Classify([]byte(`{"message":{"imageMessage":{"url":"https://mmg.test/a","mimetype":"image/jpeg","caption":5}}}`))
		assert.Equal(t, TypeImage, got)
		require.NotNil(t, media)
		assert.Equal(t, "https://mmg.test/a", media.Path)
		assert.Equal(t, "image/jpeg", media.MimeType)
		assert.Nil(t, media.Caption)
	})

	t.Run("non-media types carry no descriptor", func(t *testing.T) {
		_, media := Classify([]byte(`{"message":{"type":"chat","url":"https://example.test"}}`))
		assert.Nil(t, media)
	})
}

func TestClassifyDeterministic(t *testing.T) {
	payload := []byte(`{"message":{"imageMessage":{"url":"u","mimetype":"image/jpeg","caption":"c","fileLength":"7"}}}`)

	firstType, firstMedia := Classify(payload)
	for range 50 {
		typ, media := Classify(payload)
		assert.Equal(t, firstType, typ)
		assert.Equal(t, firstMedia, media)
	}
}
