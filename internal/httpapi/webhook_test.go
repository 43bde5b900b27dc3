package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsert(jid string, fromMe bool, msgType, message string) string {
	fm := "false"
	if fromMe {
		fm = "true"
	}
	return `{"event":"messages.upsert","instance":"akram","data":{` +
		`"key":{"remoteJid":"` + jid + `","fromMe":` + fm + `,"id":"MSG1"},` +
		`"pushName":"Ana","messageType":"` + msgType + `","message":` + message + `}}`
}

func TestWebhookIgnores(t *testing.T) {
	s, fd, _ := newTestServer(t, Config{APIKey: "s3cret"})

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"outgoing", upsert("5566999990001@s.whatsapp.net", true, "conversation", `{"conversation":"oi"}`), "outgoing"},
		{"broadcast", upsert("status@broadcast", false, "conversation", `{"conversation":"oi"}`), "status_broadcast"},
		{"image", upsert("5566999990001@s.whatsapp.net", false, "imageMessage", `{}`), "not_text_message"},
		{"blank", upsert("5566999990001@s.whatsapp.net", false, "conversation", `{"conversation":"   "}`), "empty_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/webhooks/evolution", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"status":"ignored","reason":"`+tt.reason+`"}`, rec.Body.String())
		})
	}

	rec := do(t, s, http.MethodPost, "/webhooks/evolution", `{"event":"connection.update","data":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored","event":"connection.update"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/webhooks/evolution", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, fd.inbound)
}

func TestWebhookAcceptsText(t *testing.T) {
	s, fd, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPost, "/webhooks/evolution",
		upsert("5566999990001@s.whatsapp.net", false, "extendedTextMessage", `{"extendedTextMessage":{"text":" quais produtos vencem hoje? "}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"accepted","reason":"no_answerer","record_id":"r1"}`, rec.Body.String())

	require.Len(t, fd.inbound, 1)
	got := fd.inbound[0]
	assert.Equal(t, "5566999990001", got.Phone)
	assert.Equal(t, "quais produtos vencem hoje?", got.Text)
	assert.Equal(t, "Ana", got.PushName)
	assert.Equal(t, "MSG1", got.MessageID)
}
