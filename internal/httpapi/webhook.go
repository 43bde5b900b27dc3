package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"expirybot/internal/dispatch"
	"expirybot/internal/phone"
	logx "expirybot/pkg/logx"
)

const eventMessagesUpsert = "messages.upsert"

// EvolutionWebhook is the payload the gateway posts for chat events. Only
// the fields used for inbound text are decoded.
type EvolutionWebhook struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName    string `json:"pushName"`
		MessageType string `json:"messageType"`
		Message     struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage *struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// Text returns the message body of a text message.
func (w *EvolutionWebhook) Text() string {
	m := w.Data.Message
	if t := strings.TrimSpace(m.Conversation); t != "" {
		return t
	}
	if m.ExtendedTextMessage != nil {
		return strings.TrimSpace(m.ExtendedTextMessage.Text)
	}
	return ""
}

// ignoreReason reports why a webhook is not an inbound text, or "".
func (w *EvolutionWebhook) ignoreReason() string {
	switch {
	case w.Data.Key.FromMe:
		return "outgoing"
	case strings.Contains(w.Data.Key.RemoteJID, "status@broadcast"):
		return "status_broadcast"
	case w.Data.MessageType != "conversation" && w.Data.MessageType != "extendedTextMessage":
		return "not_text_message"
	case w.Text() == "":
		return "empty_text"
	}
	return ""
}

func (s *Server) EvolutionWebhook(c *gin.Context) {
	var body EvolutionWebhook
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWith(c, NewAPIError(ErrBadRequest, "invalid JSON body", err.Error()))
		return
	}
	if body.Event != eventMessagesUpsert {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event": body.Event})
		return
	}
	if reason := body.ignoreReason(); reason != "" {
		c.JSON(http.StatusOK, dispatch.InboundResult{Status: "ignored", Reason: reason})
		return
	}

	msg := dispatch.InboundMessage{
		Phone:     phone.JID(body.Data.Key.RemoteJID),
		Text:      body.Text(),
		PushName:  body.Data.PushName,
		MessageID: body.Data.Key.ID,
	}
	res, err := s.deps.Dispatch.HandleInbound(c.Request.Context(), msg)
	if err != nil {
		s.log.Error("inbound handling failed", logx.String("phone", msg.Phone), logx.Err(err))
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
