package handler

import (
	"context"
	"encoding/xml"
	"log/slog"
	"mime"
	"net/http"
	"strings"
)

// CommandHandler interprets an inbound SMS and returns the reply text.
type CommandHandler interface {
	Handle(ctx context.Context, phone, body string) (string, error)
}

// SMSHandler receives inbound SMS webhooks.
type SMSHandler struct {
	commands CommandHandler
	logger   *slog.Logger
}

func NewSMSHandler(commands CommandHandler, logger *slog.Logger) *SMSHandler {
	return &SMSHandler{commands: commands, logger: componentLogger(logger, "sms")}
}

type inboundSMS struct {
	From string `json:"from"`
	Body string `json:"body"`
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// Inbound accepts Twilio's form-encoded webhook (From, Body) and answers
// with TwiML, or a JSON {"from","body"} payload answered with JSON.
// POST /api/sms/inbound
func (h *SMSHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	form := mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"

	var in inboundSMS
	if form {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		in.From, in.Body = r.PostForm.Get("From"), r.PostForm.Get("Body")
	} else if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, h.logger, "invalid body", err)
		return
	}
	in.From = strings.TrimSpace(in.From)
	if in.From == "" {
		writeError(w, http.StatusBadRequest, "missing sender")
		return
	}

	reply, err := h.commands.Handle(r.Context(), in.From, in.Body)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to handle sms", err)
		return
	}

	if !form {
		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
		return
	}
	out, err := xml.Marshal(twimlResponse{Message: reply})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode reply")
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(out)
}
