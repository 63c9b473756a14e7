package board

import (
	"net/http"

	"clinic/queue-service/internal/models"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const sendBuffer = 16

// Handler serves the SockJS endpoint under prefix, e.g. "/board". Boards are
// read-only: the only accepted inbound messages are subscribe/unsubscribe.
func (h *Hub) Handler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, h.serveSession)
}

func (h *Hub) serveSession(session sockjs.Session) {
	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer)}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" || parsed.Day == "" {
			h.UpdateSubscription(client, "")
			continue
		}
		if _, err := models.ParseDay(parsed.Day, nil); err != nil {
			_ = session.Close(4000, "day must be YYYY-MM-DD")
			return
		}
		h.UpdateSubscription(client, parsed.Day)
	}
}
