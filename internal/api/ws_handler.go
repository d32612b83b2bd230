package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aquaflow/sensorhub/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

// ServeWS handles GET /api/v1/sensors/live. The upgraded connection is
// registered with the hub, which immediately pushes the latest reading
// if the history is non-empty.
func (h *SensorHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade failed: %v", err)
		return
	}

	client := ws.NewClient(h.Hub, conn)
	h.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
