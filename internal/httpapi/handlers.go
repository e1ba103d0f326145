package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/jeremy-deutsch/trial-online/internal/hub"
)

// CreateRoom registers a room over plain HTTP. The host's connection id
// starts empty and is filled in when they join over the websocket under the
// same name.
func CreateRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}

		reply := make(chan hub.Created, 1)
		h.Inbox() <- hub.CreateRoom{HostName: body.Name, Reply: reply}
		created := <-reply

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Code string `json:"code"`
		}{Code: created.Code})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
