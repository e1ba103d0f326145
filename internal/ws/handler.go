// Package ws is the session gateway: it turns websocket frames into engine
// commands for whichever room the connection has joined, and streams that
// member's view snapshots back out.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeremy-deutsch/trial-online/internal/engine"
	"github.com/jeremy-deutsch/trial-online/internal/hub"
	"github.com/jeremy-deutsch/trial-online/internal/room"
	"github.com/jeremy-deutsch/trial-online/internal/types"
)

const writeTimeout = 3 * time.Second

func Handler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()

		// The connection's session: which member of which room we are.
		var current *room.Room
		var name string

		defer func() {
			if current != nil {
				current.Inbox() <- room.Leave{Name: name, ConnID: connID}
			}
		}()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()

		// attach registers this connection with rm under memberName. Every
		// join hands the room a fresh outbox; the room owns it and closes
		// it on drop, leave or replacement, which ends the writer started
		// here. A slow client dropped mid-session can therefore rejoin
		// without ever re-offering a closed channel.
		attach := func(rm *room.Room, memberName string) error {
			out := make(chan engine.View, 8)
			errReply := make(chan error, 1)
			rm.Inbox() <- room.Join{Name: memberName, ConnID: connID, Outbox: out, Reply: errReply}
			if err := <-errReply; err != nil {
				return err
			}
			go writeViews(writeCtx, conn, out)
			if current != nil && current != rm {
				current.Inbox() <- room.Leave{Name: name, ConnID: connID}
			}
			current, name = rm, memberName
			return nil
		}

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				sendError(r.Context(), conn, "bad json")
				continue
			}

			switch cm.Type {
			case "create":
				if cm.Name == "" {
					sendError(r.Context(), conn, "You don't have a name. This is probably a bug.")
					continue
				}
				reply := make(chan hub.Created, 1)
				h.Inbox() <- hub.CreateRoom{HostName: cm.Name, ConnID: connID, Reply: reply}
				created := <-reply

				if err := attach(created.Room, cm.Name); err != nil {
					sendError(r.Context(), conn, err.Error())
					continue
				}

			case "join":
				if cm.Name == "" {
					sendError(r.Context(), conn, "You don't have a name. This is probably a bug.")
					continue
				}
				code := strings.ToUpper(cm.RoomCode)
				reply := make(chan *room.Room, 1)
				h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
				rm := <-reply
				if rm == nil {
					sendError(r.Context(), conn, "No room exists with that code!")
					continue
				}
				// no session change if the join was refused
				if err := attach(rm, cm.Name); err != nil {
					sendError(r.Context(), conn, err.Error())
					continue
				}

			default:
				if current == nil {
					sendError(r.Context(), conn, "You don't have a room. This is probably a bug.")
					continue
				}
				cmd, ok := toCommand(cm, name)
				if !ok {
					sendError(r.Context(), conn, "unknown type")
					continue
				}
				errReply := make(chan error, 1)
				current.Inbox() <- room.FromClient{Cmd: cmd, Reply: errReply}
				if err := <-errReply; err != nil {
					sendError(r.Context(), conn, err.Error())
				}
			}
		}
	}
}

// writeViews drains one outbox onto the socket. It runs until the room
// closes the outbox.
func writeViews(ctx context.Context, conn *websocket.Conn, out <-chan engine.View) {
	for view := range out {
		payload, err := json.Marshal(view)
		if err != nil {
			zap.S().Errorw("marshal view", "err", err)
			continue
		}
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		_ = conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
	}
}

func toCommand(m types.ClientMessage, actor string) (engine.Command, bool) {
	switch m.Type {
	case "siding":
		return engine.Command{Type: engine.CmdStartSiding, Name: actor}, true
	case "role":
		role, ok := parseRole(m.Role)
		if !ok {
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdChooseRole, Name: actor, Role: role}, true
	case "trial":
		return engine.Command{Type: engine.CmdStartTrial, Name: actor}, true
	case "witness":
		return engine.Command{Type: engine.CmdCallWitness, Name: actor}, true
	default:
		return engine.Command{}, false
	}
}

// parseRole accepts only the roles a member may pick for themselves; nobody
// chooses to be a judge.
func parseRole(role string) (engine.Role, bool) {
	switch role {
	case "DEFENSE":
		return engine.RoleDefense, true
	case "PROSECUTION":
		return engine.RoleProsecution, true
	default:
		return "", false
	}
}

func sendError(ctx context.Context, conn *websocket.Conn, message string) {
	payload, err := json.Marshal(types.NewServerError(message))
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, payload)
}
