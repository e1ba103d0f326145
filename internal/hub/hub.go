// Package hub is the process-wide room registry: it owns the code->room map,
// generates fresh room codes, and keeps a side table of each room's last
// broadcast time as the hook for an idle-room eviction policy. Nothing in
// here starts such a policy; an outer loop can drive one with IdleRooms and
// RemoveRoom.
package hub

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/jeremy-deutsch/trial-online/internal/content"
	"github.com/jeremy-deutsch/trial-online/internal/engine"
	"github.com/jeremy-deutsch/trial-online/internal/room"
)

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

const codeLength = 3

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	HostName string
	ConnID   string
	Reply    chan Created
}

type Created struct {
	Code string
	Room *room.Room
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room // nil when no such code
}

type RemoveRoom struct {
	Code string
}

// Touch records a broadcast time for a room; rooms send it through the
// notify hook after every fan-out.
type Touch struct {
	Code string
	At   time.Time
}

// IdleRooms lists codes whose last broadcast predates OlderThan.
type IdleRooms struct {
	OlderThan time.Time
	Reply     chan []string
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (Touch) isHubMsg()       {}
func (IdleRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox    chan HubMsg
	rooms    map[string]*room.Room
	lastEmit map[string]time.Time
	eng      *engine.Engine
	lib      *content.Library
	rnd      *rand.Rand
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, eng *engine.Engine, lib *content.Library) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		rooms:    make(map[string]*room.Room),
		lastEmit: make(map[string]time.Time),
		eng:      eng,
		lib:      lib,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				code := h.newCode()
				rm := room.New(h.ctx, code,
					engine.NewWaiting(msg.HostName, msg.ConnID),
					h.eng, h.lib, h.touch(code))
				h.rooms[code] = rm
				h.lastEmit[code] = time.Now()
				zap.S().Infow("room created", "code", code, "host", msg.HostName)
				msg.Reply <- Created{Code: code, Room: rm}

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // may be nil

			case RemoveRoom:
				if rm := h.rooms[msg.Code]; rm != nil {
					rm.Inbox() <- room.Shutdown{}
					zap.S().Infow("room removed", "code", msg.Code)
				}
				delete(h.rooms, msg.Code)
				delete(h.lastEmit, msg.Code)

			case Touch:
				if _, ok := h.rooms[msg.Code]; ok {
					h.lastEmit[msg.Code] = msg.At
				}

			case IdleRooms:
				var idle []string
				for code, at := range h.lastEmit {
					if at.Before(msg.OlderThan) {
						idle = append(idle, code)
					}
				}
				msg.Reply <- idle

			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Inbox() <- room.Shutdown{}
				}
				clear(h.rooms)
				clear(h.lastEmit)
				h.cancel()
			}
		}
	}
}

// newCode draws 3-letter codes until one is free. The code space (26^3) is
// large relative to any plausible number of live rooms, so the retry loop
// terminates quickly in practice.
func (h *Hub) newCode() string {
	for {
		code := make([]byte, codeLength)
		for i := range code {
			code[i] = codeLetters[h.rnd.Intn(len(codeLetters))]
		}
		c := string(code)
		if _, taken := h.rooms[c]; !taken {
			return c
		}
	}
}

// touch gives a room its side-table hook. The send is non-blocking; a missed
// touch only means a slightly stale idle timestamp.
func (h *Hub) touch(code string) func(time.Time) {
	return func(at time.Time) {
		select {
		case h.inbox <- Touch{Code: code, At: at}:
		default:
		}
	}
}
