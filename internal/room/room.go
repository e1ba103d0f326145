// Package room runs one goroutine per game room. All mutations and the
// broadcast that follows them happen inside that goroutine, so a command
// either fully applies and every member gets a snapshot of the committed
// state, or it fails and only the caller hears about it.
package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jeremy-deutsch/trial-online/internal/content"
	"github.com/jeremy-deutsch/trial-online/internal/engine"
)

var ErrNotHost = errors.New("you aren't the host of this room")
var ErrCannotCallWitness = errors.New("you can't call witnesses")

type Msg interface{ isRoomMsg() }

// Join merges a connection into the room: new names become members per the
// current phase's rules, known names just get their connection refreshed.
// The outbox starts receiving this member's snapshots on success, and the
// room owns it from then on: the room closes it when the client is dropped,
// leaves, or is replaced by a reconnect. Callers must hand over a fresh
// channel on every Join.
type Join struct {
	Name   string
	ConnID string
	Outbox chan engine.View
	Reply  chan error
}

// Leave detaches a connection and closes its outbox. The member stays in
// room state; only the snapshot delivery stops.
type Leave struct {
	Name   string
	ConnID string
}

type FromClient struct {
	Cmd   engine.Command
	Reply chan error
}

// GetStatus reflects internal state without data races; used by tests and
// the registry.
type GetStatus struct {
	Reply chan Status
}

type Shutdown struct{}

func (Join) isRoomMsg()       {}
func (Leave) isRoomMsg()      {}
func (FromClient) isRoomMsg() {}
func (GetStatus) isRoomMsg()  {}
func (Shutdown) isRoomMsg()   {}

type Status struct {
	Phase         engine.Phase
	NumClients    int
	State         engine.State
	LastBroadcast time.Time
}

type client struct {
	connID string
	outbox chan engine.View
}

type Room struct {
	code     string
	inbox    chan Msg
	state    engine.State
	eng      *engine.Engine
	lib      *content.Library
	clients  map[string]client // keyed by member name
	lastEmit time.Time
	notify   func(time.Time)
	ctx      context.Context
	cancel   context.CancelFunc
}

// New starts the room goroutine. notify, if non-nil, is called after every
// broadcast with its wall-clock time; the hub uses it for the idle-room
// side table.
func New(parent context.Context, code string, initial engine.State, eng *engine.Engine, lib *content.Library, notify func(time.Time)) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		code:    code,
		inbox:   make(chan Msg, 64),
		state:   initial,
		eng:     eng,
		lib:     lib,
		clients: make(map[string]client),
		notify:  notify,
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) Code() string { return r.code }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				next, err := r.eng.Apply(r.state, engine.Command{
					Type:   engine.CmdJoin,
					Name:   msg.Name,
					ConnID: msg.ConnID,
				})
				if err != nil {
					reply(msg.Reply, err)
					break
				}
				r.state = next
				// A reconnect replaces the previous outbox; closing
				// it ends that connection's writer.
				if old, ok := r.clients[msg.Name]; ok && old.outbox != msg.Outbox {
					close(old.outbox)
				}
				r.clients[msg.Name] = client{connID: msg.ConnID, outbox: msg.Outbox}
				reply(msg.Reply, nil)
				zap.S().Debugw("member connected", "room", r.code, "name", msg.Name)
				r.broadcast()

			case Leave:
				// Ignore stale leaves from a connection that was
				// already replaced by a reconnect.
				if cl, ok := r.clients[msg.Name]; ok && cl.connID == msg.ConnID {
					close(cl.outbox)
					delete(r.clients, msg.Name)
				}

			case FromClient:
				if err := r.gate(msg.Cmd); err != nil {
					reply(msg.Reply, err)
					break
				}
				next, err := r.eng.Apply(r.state, msg.Cmd)
				if err != nil {
					reply(msg.Reply, err)
					break
				}
				r.state = next
				reply(msg.Reply, nil)
				r.broadcast()

			case GetStatus:
				msg.Reply <- Status{
					Phase:         r.state.Phase(),
					NumClients:    len(r.clients),
					State:         r.state,
					LastBroadcast: r.lastEmit,
				}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

// gate enforces who may issue a command; the engine behind it only checks
// phase and data rules. Hosts drive shared phase changes, and the witness
// stand advances on a host's or a judge's word.
func (r *Room) gate(cmd engine.Command) error {
	m, ok := engine.MembersOf(r.state).Get(cmd.Name)
	if !ok {
		return engine.ErrNotInRoom
	}
	switch cmd.Type {
	case engine.CmdStartSiding, engine.CmdStartTrial:
		if !m.IsHost {
			return ErrNotHost
		}
	case engine.CmdCallWitness:
		if !m.IsHost && m.Role != engine.RoleJudge {
			return ErrCannotCallWitness
		}
	}
	return nil
}

func (r *Room) broadcast() {
	for name, cl := range r.clients {
		view := engine.Project(r.state, name, r.code, r.lib)
		select {
		case cl.outbox <- view:
			// ok
		default:
			// Client is slow/full - drop them.
			close(cl.outbox)
			delete(r.clients, name)
			zap.S().Warnw("dropped slow client", "room", r.code, "name", name)
		}
	}
	r.lastEmit = time.Now()
	if r.notify != nil {
		r.notify(r.lastEmit)
	}
}

func (r *Room) shutdown() {
	for name, cl := range r.clients {
		close(cl.outbox)
		delete(r.clients, name)
	}
	r.cancel()
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}
