package engine

import (
	"errors"
	"math/rand"
	"slices"
	"time"
)

var ErrNotInRoom = errors.New("you aren't in the room")
var ErrRoomFull = errors.New("room is full")
var ErrRoomSiding = errors.New("room is choosing sides")
var ErrWrongPhase = errors.New("the room isn't in the right phase for that")
var ErrTooFewPlayers = errors.New("at least 4 players required")
var ErrAlreadyDecided = errors.New("you already chose a role")
var ErrEvidenceExhausted = errors.New("couldn't gather enough evidence")
var ErrNoWitnesses = errors.New("there aren't any witnesses")
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	// MaxMembers is the number of distinct display names a room can hold.
	MaxMembers = 15
	// MinPlayers is the membership required to start choosing sides.
	MinPlayers = 4

	evidenceAttemptCap = 150
)

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseSiding  Phase = "SIDING"
	PhaseTrial   Phase = "TRIAL"
)

type Role string

const (
	RoleDefense     Role = "DEFENSE"
	RoleJudge       Role = "JUDGE"
	RoleProsecution Role = "PROSECUTION"
)

// Member is one named participant of a room. Role stays empty during SIDING
// until the member decides; Evidence and HasPresented only mean anything
// during TRIAL.
type Member struct {
	Name         string
	ConnID       string
	IsHost       bool
	Role         Role
	Evidence     []int
	HasPresented bool
}

// Members preserves join order, which the waiting view exposes directly.
type Members []Member

func (ms Members) index(name string) int {
	for i := range ms {
		if ms[i].Name == name {
			return i
		}
	}
	return -1
}

func (ms Members) Get(name string) (Member, bool) {
	if i := ms.index(name); i >= 0 {
		return ms[i], true
	}
	return Member{}, false
}

func (ms Members) Names() []string {
	names := make([]string, 0, len(ms))
	for _, m := range ms {
		names = append(names, m.Name)
	}
	return names
}

func (ms Members) clone() Members {
	return slices.Clone(ms)
}

// State is the closed set of room phases. Transitions return a fresh variant
// and never mutate the one they were given.
type State interface {
	Phase() Phase
	isRoomState()
}

type Waiting struct {
	Members Members
}

type Siding struct {
	Members   Members
	Defendant string
	Crime     int
	Evidence  []int
	// Retry is set when this round replaced an earlier SIDING round
	// (host reshuffle or an empty-prosecution restart).
	Retry bool
}

type Trial struct {
	Members      Members
	Defendant    string
	Crime        int
	WitnessOrder []string
	WitnessQueue []string
}

func (Waiting) isRoomState() {}
func (Siding) isRoomState()  {}
func (Trial) isRoomState()   {}

func (Waiting) Phase() Phase { return PhaseWaiting }
func (Siding) Phase() Phase  { return PhaseSiding }
func (Trial) Phase() Phase   { return PhaseTrial }

// MembersOf returns the membership of any phase variant.
func MembersOf(s State) Members {
	switch st := s.(type) {
	case Waiting:
		return st.Members
	case Siding:
		return st.Members
	case Trial:
		return st.Members
	}
	return nil
}

// NewWaiting is the state of a freshly created room: one host, nobody else.
func NewWaiting(hostName, connID string) Waiting {
	return Waiting{Members: Members{{Name: hostName, ConnID: connID, IsHost: true}}}
}

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdStartSiding CommandType = "StartSiding"
	CmdChooseRole  CommandType = "ChooseRole"
	CmdStartTrial  CommandType = "StartTrial"
	CmdCallWitness CommandType = "CallWitness"
)

type Command struct {
	Type   CommandType
	Name   string
	ConnID string
	Role   Role
}

// Engine applies commands against room state. It assumes the caller already
// enforced who may issue which command; it only enforces phase and data rules.
type Engine struct {
	rnd           *rand.Rand
	crimeCount    int
	evidenceCount int
}

func New(crimeCount, evidenceCount int) *Engine {
	return NewWithRand(crimeCount, evidenceCount, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand injects the random source, so tests can pin a seed.
func NewWithRand(crimeCount, evidenceCount int, rnd *rand.Rand) *Engine {
	return &Engine{rnd: rnd, crimeCount: crimeCount, evidenceCount: evidenceCount}
}

// Apply runs one command. On error the returned state is the input state,
// untouched.
func (e *Engine) Apply(s State, cmd Command) (State, error) {
	switch cmd.Type {
	case CmdJoin:
		return e.join(s, cmd)
	case CmdStartSiding:
		return e.startSiding(s)
	case CmdChooseRole:
		return e.chooseRole(s, cmd)
	case CmdStartTrial:
		return e.startTrial(s)
	case CmdCallWitness:
		return e.callWitness(s)
	default:
		return s, ErrUnsupportedCommand
	}
}

func (e *Engine) join(s State, cmd Command) (State, error) {
	ms := MembersOf(s)
	if i := ms.index(cmd.Name); i >= 0 {
		// Known name: a reconnection. Only the connection id changes;
		// the host flag and any role survive.
		next := ms.clone()
		next[i].ConnID = cmd.ConnID
		return withMembers(s, next), nil
	}
	if len(ms) >= MaxMembers {
		return s, ErrRoomFull
	}
	switch st := s.(type) {
	case Waiting:
		st.Members = append(st.Members.clone(), Member{Name: cmd.Name, ConnID: cmd.ConnID})
		return st, nil
	case Trial:
		// Latecomers join the bench, not the witness stand.
		st.Members = append(st.Members.clone(), Member{
			Name:     cmd.Name,
			ConnID:   cmd.ConnID,
			Role:     RoleJudge,
			Evidence: []int{},
		})
		return st, nil
	default:
		return s, ErrRoomSiding
	}
}

func withMembers(s State, ms Members) State {
	switch st := s.(type) {
	case Waiting:
		st.Members = ms
		return st
	case Siding:
		st.Members = ms
		return st
	case Trial:
		st.Members = ms
		return st
	}
	return s
}

func (e *Engine) startSiding(s State) (State, error) {
	switch st := s.(type) {
	case Waiting:
		return e.deal(s, st.Members, false)
	case Siding:
		return e.deal(s, st.Members, true)
	default:
		return s, ErrWrongPhase
	}
}

// deal starts a fresh SIDING round for the given membership: a lottery for
// judge and defendant, one crime, and a pool of members-1 distinct evidence
// items. prev comes back unchanged on failure.
func (e *Engine) deal(prev State, ms Members, retry bool) (State, error) {
	if len(ms) < MinPlayers {
		return prev, ErrTooFewPlayers
	}
	lottery := ms.Names()
	Shuffle(e.rnd, lottery)
	judge, defendant := lottery[0], lottery[1]

	next := make(Members, 0, len(ms))
	for _, m := range ms {
		var role Role
		switch m.Name {
		case judge:
			role = RoleJudge
		case defendant:
			role = RoleDefense
		}
		next = append(next, Member{Name: m.Name, ConnID: m.ConnID, IsHost: m.IsHost, Role: role})
	}

	crime := SampleIndex(e.rnd, e.crimeCount)
	pool, ok := SampleUniqueIndices(e.rnd, e.evidenceCount, len(ms)-1, evidenceAttemptCap)
	if !ok {
		return prev, ErrEvidenceExhausted
	}
	return Siding{
		Members:   next,
		Defendant: defendant,
		Crime:     crime,
		Evidence:  pool,
		Retry:     retry,
	}, nil
}

func (e *Engine) chooseRole(s State, cmd Command) (State, error) {
	st, ok := s.(Siding)
	if !ok {
		return s, ErrWrongPhase
	}
	i := st.Members.index(cmd.Name)
	if i < 0 {
		return s, ErrNotInRoom
	}
	if st.Members[i].Role != "" {
		return s, ErrAlreadyDecided
	}
	if cmd.Role != RoleDefense && cmd.Role != RoleProsecution {
		return s, ErrUnsupportedCommand
	}
	next := st.Members.clone()
	next[i].Role = cmd.Role
	st.Members = next
	return st, nil
}

func (e *Engine) startTrial(s State) (State, error) {
	st, ok := s.(Siding)
	if !ok {
		return s, ErrWrongPhase
	}

	type witness struct {
		name     string
		evidence []int
	}
	var prosecution, defense []*witness
	next := make(Members, 0, len(st.Members))
	for _, m := range st.Members {
		role := m.Role
		if role == "" {
			// Never decided: they watch from the bench.
			role = RoleJudge
		}
		next = append(next, Member{
			Name:     m.Name,
			ConnID:   m.ConnID,
			IsHost:   m.IsHost,
			Role:     role,
			Evidence: []int{},
		})
		switch m.Role {
		case RoleProsecution:
			prosecution = append(prosecution, &witness{name: m.Name})
		case RoleDefense:
			defense = append(defense, &witness{name: m.Name})
		}
	}

	if len(prosecution) == 0 {
		// No accuser, no trial: redo the whole round.
		return e.deal(s, st.Members, true)
	}

	Shuffle(e.rnd, prosecution)
	Shuffle(e.rnd, defense)

	// Each evidence item lands on one witness per side. The sides share
	// evidence identity; they don't split the pool between them.
	for i, ev := range st.Evidence {
		p := prosecution[i%len(prosecution)]
		p.evidence = append(p.evidence, ev)
		if len(defense) > 0 {
			d := defense[i%len(defense)]
			d.evidence = append(d.evidence, ev)
		}
	}

	// Reshuffle for presentation order; evidence is already bound.
	Shuffle(e.rnd, prosecution)
	Shuffle(e.rnd, defense)

	ordered := make([]*witness, 0, len(defense)+len(prosecution))
	if len(defense) > len(prosecution) {
		ordered = append(append(ordered, defense...), prosecution...)
	} else {
		ordered = append(append(ordered, prosecution...), defense...)
	}

	queue := make([]string, 0, len(ordered))
	for _, w := range ordered {
		if i := next.index(w.name); i >= 0 {
			next[i].Evidence = w.evidence
		}
		queue = append(queue, w.name)
	}

	return Trial{
		Members:      next,
		Defendant:    st.Defendant,
		Crime:        st.Crime,
		WitnessOrder: slices.Clone(queue),
		WitnessQueue: queue,
	}, nil
}

func (e *Engine) callWitness(s State) (State, error) {
	st, ok := s.(Trial)
	if !ok {
		return s, ErrWrongPhase
	}
	switch len(st.WitnessQueue) {
	case 0:
		return s, ErrNoWitnesses
	case 1:
		// The last witness is already on the stand; the trial is over
		// and the room rolls straight into a new round.
		return e.deal(s, st.Members, false)
	}
	next := st.Members.clone()
	if i := next.index(st.WitnessQueue[0]); i >= 0 {
		next[i].HasPresented = true
	}
	st.Members = next
	st.WitnessQueue = st.WitnessQueue[1:]
	return st, nil
}
