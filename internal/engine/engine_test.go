package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func testEngine(seed int64) *Engine {
	return NewWithRand(18, 36, rand.New(rand.NewSource(seed)))
}

func waitingWith(names ...string) Waiting {
	ms := make(Members, 0, len(names))
	for i, n := range names {
		ms = append(ms, Member{Name: n, ConnID: fmt.Sprintf("conn-%d", i), IsHost: i == 0})
	}
	return Waiting{Members: ms}
}

func sidingWith(defendant string, roles map[string]Role, evidence []int, names ...string) Siding {
	ms := make(Members, 0, len(names))
	for i, n := range names {
		ms = append(ms, Member{Name: n, ConnID: fmt.Sprintf("conn-%d", i), IsHost: i == 0, Role: roles[n]})
	}
	return Siding{Members: ms, Defendant: defendant, Crime: 0, Evidence: evidence}
}

func countRole(ms Members, role Role) int {
	n := 0
	for _, m := range ms {
		if m.Role == role {
			n++
		}
	}
	return n
}

func TestJoin_WaitingAddsMember(t *testing.T) {
	e := testEngine(1)
	s, err := e.Apply(waitingWith("Alice", "Bob"), Command{Type: CmdJoin, Name: "Cara", ConnID: "conn-c"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st := s.(Waiting)
	if got := st.Members.Names(); len(got) != 3 || got[2] != "Cara" {
		t.Fatalf("want Cara appended, got %v", got)
	}
	m, _ := st.Members.Get("Cara")
	if m.IsHost {
		t.Fatalf("newcomer must not be host")
	}
}

func TestJoin_RejoinRefreshesConnectionOnly(t *testing.T) {
	e := testEngine(1)
	cases := []struct {
		name  string
		state State
	}{
		{"waiting", waitingWith("Alice", "Bob")},
		{"siding", sidingWith("Bob", map[string]Role{"Alice": RoleJudge, "Bob": RoleDefense}, []int{0, 1, 2}, "Alice", "Bob", "Cara", "Dan")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := len(MembersOf(tc.state))
			s, err := e.Apply(tc.state, Command{Type: CmdJoin, Name: "Alice", ConnID: "conn-new"})
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			ms := MembersOf(s)
			if len(ms) != before {
				t.Fatalf("rejoin changed member count: %d -> %d", before, len(ms))
			}
			m, _ := ms.Get("Alice")
			if m.ConnID != "conn-new" {
				t.Fatalf("conn id not refreshed: %q", m.ConnID)
			}
			if !m.IsHost {
				t.Fatalf("host flag lost on rejoin")
			}
			if s.Phase() != tc.state.Phase() {
				t.Fatalf("rejoin changed phase to %v", s.Phase())
			}
		})
	}
}

func TestJoin_SidingRejectsNewcomers(t *testing.T) {
	e := testEngine(1)
	st := sidingWith("Bob", map[string]Role{"Alice": RoleJudge, "Bob": RoleDefense}, []int{0, 1, 2}, "Alice", "Bob", "Cara", "Dan")
	_, err := e.Apply(st, Command{Type: CmdJoin, Name: "Eve", ConnID: "conn-e"})
	if !errors.Is(err, ErrRoomSiding) {
		t.Fatalf("want ErrRoomSiding, got %v", err)
	}
}

func TestJoin_TrialGrantsJudge(t *testing.T) {
	e := testEngine(1)
	st := Trial{
		Members: Members{
			{Name: "Alice", IsHost: true, Role: RoleJudge},
			{Name: "Bob", Role: RoleDefense, Evidence: []int{0}},
			{Name: "Cara", Role: RoleProsecution, Evidence: []int{0}},
			{Name: "Dan", Role: RoleDefense, Evidence: []int{1}},
		},
		Defendant:    "Bob",
		WitnessOrder: []string{"Cara", "Bob", "Dan"},
		WitnessQueue: []string{"Cara", "Bob", "Dan"},
	}
	s, err := e.Apply(st, Command{Type: CmdJoin, Name: "Eve", ConnID: "conn-e"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	next := s.(Trial)
	m, ok := next.Members.Get("Eve")
	if !ok || m.Role != RoleJudge {
		t.Fatalf("latecomer should be a judge, got %+v", m)
	}
	if m.HasPresented || len(m.Evidence) != 0 {
		t.Fatalf("latecomer should start with no evidence, got %+v", m)
	}
	if len(next.WitnessOrder) != 3 || len(next.WitnessQueue) != 3 {
		t.Fatalf("joining must not touch the witness order")
	}
}

func TestJoin_CapacityCap(t *testing.T) {
	e := testEngine(1)
	names := make([]string, MaxMembers)
	for i := range names {
		names[i] = fmt.Sprintf("player-%d", i)
	}
	full := waitingWith(names...)

	if _, err := e.Apply(full, Command{Type: CmdJoin, Name: "one-too-many", ConnID: "x"}); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}

	// A known name never counts against the cap.
	s, err := e.Apply(full, Command{Type: CmdJoin, Name: "player-3", ConnID: "conn-new"})
	if err != nil {
		t.Fatalf("rejoin at capacity should succeed, got %v", err)
	}
	if len(MembersOf(s)) != MaxMembers {
		t.Fatalf("rejoin changed member count")
	}
}

func TestStartSiding_DealsRoundCorrectly(t *testing.T) {
	e := testEngine(42)
	s, err := e.Apply(waitingWith("Alice", "Bob", "Cara", "Dan"), Command{Type: CmdStartSiding, Name: "Alice"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st, ok := s.(Siding)
	if !ok {
		t.Fatalf("want Siding, got %T", s)
	}
	if st.Retry {
		t.Fatalf("fresh round must not be a retry")
	}
	if got := countRole(st.Members, RoleJudge); got != 1 {
		t.Fatalf("want exactly 1 judge, got %d", got)
	}
	if got := countRole(st.Members, RoleDefense); got != 1 {
		t.Fatalf("want exactly 1 defendant, got %d", got)
	}
	if got := countRole(st.Members, ""); got != 2 {
		t.Fatalf("want 2 undecided, got %d", got)
	}
	if m, _ := st.Members.Get(st.Defendant); m.Role != RoleDefense {
		t.Fatalf("defendant %q should have role DEFENSE, got %q", st.Defendant, m.Role)
	}
	if len(st.Evidence) != 3 {
		t.Fatalf("want evidence pool of members-1 = 3, got %d", len(st.Evidence))
	}
	seen := map[int]bool{}
	for _, i := range st.Evidence {
		if i < 0 || i >= 36 {
			t.Fatalf("evidence index %d out of range", i)
		}
		if seen[i] {
			t.Fatalf("duplicate evidence index %d", i)
		}
		seen[i] = true
	}
	if st.Crime < 0 || st.Crime >= 18 {
		t.Fatalf("crime index %d out of range", st.Crime)
	}
}

func TestStartSiding_Gates(t *testing.T) {
	e := testEngine(7)
	cases := []struct {
		name    string
		state   State
		wantErr error
	}{
		{
			name:    "too few players",
			state:   waitingWith("Alice", "Bob", "Cara"),
			wantErr: ErrTooFewPlayers,
		},
		{
			name: "not valid from trial",
			state: Trial{
				Members:      waitingWith("Alice", "Bob", "Cara", "Dan").Members,
				WitnessQueue: []string{"Bob"},
				WitnessOrder: []string{"Bob"},
			},
			wantErr: ErrWrongPhase,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := e.Apply(tc.state, Command{Type: CmdStartSiding})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if s.Phase() != tc.state.Phase() {
				t.Fatalf("state must be untouched on error, phase became %v", s.Phase())
			}
		})
	}
}

func TestStartSiding_SetsRetryFromSiding(t *testing.T) {
	e := testEngine(9)
	st := sidingWith("Bob", map[string]Role{"Alice": RoleJudge, "Bob": RoleDefense}, []int{0, 1, 2}, "Alice", "Bob", "Cara", "Dan")
	s, err := e.Apply(st, Command{Type: CmdStartSiding})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if next := s.(Siding); !next.Retry {
		t.Fatalf("reshuffle of a SIDING round should set Retry")
	}
}

func TestStartSiding_EvidenceExhaustion(t *testing.T) {
	// Only 2 evidence items but the pool needs 3: the rejection sampler
	// can never finish and must give up at the attempt cap.
	e := NewWithRand(18, 2, rand.New(rand.NewSource(3)))
	st := waitingWith("Alice", "Bob", "Cara", "Dan")
	s, err := e.Apply(st, Command{Type: CmdStartSiding})
	if !errors.Is(err, ErrEvidenceExhausted) {
		t.Fatalf("want ErrEvidenceExhausted, got %v", err)
	}
	if s.Phase() != PhaseWaiting {
		t.Fatalf("failed deal must leave the room in WAITING")
	}
}

func TestChooseRole(t *testing.T) {
	base := func() Siding {
		return sidingWith("Bob",
			map[string]Role{"Alice": RoleJudge, "Bob": RoleDefense},
			[]int{0, 1, 2}, "Alice", "Bob", "Cara", "Dan")
	}
	cases := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"picks prosecution", Command{Type: CmdChooseRole, Name: "Cara", Role: RoleProsecution}, nil},
		{"picks defense", Command{Type: CmdChooseRole, Name: "Dan", Role: RoleDefense}, nil},
		{"already decided", Command{Type: CmdChooseRole, Name: "Bob", Role: RoleProsecution}, ErrAlreadyDecided},
		{"unknown member", Command{Type: CmdChooseRole, Name: "Eve", Role: RoleDefense}, ErrNotInRoom},
		{"judge is not choosable", Command{Type: CmdChooseRole, Name: "Cara", Role: RoleJudge}, ErrUnsupportedCommand},
	}
	e := testEngine(5)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := base()
			s, err := e.Apply(st, tc.cmd)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr != nil {
				return
			}
			m, _ := s.(Siding).Members.Get(tc.cmd.Name)
			if m.Role != tc.cmd.Role {
				t.Fatalf("role not set: %+v", m)
			}
			// input state untouched
			orig, _ := st.Members.Get(tc.cmd.Name)
			if orig.Role != "" {
				t.Fatalf("Apply mutated its input state")
			}
		})
	}
}

func TestChooseRole_WrongPhase(t *testing.T) {
	e := testEngine(5)
	_, err := e.Apply(waitingWith("Alice", "Bob"), Command{Type: CmdChooseRole, Name: "Bob", Role: RoleDefense})
	if !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("want ErrWrongPhase, got %v", err)
	}
}

func TestStartTrial_SingleWitnessPerSide(t *testing.T) {
	// One witness per side makes the outcome deterministic regardless of
	// shuffling: each side gets the whole pool, prosecution goes first on
	// the tie.
	e := testEngine(11)
	st := sidingWith("Bob",
		map[string]Role{"Alice": RoleJudge, "Bob": RoleDefense, "Cara": RoleProsecution},
		[]int{4, 9, 2}, "Alice", "Bob", "Cara", "Dan")
	s, err := e.Apply(st, Command{Type: CmdStartTrial})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	trial := s.(Trial)

	if m, _ := trial.Members.Get("Dan"); m.Role != RoleJudge {
		t.Fatalf("undecided member should default to judge, got %q", m.Role)
	}
	cara, _ := trial.Members.Get("Cara")
	bob, _ := trial.Members.Get("Bob")
	if len(cara.Evidence) != 3 || len(bob.Evidence) != 3 {
		t.Fatalf("each side's sole witness should carry the whole pool: %v / %v", cara.Evidence, bob.Evidence)
	}
	wantOrder := []string{"Cara", "Bob"}
	for i, name := range wantOrder {
		if trial.WitnessOrder[i] != name {
			t.Fatalf("want order %v, got %v", wantOrder, trial.WitnessOrder)
		}
	}
	if len(trial.WitnessQueue) != len(trial.WitnessOrder) {
		t.Fatalf("queue should start equal to order")
	}
}

func TestStartTrial_EvidenceCoverage(t *testing.T) {
	roles := map[string]Role{
		"Judy": RoleJudge,
		"Dana": RoleDefense, // defendant
		"Paul": RoleProsecution,
		"Pete": RoleProsecution,
		"Dave": RoleDefense,
	}
	pool := []int{3, 14, 15, 9, 26}
	e := testEngine(13)
	st := sidingWith("Dana", roles, pool, "Judy", "Dana", "Paul", "Pete", "Dave", "Quin")
	s, err := e.Apply(st, Command{Type: CmdStartTrial})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	trial := s.(Trial)

	checkSide := func(side Role, names ...string) {
		total := 0
		seen := map[int]bool{}
		for _, name := range names {
			m, _ := trial.Members.Get(name)
			if m.Role != side {
				t.Fatalf("%s should be %s, got %s", name, side, m.Role)
			}
			total += len(m.Evidence)
			for _, idx := range m.Evidence {
				if seen[idx] {
					t.Fatalf("evidence %d dealt twice within side %s", idx, side)
				}
				seen[idx] = true
			}
		}
		if total != len(pool) {
			t.Fatalf("side %s covers %d items, want %d", side, total, len(pool))
		}
	}
	checkSide(RoleProsecution, "Paul", "Pete")
	checkSide(RoleDefense, "Dana", "Dave")

	// Prosecution and defense tie at 2 witnesses: prosecution presents
	// first.
	first := map[string]bool{trial.WitnessOrder[0]: true, trial.WitnessOrder[1]: true}
	if !first["Paul"] || !first["Pete"] {
		t.Fatalf("prosecution should lead the order on a tie, got %v", trial.WitnessOrder)
	}
	if len(trial.WitnessOrder) != 4 {
		t.Fatalf("order should hold the 4 witnesses, got %v", trial.WitnessOrder)
	}
	if m, _ := trial.Members.Get("Quin"); m.Role != RoleJudge {
		t.Fatalf("undecided Quin should judge, got %s", m.Role)
	}
}

func TestStartTrial_LargerSideLeads(t *testing.T) {
	roles := map[string]Role{
		"Judy": RoleJudge,
		"Dana": RoleDefense,
		"Dave": RoleDefense,
		"Drew": RoleDefense,
		"Paul": RoleProsecution,
	}
	e := testEngine(17)
	st := sidingWith("Dana", roles, []int{0, 1, 2, 3}, "Judy", "Dana", "Dave", "Drew", "Paul")
	s, err := e.Apply(st, Command{Type: CmdStartTrial})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	trial := s.(Trial)
	if trial.WitnessOrder[len(trial.WitnessOrder)-1] != "Paul" {
		t.Fatalf("larger defense should lead, prosecution last: %v", trial.WitnessOrder)
	}
}

func TestStartTrial_EmptyProsecutionReshuffles(t *testing.T) {
	roles := map[string]Role{
		"Alice": RoleJudge,
		"Bob":   RoleDefense,
		"Cara":  RoleDefense,
		"Dan":   RoleDefense,
	}
	e := testEngine(23)
	st := sidingWith("Bob", roles, []int{0, 1, 2}, "Alice", "Bob", "Cara", "Dan")
	s, err := e.Apply(st, Command{Type: CmdStartTrial})
	if err != nil {
		t.Fatalf("reshuffle is not an error, got %v", err)
	}
	next, ok := s.(Siding)
	if !ok {
		t.Fatalf("want a fresh SIDING round, got %T", s)
	}
	if !next.Retry {
		t.Fatalf("the silent reshuffle should be marked a retry")
	}
	if got := countRole(next.Members, RoleJudge); got != 1 {
		t.Fatalf("reshuffle should re-run the lottery, got %d judges", got)
	}
	if len(next.Evidence) != 3 {
		t.Fatalf("reshuffle should re-draw evidence, got %v", next.Evidence)
	}
}

func TestCallWitness_AdvancesAndEnds(t *testing.T) {
	e := testEngine(29)
	trial := Trial{
		Members: Members{
			{Name: "Judy", IsHost: true, Role: RoleJudge},
			{Name: "Dana", Role: RoleDefense, Evidence: []int{0, 1, 2}},
			{Name: "Paul", Role: RoleProsecution, Evidence: []int{0, 2}},
			{Name: "Pete", Role: RoleProsecution, Evidence: []int{1}},
		},
		Defendant:    "Dana",
		WitnessOrder: []string{"Pete", "Paul", "Dana"},
		WitnessQueue: []string{"Pete", "Paul", "Dana"},
	}

	s, err := e.Apply(trial, Command{Type: CmdCallWitness})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st := s.(Trial)
	if m, _ := st.Members.Get("Pete"); !m.HasPresented {
		t.Fatalf("current witness should be marked presented")
	}
	if len(st.WitnessQueue) != 2 || st.WitnessQueue[0] != "Paul" {
		t.Fatalf("queue should shrink to [Paul Dana], got %v", st.WitnessQueue)
	}
	if len(st.WitnessOrder) != 3 {
		t.Fatalf("order is immutable, got %v", st.WitnessOrder)
	}

	s, err = e.Apply(st, Command{Type: CmdCallWitness})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	st = s.(Trial)
	if len(st.WitnessQueue) != 1 || st.WitnessQueue[0] != "Dana" {
		t.Fatalf("queue should shrink to [Dana], got %v", st.WitnessQueue)
	}

	// One left on the stand: the trial ends and a new round begins.
	s, err = e.Apply(st, Command{Type: CmdCallWitness})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	next, ok := s.(Siding)
	if !ok {
		t.Fatalf("trial end should return to SIDING, got %T", s)
	}
	if next.Retry {
		t.Fatalf("a round following a finished trial is not a retry")
	}
	if len(next.Members) != 4 {
		t.Fatalf("membership should carry over, got %d", len(next.Members))
	}
}

func TestCallWitness_Errors(t *testing.T) {
	e := testEngine(31)
	empty := Trial{
		Members:      waitingWith("Alice", "Bob", "Cara", "Dan").Members,
		WitnessOrder: []string{},
		WitnessQueue: []string{},
	}
	if _, err := e.Apply(empty, Command{Type: CmdCallWitness}); !errors.Is(err, ErrNoWitnesses) {
		t.Fatalf("want ErrNoWitnesses, got %v", err)
	}
	if _, err := e.Apply(waitingWith("Alice", "Bob"), Command{Type: CmdCallWitness}); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("want ErrWrongPhase, got %v", err)
	}
}

func TestApply_UnknownCommand(t *testing.T) {
	e := testEngine(1)
	if _, err := e.Apply(waitingWith("Alice"), Command{Type: "Sing"}); !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
}
