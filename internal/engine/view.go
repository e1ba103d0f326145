package engine

import "github.com/jeremy-deutsch/trial-online/internal/content"

// View is the slice of room state one viewer is allowed to see. Each phase
// has its own shape; the Type field doubles as the wire discriminator.
//
// Visibility is deliberately asymmetric: during SIDING only a member's own
// role is exposed to them (everyone else just sees hasDecided), while during
// TRIAL every member's role, dealt evidence and presentation status is
// visible to the whole room.
type View interface{ isView() }

type WaitingView struct {
	Type        Phase    `json:"type"`
	MemberNames []string `json:"memberNames"`
	OwnName     string   `json:"ownName"`
	RoomCode    string   `json:"roomCode"`
	IsHost      bool     `json:"isHost"`
}

type SidingMemberView struct {
	Name       string `json:"name"`
	HasDecided bool   `json:"hasDecided"`
}

type SidingView struct {
	Type        Phase              `json:"type"`
	JudgeName   string             `json:"judgeName"`
	AccusedName string             `json:"accusedName"`
	Members     []SidingMemberView `json:"members"`
	Crime       string             `json:"crime"`
	Evidence    []string           `json:"evidence"`
	OwnRole     *Role              `json:"ownRole"`
	OwnName     string             `json:"ownName"`
	RoomCode    string             `json:"roomCode"`
	IsHost      bool               `json:"isHost"`
}

type TrialMemberView struct {
	Name         string   `json:"name"`
	Evidence     []string `json:"evidence"`
	Role         Role     `json:"role"`
	HasPresented bool     `json:"hasPresented"`
}

type TrialView struct {
	Type        Phase             `json:"type"`
	AccusedName string            `json:"accusedName"`
	Members     []TrialMemberView `json:"members"`
	Crime       string            `json:"crime"`
	// Evidence is the current witness's items, for the stand.
	Evidence       []string `json:"evidence"`
	CurrentWitness string   `json:"currentWitness"`
	NextWitness    *string  `json:"nextWitness"`
	OwnName        string   `json:"ownName"`
	RoomCode       string   `json:"roomCode"`
	IsHost         bool     `json:"isHost"`
}

func (WaitingView) isView() {}
func (SidingView) isView()  {}
func (TrialView) isView()   {}

// Project builds the snapshot of s that viewer may see. It's a pure function
// of the room state; callers invoke it once per member after every accepted
// mutation.
func Project(s State, viewer, roomCode string, lib *content.Library) View {
	switch st := s.(type) {
	case Waiting:
		v := WaitingView{
			Type:        PhaseWaiting,
			MemberNames: st.Members.Names(),
			OwnName:     viewer,
			RoomCode:    roomCode,
		}
		if m, ok := st.Members.Get(viewer); ok {
			v.IsHost = m.IsHost
		}
		return v

	case Siding:
		members := make([]SidingMemberView, 0, len(st.Members))
		var judge string
		for _, m := range st.Members {
			members = append(members, SidingMemberView{Name: m.Name, HasDecided: m.Role != ""})
			if m.Role == RoleJudge {
				judge = m.Name
			}
		}
		evidence := make([]string, 0, len(st.Evidence))
		for _, i := range st.Evidence {
			evidence = append(evidence, lib.Evidence[i])
		}
		v := SidingView{
			Type:        PhaseSiding,
			JudgeName:   judge,
			AccusedName: st.Defendant,
			Members:     members,
			Crime:       lib.RenderCrime(st.Crime, st.Defendant),
			Evidence:    evidence,
			OwnName:     viewer,
			RoomCode:    roomCode,
		}
		if m, ok := st.Members.Get(viewer); ok {
			v.IsHost = m.IsHost
			if m.Role != "" {
				role := m.Role
				v.OwnRole = &role
			}
		}
		return v

	case Trial:
		// Walk the immutable witness order first so the member list is
		// stable across projections, then fill in anyone who isn't in
		// the order (the judges).
		members := make([]TrialMemberView, 0, len(st.Members))
		var currentEvidence []string
		var currentWitness string
		if len(st.WitnessQueue) > 0 {
			currentWitness = st.WitnessQueue[0]
		}
		add := func(m Member) {
			evidence := make([]string, 0, len(m.Evidence))
			for _, i := range m.Evidence {
				evidence = append(evidence, lib.Evidence[i])
			}
			members = append(members, TrialMemberView{
				Name:         m.Name,
				Evidence:     evidence,
				Role:         m.Role,
				HasPresented: m.HasPresented,
			})
			if m.Name == currentWitness {
				currentEvidence = evidence
			}
		}
		inOrder := make(map[string]bool, len(st.WitnessOrder))
		for _, name := range st.WitnessOrder {
			if m, ok := st.Members.Get(name); ok {
				inOrder[name] = true
				add(m)
			}
		}
		for _, m := range st.Members {
			if !inOrder[m.Name] {
				add(m)
			}
		}
		v := TrialView{
			Type:           PhaseTrial,
			AccusedName:    st.Defendant,
			Members:        members,
			Crime:          lib.RenderCrime(st.Crime, st.Defendant),
			Evidence:       currentEvidence,
			CurrentWitness: currentWitness,
			OwnName:        viewer,
			RoomCode:       roomCode,
		}
		if len(st.WitnessQueue) > 1 {
			next := st.WitnessQueue[1]
			v.NextWitness = &next
		}
		if m, ok := st.Members.Get(viewer); ok {
			v.IsHost = m.IsHost
		}
		return v
	}
	return nil
}
