package app

import "github.com/shpitdev/leadgen-pipeline/internal/agent"

// State is a position in the stage sequence. States are named after stages.
type State string

const (
	StateIntake     State = agent.NameIntake
	StateCompany    State = agent.NameCompanyDiscovery
	StatePeople     State = agent.NamePeopleDiscovery
	StateEnrichment State = agent.NameContactEnrichment
	StateScoring    State = agent.NameLeadScoring
	StateDone       State = "done"
)

// stageOrder lists the states Run visits once each in sequential mode.
var stageOrder = []State{StateCompany, StatePeople, StateEnrichment, StateScoring}

// Next is the group-chat transition function. Every stage hands off to the next in
// line regardless of output quality. Scoring finishes only on a validated reply whose
// complete flag is true; otherwise it goes around again on its own output.
func Next(state State, out agent.Output) State {
	switch state {
	case StateIntake:
		return StateCompany
	case StateCompany:
		return StatePeople
	case StatePeople:
		return StateEnrichment
	case StateEnrichment:
		return StateScoring
	case StateScoring:
		if out.Complete() {
			return StateDone
		}
		return StateScoring
	default:
		return StateDone
	}
}
