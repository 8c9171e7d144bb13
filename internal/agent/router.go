package agent

import "strings"

// ProducerMarker prefixes synthetic turns dispatched by the step
// executor. Marked turns always reach the Director so tool execution
// is never intercepted by an advisory persona.
const ProducerMarker = "[PRODUCER_MODE]"

// Decision is the outcome of routing one user turn.
type Decision struct {
	Role    Role
	Persona Persona
	// Internal marks producer-originated synthetic turns, which are
	// excluded from the user-visible event log.
	Internal bool
}

// Route selects the persona for the latest user message.
//
// Precedence, first match wins: explicit tag, producer marker,
// production phase, planning default. The function is total; any
// input falls through to the Director.
func (r *Registry) Route(message string, productionMode bool) Decision {
	switch {
	case strings.Contains(message, "@audio"):
		return Decision{Role: RoleAudioEngineer, Persona: r.Persona(RoleAudioEngineer)}
	case strings.Contains(message, "@visual"):
		return Decision{Role: RoleVisualResearcher, Persona: r.Persona(RoleVisualResearcher)}
	case strings.Contains(message, "@expert"):
		return Decision{Role: RoleExpert, Persona: r.Persona(RoleExpert)}
	case strings.Contains(message, "@director"):
		return Decision{Role: RoleDirector, Persona: r.Persona(RoleDirector)}
	case strings.Contains(message, ProducerMarker):
		return Decision{Role: RoleDirector, Persona: r.Persona(RoleDirector), Internal: true}
	case productionMode:
		return Decision{Role: RoleExpert, Persona: r.Persona(RoleExpert)}
	default:
		return Decision{Role: RoleDirector, Persona: r.Persona(RoleDirector)}
	}
}
