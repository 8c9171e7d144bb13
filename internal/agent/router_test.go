package agent

import (
	"testing"

	"github.com/mohammad-safakhou/callsheet/internal/llm"
)

func TestRoutePrecedence(t *testing.T) {
	reg := NewRegistry(nil)

	cases := []struct {
		name       string
		message    string
		production bool
		wantRole   Role
		internal   bool
	}{
		{"default planning", "let's make a video about bees", false, RoleDirector, false},
		{"production defaults to expert", "how is the render going?", true, RoleExpert, false},
		{"audio tag", "@audio what bpm fits here?", false, RoleAudioEngineer, false},
		{"visual tag", "@visual color grade ideas", false, RoleVisualResearcher, false},
		{"expert tag", "@expert unblock me", false, RoleExpert, false},
		{"director tag wins over production", "@director change the plan", true, RoleDirector, false},
		{"tag beats marker", "@audio [PRODUCER_MODE] weird input", true, RoleAudioEngineer, false},
		{"marker routes internal", "[PRODUCER_MODE] Execute step step-1", true, RoleDirector, true},
		{"marker beats production default", "[PRODUCER_MODE] Execute step step-2", true, RoleDirector, true},
		{"tag anywhere in message", "thoughts? @visual please", false, RoleVisualResearcher, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := reg.Route(tc.message, tc.production)
			if d.Role != tc.wantRole {
				t.Fatalf("role = %s, want %s", d.Role, tc.wantRole)
			}
			if d.Internal != tc.internal {
				t.Fatalf("internal = %v, want %v", d.Internal, tc.internal)
			}
			if d.Persona.SystemPrompt == "" {
				t.Fatalf("persona for %s has no system prompt", d.Role)
			}
		})
	}
}

func TestOnlyDirectorCarriesTools(t *testing.T) {
	reg := NewRegistry([]llm.ToolSchema{{Name: "render"}})

	if got := reg.Persona(RoleDirector).Tools; len(got) != 1 {
		t.Fatalf("director tools = %d, want 1", len(got))
	}
	for _, role := range []Role{RoleAudioEngineer, RoleVisualResearcher, RoleExpert} {
		if got := reg.Persona(role).Tools; len(got) != 0 {
			t.Fatalf("%s carries %d tools, advisory personas must have none", role, len(got))
		}
	}
}

func TestUnknownRoleFallsBackToExpert(t *testing.T) {
	reg := NewRegistry(nil)
	p := reg.Persona(Role("INTERN"))
	if p.SystemPrompt != reg.Persona(RoleExpert).SystemPrompt {
		t.Fatalf("unknown role should resolve to the expert persona")
	}
}
