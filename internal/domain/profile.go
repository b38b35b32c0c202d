// Package domain contains core domain types for the Agora application.
package domain

// Profile is a named personality used to parameterize response generation.
type Profile struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Tone          string   `json:"tone" yaml:"tone"`
	SamplePrompts []string `json:"sample_prompts" yaml:"sample_prompts"`
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	p.SamplePrompts = append([]string(nil), p.SamplePrompts...)
	return p
}

// Response is one agent's reply for a turn.
type Response struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"response"`
}
