package queue

import "time"

// Template is a named, versionless content source. Created by operators,
// read-only at render time.
type Template struct {
	Name           string    `json:"name"`
	SubjectPattern string    `json:"subject"`
	HTMLPattern    string    `json:"html_content"`
	TextPattern    string    `json:"text_content,omitempty"`
	Description    string    `json:"description,omitempty"`
	Category       string    `json:"category"`
	RequiredInputs []string  `json:"required_inputs,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
