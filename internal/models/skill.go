package models

// DefaultUserID is used when the platform omits the user identifier.
const DefaultUserID = "unknown"

// SkillVersion is the response schema version expected by the chat platform.
const SkillVersion = "2.0"

// SkillUser identifies the chat user that sent an utterance.
type SkillUser struct {
	ID string `json:"id"`
}

// SkillUserRequest carries the user and the raw utterance.
type SkillUserRequest struct {
	User      SkillUser `json:"user"`
	Utterance string    `json:"utterance"`
}

// SkillRequest is the inbound webhook payload.
type SkillRequest struct {
	UserRequest *SkillUserRequest `json:"userRequest"`
}

// Validate checks that the payload contains a userRequest block.
func (r *SkillRequest) Validate() error {
	if r.UserRequest == nil {
		return ErrMissingUserRequest
	}
	return nil
}

// UserID returns the sender id, defaulting to DefaultUserID.
func (r *SkillRequest) UserID() string {
	if r.UserRequest == nil || r.UserRequest.User.ID == "" {
		return DefaultUserID
	}
	return r.UserRequest.User.ID
}

// Utterance returns the user's message text, empty when absent.
func (r *SkillRequest) Utterance() string {
	if r.UserRequest == nil {
		return ""
	}
	return r.UserRequest.Utterance
}

// SimpleText is a plain text output block.
type SimpleText struct {
	Text string `json:"text"`
}

// SkillOutput wraps a single output component.
type SkillOutput struct {
	SimpleText SimpleText `json:"simpleText"`
}

// SkillTemplate lists the outputs rendered to the user.
type SkillTemplate struct {
	Outputs []SkillOutput `json:"outputs"`
}

// SkillResponse is the webhook reply payload.
type SkillResponse struct {
	Version  string        `json:"version"`
	Template SkillTemplate `json:"template"`
}

// NewTextResponse builds a reply containing a single simpleText output.
func NewTextResponse(text string) SkillResponse {
	return SkillResponse{
		Version: SkillVersion,
		Template: SkillTemplate{
			Outputs: []SkillOutput{{SimpleText: SimpleText{Text: text}}},
		},
	}
}

// Text returns the first simpleText of the reply, or empty.
func (r SkillResponse) Text() string {
	if len(r.Template.Outputs) == 0 {
		return ""
	}
	return r.Template.Outputs[0].SimpleText.Text
}
