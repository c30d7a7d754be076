// Package envelope defines the uniform result protocol every validation
// stage speaks. A stage never reports free-form output: it returns an
// Envelope whose ok flag, verdict code, markdown commentary and machine
// payload travel together, so callers branch on codes instead of parsing
// prose.
package envelope

// Envelope is the uniform stage result. OK is derived from Code at
// construction time and nowhere else; the two cannot disagree.
type Envelope struct {
	Tag        string         `json:"tag"`
	OK         bool           `json:"ok"`
	Code       Code           `json:"code"`
	MD         string         `json:"md"`
	Data       map[string]any `json:"data,omitempty"`
	NextAction string         `json:"next_action"`
	Next       []string       `json:"next"`
}

// Option customizes an Envelope under construction.
type Option func(*Envelope)

// WithMarkdown sets the human-readable commentary.
func WithMarkdown(md string) Option {
	return func(e *Envelope) { e.MD = md }
}

// WithData attaches the machine-readable payload.
func WithData(data map[string]any) Option {
	return func(e *Envelope) { e.Data = data }
}

// WithNextAction overrides the code's canonical follow-up token.
func WithNextAction(action string) Option {
	return func(e *Envelope) { e.NextAction = action }
}

// WithNext sets explicit follow-up steps. When absent, Next defaults to
// the single NextAction token.
func WithNext(next ...string) Option {
	return func(e *Envelope) { e.Next = next }
}

// New is the only way to build an Envelope. It derives OK from the code
// family, fills the canonical next action for the code, and defaults
// Next to [NextAction] when no explicit steps were supplied.
func New(tag string, code Code, opts ...Option) Envelope {
	e := Envelope{
		Tag:        tag,
		OK:         code.IsSuccess(),
		Code:       code,
		NextAction: defaultNextAction[code],
	}
	for _, opt := range opts {
		opt(&e)
	}
	if len(e.Next) == 0 && e.NextAction != "" {
		e.Next = []string{e.NextAction}
	}
	return e
}

// Blocking reports whether the envelope halts forward progress: either a
// rejection or a clarification request.
func (e Envelope) Blocking() bool { return !e.OK }

// AwaitsInput reports whether the caller must supply more input before
// the stage can pass.
func (e Envelope) AwaitsInput() bool { return e.Code.IsClarification() }
