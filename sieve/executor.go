package sieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	gosieve "github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/migadu/protonfusion/logger"
)

type Action string

const (
	ActionKeep     Action = "keep"
	ActionFileInto Action = "fileinto"
	ActionDiscard  Action = "discard"
)

// Result is the outcome of running a script against one message.
type Result struct {
	Action    Action
	Mailboxes []string // every fileinto target, in execution order
	Flags     []string
	Keep      bool // an explicit or implicit keep survived
}

// Context carries the message a script is evaluated against.
type Context struct {
	EnvelopeFrom string
	EnvelopeTo   string
	Header       map[string][]string
	Body         string
}

type Executor interface {
	Evaluate(evalCtx context.Context, ctx Context) (Result, error)
}

// Validate parses script with go-sieve. It reports syntax errors and use of
// extensions outside the enabled list; a nil list enables all extensions.
func Validate(script string, extensions []string) error {
	_, err := load(script, extensions)
	return err
}

func load(script string, extensions []string) (*gosieve.Script, error) {
	options := gosieve.DefaultOptions()
	options.EnabledExtensions = extensions
	s, err := gosieve.Load(strings.NewReader(script), options)
	if err != nil {
		return nil, fmt.Errorf("invalid sieve script: %w", err)
	}
	return s, nil
}

// SieveExecutor evaluates a loaded script locally. Redirects and vacation
// replies are never allowed: evaluation only reports where a message would
// be filed.
type SieveExecutor struct {
	script *gosieve.Script
}

func NewSieveExecutor(script string, extensions []string) (Executor, error) {
	s, err := load(script, extensions)
	if err != nil {
		return nil, err
	}
	return &SieveExecutor{script: s}, nil
}

func (e *SieveExecutor) Evaluate(evalCtx context.Context, ctx Context) (Result, error) {
	envelope := &SieveEnvelope{From: ctx.EnvelopeFrom, To: ctx.EnvelopeTo}
	message := &SieveMessage{Headers: ctx.Header, Size: len(ctx.Body)}

	data := gosieve.NewRuntimeData(e.script, &SievePolicy{}, envelope, message)
	if err := e.script.Execute(evalCtx, data); err != nil {
		return Result{Action: ActionKeep, Keep: true}, fmt.Errorf("executing sieve script: %w", err)
	}

	result := Result{
		Action: ActionKeep,
		Keep:   data.Keep || data.ImplicitKeep,
		Flags:  append([]string(nil), data.Flags...),
	}
	if len(data.Mailboxes) > 0 {
		result.Action = ActionFileInto
		result.Mailboxes = append([]string(nil), data.Mailboxes...)
	} else if !result.Keep {
		result.Action = ActionDiscard
	}

	logger.Debug("Sieve evaluation finished", "action", result.Action, "mailboxes", result.Mailboxes, "flags", result.Flags)
	return result, nil
}

// SievePolicy implements the interpreter policy for local evaluation.
type SievePolicy struct{}

func (p *SievePolicy) RedirectAllowed(ctx context.Context, d *interp.RuntimeData, addr string) (bool, error) {
	return false, nil
}

func (p *SievePolicy) VacationResponseAllowed(ctx context.Context, d *interp.RuntimeData,
	originalSender, handle string, duration time.Duration) (bool, error) {
	return false, nil
}

func (p *SievePolicy) SendVacationResponse(ctx context.Context, d *interp.RuntimeData,
	recipient, from, subject, body string, isMime bool) error {
	return nil
}

// SieveEnvelope implements the interpreter's envelope interface.
type SieveEnvelope struct {
	From string
	To   string
	Auth string
}

func (e *SieveEnvelope) EnvelopeFrom() string {
	return e.From
}

func (e *SieveEnvelope) EnvelopeTo() string {
	return e.To
}

func (e *SieveEnvelope) AuthUsername() string {
	return e.Auth
}

// SieveMessage implements the interpreter's message interface. Header
// lookups are case-insensitive.
type SieveMessage struct {
	Headers map[string][]string
	Size    int
}

func (m *SieveMessage) HeaderGet(key string) ([]string, error) {
	if v, ok := m.Headers[key]; ok {
		return v, nil
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, key) {
			return v, nil
		}
	}
	return nil, nil
}

func (m *SieveMessage) MessageSize() int {
	return m.Size
}
