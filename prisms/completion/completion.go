// Package completion provides the ai:completion prism, which answers prompts
// with a language model.
//
// "complete" returns {"text", "finish_reason", "usage"}; "stream" sends one
// photon per text delta as the model produces it.
package completion

import (
	_ "embed"
	"strings"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/model"
	"github.com/hupe1980/prismmesh/multiplexer"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

// ID is the unit identifier of the completion prism.
const ID = "ai:completion"

//go:embed spectrum.yaml
var document []byte

// Spectrum returns the embedded spectrum of the completion prism.
func Spectrum() spectrum.Source { return spectrum.FromBytes(document) }

// Input is the payload of both frequencies. Prompt is appended to Messages
// as a final user message.
type Input struct {
	Prompt    string          `json:"prompt,omitempty"`
	System    string          `json:"system,omitempty"`
	Messages  []model.Message `json:"messages,omitempty"`
	MaxTokens int64           `json:"max_tokens,omitempty"`
}

// Output is the result of "complete".
type Output struct {
	Text         string            `json:"text"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Usage        *model.TokenUsage `json:"usage,omitempty"`
	Model        string            `json:"model"`
}

// Handler answers prompts with a model.
type Handler struct {
	unit.BaseHandler
	model model.Model
}

// NewHandler creates a handler backed by m.
func NewHandler(m model.Model) *Handler {
	return &Handler{model: m}
}

// Factory returns a unit.Factory sharing m between instances.
func Factory(m model.Model) unit.Factory {
	return func() (unit.Handler, error) {
		if m == nil {
			return nil, core.Errorf(core.KindOther, "completion: no model configured")
		}
		return NewHandler(m), nil
	}
}

// Register adds the completion prism backed by m to reg.
func Register(reg *multiplexer.Registry, m model.Model) error {
	return reg.Register(ID, Spectrum(), Factory(m))
}

// HandlePulse implements unit.Handler.
func (h *Handler) HandlePulse(pc *unit.PulseContext) (unit.Outcome, error) {
	switch pc.Frequency() {
	case "complete":
		return unit.Handled, h.complete(pc)
	case "stream":
		return unit.Handled, h.stream(pc)
	default:
		return unit.Ignored, nil
	}
}

func (h *Handler) request(pc *unit.PulseContext, stream bool) (model.Request, error) {
	var in Input
	if err := pc.Bind(&in); err != nil {
		return model.Request{}, err
	}

	msgs := append([]model.Message(nil), in.Messages...)
	if p := strings.TrimSpace(in.Prompt); p != "" {
		msgs = append(msgs, model.Message{Role: model.RoleUser, Text: in.Prompt})
	}
	if len(msgs) == 0 {
		return model.Request{}, core.Errorf(core.KindValidation, "prompt or messages required")
	}
	return model.Request{
		System:    in.System,
		Messages:  msgs,
		Stream:    stream,
		MaxTokens: in.MaxTokens,
	}, nil
}

func (h *Handler) complete(pc *unit.PulseContext) error {
	req, err := h.request(pc, false)
	if err != nil {
		return err
	}

	resp, err := model.Complete(pc.Context, h.model, req)
	if err != nil {
		return err
	}
	return pc.Respond(Output{
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Model:        h.model.Info().Name,
	})
}

func (h *Handler) stream(pc *unit.PulseContext) error {
	req, err := h.request(pc, true)
	if err != nil {
		return err
	}

	out, errCh := h.model.Generate(pc.Context, req)
	sent := 0
	var final *model.Response
	for r := range out {
		if !r.Partial {
			final = &r
			continue
		}
		if r.Text == "" {
			continue
		}
		if err := pc.Photon(r.Text); err != nil {
			// drain so the generator goroutine can exit
			for range out {
			}
			return err
		}
		sent++
	}
	if err := <-errCh; err != nil {
		return err
	}

	// backends that do not stream still produce the full text once
	if sent == 0 && final != nil && final.Text != "" {
		return pc.Photon(final.Text)
	}
	return nil
}
