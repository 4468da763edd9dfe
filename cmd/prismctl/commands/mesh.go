package commands

import (
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/prismmesh"
	"github.com/hupe1980/prismmesh/logging"
	"github.com/hupe1980/prismmesh/model"
	"github.com/hupe1980/prismmesh/model/anthropic"
	"github.com/hupe1980/prismmesh/model/openai"
	"github.com/hupe1980/prismmesh/prisms/completion"
	"github.com/hupe1980/prismmesh/prisms/echo"
	"github.com/hupe1980/prismmesh/prisms/fetch"
	"github.com/hupe1980/prismmesh/prisms/relay"
	"github.com/hupe1980/prismmesh/spectrum"
	"github.com/hupe1980/prismmesh/unit"
)

func (a *app) logger(w io.Writer) *logging.MeshLogger {
	return a.cfg.Logger(w)
}

// newMesh builds a mesh with the bundled prisms and the documents of the
// spectrum directory registered.
func (a *app) newMesh(logger *logging.MeshLogger) (*prismmesh.PrismMesh, error) {
	m := prismmesh.New(func(o *prismmesh.Options) {
		a.cfg.Multiplexer(&o.Options)
		o.MaxConcurrentInvocations = a.cfg.MaxInvocations
		o.Logger = logger.WithComponent("multiplexer")
	})
	reg := m.Registry()

	if err := echo.Register(reg); err != nil {
		return nil, err
	}
	if err := fetch.Register(reg); err != nil {
		return nil, err
	}
	if err := relay.Register(reg); err != nil {
		return nil, err
	}

	if mdl := a.completionModel(); mdl != nil {
		if err := completion.Register(reg, mdl); err != nil {
			return nil, err
		}
	}

	if dir := a.cfg.SpectrumDir; dir != "" {
		catalog, err := spectrum.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		factories := make(map[string]unit.Factory, len(catalog.IDs()))
		for _, id := range catalog.IDs() {
			factories[id] = relay.New
		}
		if err := reg.RegisterCatalog(catalog, factories); err != nil {
			return nil, err
		}
		logger.Debug("Registered spectrum directory", "dir", dir, "units", catalog.IDs())
	}
	return m, nil
}

// completionModel returns the backend of ai:completion, or nil when no
// provider is configured. API keys are read by the SDKs from
// OPENAI_API_KEY and ANTHROPIC_API_KEY.
func (a *app) completionModel() model.Model {
	name := a.cfg.Model
	switch a.cfg.ModelProvider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
		})
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = sdk.Model(name)
			}
		})
	case "mock":
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, "mock")
	default:
		return nil
	}
}
