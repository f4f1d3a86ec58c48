package config

import (
	"fmt"

	"github.com/shaiso/Courier/internal/backend"
)

// BackendDeps — зависимости, которые нужны hybrid-backend'ам.
type BackendDeps struct {
	Slots  backend.Slots
	Leaser backend.Leaser
	Stats  backend.Stats
}

// BuildRegistry создаёт backend'ы из конфигурации и регистрирует их.
// Hybrid-backend'ы создаются после конкретных, на которые ссылаются.
func BuildRegistry(cfgs []BackendConfig, deps BackendDeps) (*backend.Registry, error) {
	reg := backend.NewRegistry()

	var hybrids []BackendConfig
	for _, bc := range cfgs {
		if bc.Kind == backend.KindHybrid {
			hybrids = append(hybrids, bc)
			continue
		}

		b, err := buildConcrete(bc)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(b); err != nil {
			return nil, err
		}
	}

	for _, hc := range hybrids {
		candidates := make([]backend.Backend, 0, len(hc.Candidates))
		for _, name := range hc.Candidates {
			b, err := reg.Get(name)
			if err != nil {
				return nil, fmt.Errorf("hybrid %s: %w", hc.Name, err)
			}
			candidates = append(candidates, b)
		}

		h, err := backend.NewHybrid(backend.HybridConfig{
			Descriptor: hc.Descriptor,
			Candidates: candidates,
			Slots:      deps.Slots,
			Leaser:     deps.Leaser,
			Stats:      deps.Stats,
		})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(h); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func buildConcrete(bc BackendConfig) (backend.Backend, error) {
	switch bc.Kind {
	case backend.KindAPI:
		return backend.NewAPI(backend.APIConfig{
			Descriptor: bc.Descriptor,
			Endpoint:   bc.Endpoint,
			Timeout:    bc.Timeout,
		})
	case backend.KindCloud:
		return backend.NewCloud(backend.CloudConfig{
			Descriptor:   bc.Descriptor,
			Endpoint:     bc.Endpoint,
			PollInterval: bc.PollInterval,
			Timeout:      bc.Timeout,
		})
	case backend.KindBrowser:
		return backend.NewBrowser(backend.BrowserConfig{
			Descriptor: bc.Descriptor,
			Driver:     backend.NewRemoteDriver(bc.Endpoint, bc.Timeout),
		})
	default:
		return nil, fmt.Errorf("%w: backend %s: unknown kind %q", backend.ErrInvalidDescriptor, bc.Name, bc.Kind)
	}
}
