package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/camdeck/core/internal/onvif"
)

// Result is a fully-probed discovery hit, ready to present to the caller
// for add_camera (SPEC_FULL §4.D). XAddr is empty when the host answered
// TCP/80 but not WS-Discovery; such hosts still carry Address so the RPC
// layer can offer a manual add.
type Result struct {
	Address  string
	XAddr    string
	ProfileS bool
	ProfileT bool
}

// Service runs discovery sweeps and reports devices that responded.
type Service struct {
	log *zap.Logger
}

func NewService(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log}
}

// Run performs one bounded sweep of the local /24 and returns every
// candidate found, in no particular order (Sweep collects hits in a map,
// so callers that need a stable display order should sort the result
// themselves).
func (s *Service) Run(ctx context.Context) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, SweepBound)
	defer cancel()

	local, err := LocalIPv4()
	if err != nil {
		return nil, err
	}

	candidates, err := Sweep(ctx, local)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		r := Result{Address: c.Address, ProfileS: c.ProfileS, ProfileT: c.ProfileT}
		if len(c.XAddrs) > 0 {
			r.XAddr = c.XAddrs[0]
		} else {
			r.XAddr = onvif.BuildXAddr(c.Address, 80)
		}
		out = append(out, r)
	}
	return out, nil
}
