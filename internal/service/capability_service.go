package service

import (
	"context"

	"github.com/rs/zerolog"

	"fints-agent/internal/bank"
	"fints-agent/internal/domain"
)

// CapabilityService asks the bank what the current session supports.
type CapabilityService struct {
	logger zerolog.Logger
}

func NewCapabilityService(logger zerolog.Logger) *CapabilityService {
	return &CapabilityService{logger: logger}
}

// Discover never fails. When the bank cannot tell, the most conservative
// assumptions are returned: manual confirmation, no automatic VoP acceptance
// and default poll parameters.
func (s *CapabilityService) Discover(ctx context.Context, session bank.Session) domain.CapabilitySnapshot {
	caps, err := session.DiscoverCapabilities(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("capability discovery failed, using conservative defaults")
		return domain.ConservativeCapabilities()
	}

	s.logger.Debug().
		Bool("vop", caps.VoPSupported).
		Bool("decoupled", caps.DecoupledSupported).
		Int("tan_methods", len(caps.TANMethods)).
		Dur("min_poll_interval", caps.MinPollInterval).
		Dur("max_poll_interval", caps.MaxPollInterval).
		Msg("capabilities discovered")
	return caps
}
