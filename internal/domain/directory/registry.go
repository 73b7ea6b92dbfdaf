package directory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/realtime"
)

// Registry keeps the organization's online-staff list in sync with transport
// presence. A join or leave is treated as a signal to re-fetch the
// authoritative list from the store, never as the source of truth itself;
// that keeps ephemeral presence state from diverging from persisted profiles.
type Registry struct {
	svc    *Service
	hub    *realtime.Hub
	orgID  string
	logger zerolog.Logger

	channel  *realtime.Channel
	onChange func(users []*User)
}

// NewRegistry creates a Registry for one organization. onChange, if non-nil,
// receives the refreshed online list after every membership change.
func NewRegistry(svc *Service, hub *realtime.Hub, orgID string, onChange func([]*User), logger zerolog.Logger) *Registry {
	return &Registry{
		svc:      svc,
		hub:      hub,
		orgID:    orgID,
		onChange: onChange,
		logger:   logger,
	}
}

// Start subscribes to the organization's presence topic. Errors during
// refresh are logged and retried on the next presence event.
func (r *Registry) Start(ctx context.Context) {
	ch := r.hub.Channel(realtime.OrgTopic(r.orgID))
	ch.OnPresence(realtime.PresenceHandlers{
		Join: func(key string, _ realtime.PresenceMeta) {
			if err := r.svc.MarkOnline(ctx, key); err != nil {
				r.logger.Warn().Err(err).Str("user_id", key).Msg("directory: mark online")
			}
			r.refresh(ctx)
		},
		Leave: func(key string, _ realtime.PresenceMeta) {
			if err := r.svc.MarkOffline(ctx, key); err != nil {
				r.logger.Warn().Err(err).Str("user_id", key).Msg("directory: mark offline")
			}
			r.refresh(ctx)
		},
	})
	ch.Subscribe(nil)
	r.channel = ch
}

// Stop releases the presence subscription. Safe to call more than once.
func (r *Registry) Stop() {
	if r.channel != nil {
		r.hub.Remove(r.channel)
	}
}

// StartAll starts one Registry per known organization so presence events on
// every org topic fold into the store. Organizations created after startup
// need a restart to be picked up.
func StartAll(ctx context.Context, svc *Service, hub *realtime.Hub, logger zerolog.Logger) ([]*Registry, error) {
	orgIDs, err := svc.ListOrganizationIDs(ctx)
	if err != nil {
		return nil, err
	}

	registries := make([]*Registry, 0, len(orgIDs))
	for _, orgID := range orgIDs {
		r := NewRegistry(svc, hub, orgID, nil, logger)
		r.Start(ctx)
		registries = append(registries, r)
	}
	return registries, nil
}

func (r *Registry) refresh(ctx context.Context) {
	if r.onChange == nil {
		return
	}
	users, err := r.svc.ListOnlineUsers(ctx, r.orgID, "")
	if err != nil {
		r.logger.Warn().Err(err).Str("org_id", r.orgID).Msg("directory: presence refresh")
		return
	}
	r.onChange(users)
}
