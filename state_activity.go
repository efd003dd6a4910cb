package syncstate

import "github.com/goliatone/go-syncstate/pkg/activity"

// WithActivityHooks attaches activity hooks notified after successful Load
// and Store calls. Emission is enabled unless WithActivityConfig says
// otherwise. Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := hooks.Clone()
	return func(cfg *stateConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityConfig overrides the emitter configuration.
func WithActivityConfig(config activity.Config) Option {
	return func(cfg *stateConfig) {
		cfg.activityConfig = &config
	}
}

// WithActivityActor sets the actor and tenant recorded on emitted events.
func WithActivityActor(actorID, tenantID string) Option {
	return func(cfg *stateConfig) {
		cfg.actorID = actorID
		cfg.tenantID = tenantID
	}
}

// ActivityHooks returns a copy of the hooks configured on the state.
func (s *State) ActivityHooks() activity.Hooks {
	if s == nil {
		return nil
	}
	return s.cfg.activityHooks.Clone()
}

func (cfg stateConfig) emitter() *activity.Emitter {
	config := activity.Config{Enabled: len(cfg.activityHooks) > 0}
	if cfg.activityConfig != nil {
		config = *cfg.activityConfig
	}
	if config.ActorID == "" {
		config.ActorID = cfg.actorID
	}
	if config.TenantID == "" {
		config.TenantID = cfg.tenantID
	}
	return activity.NewEmitter(cfg.activityHooks, config)
}
