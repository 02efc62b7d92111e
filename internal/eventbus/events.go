package eventbus

import "time"

// CallCompleted is published after a successful asynchronous
// dispatch. Value is omitted deliberately: the subscriber gets
// (language, function, timing) for telemetry, not the returned
// *types.Value, which would require the consumer to take ownership of
// memory it didn't request. A caller that wants the value uses the
// synchronous CallFunction path instead.
type CallCompleted struct {
	CallID   string
	Language string
	Function string
	CacheHit bool
	Duration time.Duration
}

// CallFailed is published after a failed asynchronous dispatch.
type CallFailed struct {
	CallID   string
	Language string
	Function string
	Err      error
}

// BridgeRegistered is published once a language bridge has completed
// RegisterBridge successfully.
type BridgeRegistered struct {
	Language string
}

// ConfigChanged republishes a configuration store's own change
// notification on the bus, so a subscriber can watch for config
// updates without holding a reference to the Context's config.Store.
type ConfigChanged struct {
	Section string
	Key     string
}
