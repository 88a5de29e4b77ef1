package engine

// Callback is a webhook notified of job lifecycle events.
type Callback struct {
	URL    string   `json:"url"`
	Key    string   `json:"key,omitempty"`    // HMAC signing key
	Events []string `json:"events,omitempty"` // empty = all events
}

type invokeOptions struct {
	callback *Callback
	meta     Metadata
}

// InvokeOption customises a single invocation.
type InvokeOption func(*invokeOptions)

// WithCallback registers a lifecycle webhook for the new job.
func WithCallback(cb Callback) InvokeOption {
	return func(o *invokeOptions) {
		if cb.URL != "" {
			o.callback = &cb
		}
	}
}

// WithMetadata supplies metadata for a literal "adapter:operation"
// reference, in place of the bare reference.
func WithMetadata(meta Metadata) InvokeOption {
	return func(o *invokeOptions) {
		o.meta = meta
	}
}
