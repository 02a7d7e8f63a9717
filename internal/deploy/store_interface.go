package deploy

import "log/slog"

// DeployStore defines the interface for deployment storage (both in-memory and persistent).
// AppendLog and SetStatus silently ignore unknown ids. Finish sets a terminal
// status and appends the closing line atomically, so no reader sees one
// without the other; it reports false when the id is unknown or the status
// is already terminal.
type DeployStore interface {
	Create(botID string, config map[string]any) (*Deployment, error)
	Get(id string) (*Deployment, error)
	AppendLog(id, message string)
	SetStatus(id string, status Status)
	Finish(id string, status Status, message string) bool
	List() ([]*Deployment, error)
}

type options struct {
	listeners []Listener
	logger    *slog.Logger
}

type Option func(*options)

func WithListener(l Listener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) notify(updates ...Update) {
	for _, u := range updates {
		for _, l := range o.listeners {
			l(u)
		}
	}
}
