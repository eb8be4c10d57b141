// Package query holds shared listing options for store queries.
package query

type Order int

const (
	OrderDesc Order = iota
	OrderAsc
)

type Option func(*Options)

func WithLimit(limit int) Option {
	return func(o *Options) {
		if limit > 0 {
			o.Limit = limit
		}
	}
}

// WithToken resumes a listing after the record carrying the given paging
// token.
func WithToken(token string) Option {
	return func(o *Options) {
		o.Token = token
	}
}

func WithOrder(order Order) Option {
	return func(o *Options) {
		o.Order = order
	}
}

func WithAscending() Option {
	return func(o *Options) {
		o.Order = OrderAsc
	}
}

func WithDescending() Option {
	return func(o *Options) {
		o.Order = OrderDesc
	}
}

type Options struct {
	Limit int
	Token string
	Order Order
}

func DefaultOptions() Options {
	return Options{
		Limit: 100,
		Order: OrderDesc,
	}
}

func ApplyOptions(options ...Option) Options {
	applied := DefaultOptions()
	for _, option := range options {
		option(&applied)
	}
	return applied
}
