package engine

import (
	"time"

	"github.com/evsio/evsio/types"
)

// ServerOptions configures the transport layer. All fields are optional;
// zero values fall back to the protocol defaults. Non-positive heartbeat
// intervals are invalid configuration and are ignored by the setters.
type ServerOptions struct {
	pingTimeout       *time.Duration
	pingInterval      *time.Duration
	upgradeTimeout    *time.Duration
	maxHttpBufferSize *int64
	allowUpgrades     *bool
	transports        *types.Set[string]
	httpCompression   *bool
}

func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{}
}

func (o *ServerOptions) SetPingTimeout(d time.Duration) *ServerOptions {
	if d > 0 {
		o.pingTimeout = &d
	}
	return o
}

func (o *ServerOptions) PingTimeout() time.Duration {
	if o.pingTimeout == nil {
		return 20_000 * time.Millisecond
	}
	return *o.pingTimeout
}

func (o *ServerOptions) SetPingInterval(d time.Duration) *ServerOptions {
	if d > 0 {
		o.pingInterval = &d
	}
	return o
}

func (o *ServerOptions) PingInterval() time.Duration {
	if o.pingInterval == nil {
		return 25_000 * time.Millisecond
	}
	return *o.pingInterval
}

func (o *ServerOptions) SetUpgradeTimeout(d time.Duration) *ServerOptions {
	if d > 0 {
		o.upgradeTimeout = &d
	}
	return o
}

func (o *ServerOptions) UpgradeTimeout() time.Duration {
	if o.upgradeTimeout == nil {
		return 10_000 * time.Millisecond
	}
	return *o.upgradeTimeout
}

func (o *ServerOptions) SetMaxHttpBufferSize(n int64) *ServerOptions {
	if n > 0 {
		o.maxHttpBufferSize = &n
	}
	return o
}

func (o *ServerOptions) MaxHttpBufferSize() int64 {
	if o.maxHttpBufferSize == nil {
		return 1_000_000
	}
	return *o.maxHttpBufferSize
}

func (o *ServerOptions) SetAllowUpgrades(allow bool) *ServerOptions {
	o.allowUpgrades = &allow
	return o
}

func (o *ServerOptions) AllowUpgrades() bool {
	if o.allowUpgrades == nil {
		return true
	}
	return *o.allowUpgrades
}

func (o *ServerOptions) SetTransports(transports *types.Set[string]) *ServerOptions {
	if transports != nil && transports.Len() > 0 {
		o.transports = transports
	}
	return o
}

func (o *ServerOptions) Transports() *types.Set[string] {
	if o.transports == nil {
		return types.NewSet("polling", "websocket", "webtransport")
	}
	return o.transports
}

func (o *ServerOptions) SetHttpCompression(enable bool) *ServerOptions {
	o.httpCompression = &enable
	return o
}

func (o *ServerOptions) HttpCompression() bool {
	if o.httpCompression == nil {
		return true
	}
	return *o.httpCompression
}

// Assign copies the set fields of other into o, returning o.
func (o *ServerOptions) Assign(other *ServerOptions) *ServerOptions {
	if other == nil {
		return o
	}
	if other.pingTimeout != nil {
		o.pingTimeout = other.pingTimeout
	}
	if other.pingInterval != nil {
		o.pingInterval = other.pingInterval
	}
	if other.upgradeTimeout != nil {
		o.upgradeTimeout = other.upgradeTimeout
	}
	if other.maxHttpBufferSize != nil {
		o.maxHttpBufferSize = other.maxHttpBufferSize
	}
	if other.allowUpgrades != nil {
		o.allowUpgrades = other.allowUpgrades
	}
	if other.transports != nil {
		o.transports = other.transports
	}
	if other.httpCompression != nil {
		o.httpCompression = other.httpCompression
	}
	return o
}
