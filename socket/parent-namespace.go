package socket

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/evsio/evsio/parser"
	"github.com/evsio/evsio/types"
)

var parentNamespaceId atomic.Uint64

// ParentNamespace is the anchor of a dynamic namespace matcher: the
// listeners and middlewares registered on it are inherited by every
// concrete namespace the matcher creates, and a broadcast on it fans
// out through all of them.
type ParentNamespace struct {
	*Namespace

	children types.Map[string, *Namespace]
}

func NewParentNamespace(server *Server) *ParentNamespace {
	pn := &ParentNamespace{
		Namespace: NewNamespace(server, fmt.Sprintf("/_%d", parentNamespaceId.Add(1))),
	}
	// broadcasts on the parent operate on the children, not on the
	// parent's own (always empty) room index
	pn.adapter = &parentAdapter{Adapter: pn.adapter, pn: pn}
	return pn
}

// CreateChild materializes the concrete namespace for an accepted name,
// inheriting the middlewares and connection listeners of the parent.
func (pn *ParentNamespace) CreateChild(name string) *Namespace {
	namespace_log.Debug("creating child namespace %s", name)
	nsp := NewNamespace(pn.server, name)

	pn.fnsMu.RLock()
	nsp.fns = append(nsp.fns, pn.fns...)
	pn.fnsMu.RUnlock()
	for _, listener := range pn.Listeners("connect") {
		nsp.On("connect", listener)
	}
	for _, listener := range pn.Listeners("connection") {
		nsp.On("connection", listener)
	}

	pn.children.Store(name, nsp)
	if pn.server.Opts().CleanupEmptyChildNamespaces() {
		nsp.cleanup = func() {
			if nsp.sockets.Len() == 0 {
				namespace_log.Debug("closing empty child namespace %s", name)
				nsp.adapter.Close()
				pn.server._nsps.Delete(name)
				pn.children.Delete(name)
			}
		}
	}

	pn.server._nsps.Store(name, nsp)
	pn.server.Sockets().EmitReserved("new_namespace", nsp)
	return nsp
}

// parentAdapter redirects every broadcast side operation to the child
// namespaces. For acknowledgement aggregation each child counts as one
// cooperating server.
type parentAdapter struct {
	Adapter

	pn *ParentNamespace
}

func (a *parentAdapter) ServerCount() int64 {
	return int64(a.pn.children.Len())
}

func (a *parentAdapter) Broadcast(packet *parser.Packet, opts *BroadcastOptions) {
	a.pn.children.Range(func(_ string, nsp *Namespace) bool {
		// each child stamps its own namespace on a copy
		child := *packet
		nsp.Adapter().Broadcast(&child, opts)
		return true
	})
}

func (a *parentAdapter) BroadcastWithAck(packet *parser.Packet, opts *BroadcastOptions, clientCountCallback func(uint64), ack Ack) {
	a.pn.children.Range(func(_ string, nsp *Namespace) bool {
		child := *packet
		nsp.Adapter().BroadcastWithAck(&child, opts, clientCountCallback, ack)
		return true
	})
}

func (a *parentAdapter) AddSockets(opts *BroadcastOptions, rooms []Room) {
	a.pn.children.Range(func(_ string, nsp *Namespace) bool {
		nsp.Adapter().AddSockets(opts, rooms)
		return true
	})
}

func (a *parentAdapter) DelSockets(opts *BroadcastOptions, rooms []Room) {
	a.pn.children.Range(func(_ string, nsp *Namespace) bool {
		nsp.Adapter().DelSockets(opts, rooms)
		return true
	})
}

func (a *parentAdapter) DisconnectSockets(opts *BroadcastOptions, status bool) {
	a.pn.children.Range(func(_ string, nsp *Namespace) bool {
		nsp.Adapter().DisconnectSockets(opts, status)
		return true
	})
}

func (a *parentAdapter) FetchSockets(*BroadcastOptions) func(func([]SocketDetails, error)) {
	return func(callback func([]SocketDetails, error)) {
		callback(nil, errors.New("FetchSockets() is not supported on a parent namespace"))
	}
}
