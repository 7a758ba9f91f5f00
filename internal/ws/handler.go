package ws

// Handler receives connection lifecycle and packet callbacks. All three
// methods run on the worker goroutine, never under a client lock, so they may
// call SendPacket or Stop (but not Join).
type Handler interface {
	OnConnected()
	OnDisconnected()
	// OnPacket handles one decoded message. A non-nil error (or a panic) is
	// reported with KindCallback and the connection is dropped and retried.
	OnPacket(p Packet) error
}

// ErrorHandler is implemented by handlers that route failures themselves.
// Handlers without it get the client's ReportSink.
type ErrorHandler interface {
	OnError(err *Error)
}

// BaseHandler provides no-op callbacks for embedding
type BaseHandler struct{}

func (BaseHandler) OnConnected()          {}
func (BaseHandler) OnDisconnected()       {}
func (BaseHandler) OnPacket(Packet) error { return nil }

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops,
// and a nil Error falls back to the client's ReportSink.
type HandlerFuncs struct {
	Connected    func()
	Disconnected func()
	Packet       func(p Packet) error
	Error        func(err *Error)
}

func (h HandlerFuncs) OnConnected() {
	if h.Connected != nil {
		h.Connected()
	}
}

func (h HandlerFuncs) OnDisconnected() {
	if h.Disconnected != nil {
		h.Disconnected()
	}
}

func (h HandlerFuncs) OnPacket(p Packet) error {
	if h.Packet != nil {
		return h.Packet(p)
	}
	return nil
}

func (h HandlerFuncs) OnError(err *Error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h HandlerFuncs) routesErrors() bool { return h.Error != nil }

// Observer receives counters for metrics. Implementations must be cheap and
// safe for concurrent use.
type Observer interface {
	ObserveConnect(host string)
	ObserveDisconnect(host string)
	ObserveReceive(host string, bytes int)
	ObserveSend(host string, bytes int)
	ObservePing(host string, err error)
	ObserveError(host string, kind Kind)
}

type nopObserver struct{}

func (nopObserver) ObserveConnect(string)      {}
func (nopObserver) ObserveDisconnect(string)   {}
func (nopObserver) ObserveReceive(string, int) {}
func (nopObserver) ObserveSend(string, int)    {}
func (nopObserver) ObservePing(string, error)  {}
func (nopObserver) ObserveError(string, Kind)  {}
