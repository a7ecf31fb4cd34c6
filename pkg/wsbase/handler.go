package wsbase

// Handler receives connection lifecycle callbacks. All methods run on the goroutine driving
// Server.Run or Server.Wait and may call back into the Server synchronously.
// A returned error (or a panic) is reported and never stops the server.
type Handler interface {
	// OnConnect runs after the connection is registered, Send and SetValue already work.
	OnConnect(s *Server, id ConnID) error
	OnMessage(s *Server, id ConnID, data []byte) error
	// OnDisconnect runs before the connection state is dropped, values are still readable.
	OnDisconnect(s *Server, id ConnID) error
	// OnError may be called for connections that never reached OnConnect.
	OnError(s *Server, id ConnID, msg string) error
}

// HandlerFuncs adapts plain functions to Handler, nil fields are no-ops.
type HandlerFuncs struct {
	Connect    func(s *Server, id ConnID) error
	Message    func(s *Server, id ConnID, data []byte) error
	Disconnect func(s *Server, id ConnID) error
	Error      func(s *Server, id ConnID, msg string) error
}

func (h HandlerFuncs) OnConnect(s *Server, id ConnID) error {
	if h.Connect == nil {
		return nil
	}
	return h.Connect(s, id)
}

func (h HandlerFuncs) OnMessage(s *Server, id ConnID, data []byte) error {
	if h.Message == nil {
		return nil
	}
	return h.Message(s, id, data)
}

func (h HandlerFuncs) OnDisconnect(s *Server, id ConnID) error {
	if h.Disconnect == nil {
		return nil
	}
	return h.Disconnect(s, id)
}

func (h HandlerFuncs) OnError(s *Server, id ConnID, msg string) error {
	if h.Error == nil {
		return nil
	}
	return h.Error(s, id, msg)
}
