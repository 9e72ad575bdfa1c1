package ws

// ConnContext carries the connection a handler is serving. Authoritative
// room and username state lives in the presence service; handlers compose
// every outbound event from its DTOs.
type ConnContext struct {
	Conn *clientConn
}

func (c *ConnContext) emit(event string, body any) {
	_ = c.Conn.emit(event, body)
}

func (c *ConnContext) emitError(message string) {
	_ = c.Conn.emit("error", ErrorBody{Message: message})
}
