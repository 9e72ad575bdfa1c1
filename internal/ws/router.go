package ws

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

var errUnknownEvent = errors.New("unknown event")
var errInvalidPayload = errors.New("invalid payload")

var validate = validator.New()

// internal (untyped) handler signature.
type rawHandler func(c *ConnContext, body json.RawMessage) error

// Router keeps a map[event]handler, à-la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds an event to a strongly-typed handler. Struct requests are
// run through the validator before the handler sees them.
func Register[Req any](
	r *Router,
	event string,
	h func(c *ConnContext, req Req) error,
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(c *ConnContext, body json.RawMessage) error {
		var req Req
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return errInvalidPayload
			}
		}
		if reflect.ValueOf(&req).Elem().Kind() == reflect.Struct {
			if err := validate.Struct(&req); err != nil {
				return errInvalidPayload
			}
		}
		return h(c, req)
	}
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(c *ConnContext, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return errUnknownEvent
	}
	return h(c, env.Body)
}
