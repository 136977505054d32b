package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/metrics"
)

// HandlerFunc processes one inbound client event. Returning an error sends
// a classified error frame to the acting connection only.
type HandlerFunc func(ctx context.Context, s *Session, payload map[string]interface{}) error

// Router maps event names to handlers and owns the dispatch boundary:
// panics are recovered here so one bad payload never kills the read pump.
type Router struct {
	handlers map[string]HandlerFunc
	log      *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		log:      log.With(zap.String("module", "router")),
	}
}

// Handle registers a handler for an event name.
func (r *Router) Handle(event string, fn HandlerFunc) {
	r.handlers[event] = fn
}

// Events lists the registered event names.
func (r *Router) Events() []string {
	events := make([]string, 0, len(r.handlers))
	for e := range r.handlers {
		events = append(events, e)
	}
	return events
}

// Dispatch runs the handler for one inbound frame.
func (r *Router) Dispatch(ctx context.Context, s *Session, f Frame) {
	metrics.EventsReceived.WithLabelValues(f.Event).Inc()

	fn, ok := r.handlers[f.Event]
	if !ok {
		r.log.Debug("unknown event",
			zap.String("event", f.Event),
			zap.String("user_id", s.Identity.ID))
		r.fail(s, f.Event, Validation("unknown event %q", f.Event))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerPanics.Inc()
			r.log.Error("handler panic",
				zap.String("event", f.Event),
				zap.String("user_id", s.Identity.ID),
				zap.Any("panic", rec))
			r.fail(s, f.Event, &Error{Kind: KindInternal, Message: "internal error"})
		}
	}()

	if err := fn(ctx, s, f.Payload); err != nil {
		ge := Classify(err)
		metrics.HandlerErrors.WithLabelValues(string(ge.Kind)).Inc()
		if ge.Kind == KindInternal {
			r.log.Error("handler failed",
				zap.String("event", f.Event),
				zap.String("user_id", s.Identity.ID),
				zap.Error(err))
		}
		r.fail(s, f.Event, ge)
	}
}

// fail reports a handler error to the acting connection only.
func (r *Router) fail(s *Session, event string, ge *Error) {
	s.Emit("error", map[string]interface{}{
		"event":   event,
		"code":    string(ge.Kind),
		"message": ge.Message,
	})
}
