package wsbase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e-zhydzetski/go-wsbase/pkg/xwebsocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *Server) dispatch(ctx context.Context, ev Event) {
	_, span := s.tracer.Start(ctx, "wsbase."+ev.Kind.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Int64("ws.conn_id", int64(ev.Conn))),
	)
	defer span.End()

	switch ev.Kind {
	case xwebsocket.EventConnect:
		s.connect(span, ev.Conn)
	case xwebsocket.EventMessage:
		s.message(span, ev.Conn, ev.Data)
	case xwebsocket.EventDisconnect:
		s.disconnect(span, ev.Conn)
	case xwebsocket.EventError:
		span.SetAttributes(attribute.String("ws.error", ev.Err))
		if _, ok := s.reg.get(ev.Conn); !ok {
			s.report(reportUnknownError, slog.LevelWarn, ev.Conn, fmt.Errorf("error %q for %d: %w", ev.Err, ev.Conn, ErrConnNotFound))
		}
		s.invoke(span, "OnError", ev.Conn, func() error {
			return s.handler.OnError(s, ev.Conn, ev.Err)
		})
	case xwebsocket.EventWritable:
		s.drain(ev.Conn)
	default:
		s.log.Warn("unknown event", "kind", ev.Kind, "conn", ev.Conn)
	}
}

func (s *Server) connect(span trace.Span, id ConnID) {
	if err := s.reg.insert(id, s.now()); err != nil {
		span.SetStatus(codes.Error, "duplicate connect")
		s.report(reportDuplicateConnect, slog.LevelWarn, id, err)
		return
	}
	s.metrics.connectsTotal.Inc()
	s.metrics.connections.Set(float64(s.reg.count()))
	s.invoke(span, "OnConnect", id, func() error {
		return s.handler.OnConnect(s, id)
	})
}

func (s *Server) message(span trace.Span, id ConnID, data []byte) {
	if _, ok := s.reg.get(id); !ok {
		span.SetStatus(codes.Error, "unknown connection")
		s.report(reportUnknownMessage, slog.LevelWarn, id, fmt.Errorf("message for %d: %w", id, ErrConnNotFound))
		return
	}
	s.metrics.receivedTotal.Inc()
	s.invoke(span, "OnMessage", id, func() error {
		return s.handler.OnMessage(s, id, data)
	})
}

// disconnect runs the hook while the record still exists and removes it afterwards,
// whatever the hook did.
func (s *Server) disconnect(span trace.Span, id ConnID) {
	if _, ok := s.reg.get(id); !ok {
		span.SetStatus(codes.Error, "unknown connection")
		s.report(reportUnknownDisconnect, slog.LevelWarn, id, fmt.Errorf("disconnect of %d: %w", id, ErrConnNotFound))
		return
	}
	s.invoke(span, "OnDisconnect", id, func() error {
		return s.handler.OnDisconnect(s, id)
	})
	_ = s.reg.remove(id) // presence checked above, the hook cannot remove records
	s.metrics.disconnectsTotal.Inc()
	s.metrics.connections.Set(float64(s.reg.count()))
}

// purge disconnects every record left after the transport is gone.
func (s *Server) purge(ctx context.Context) {
	for _, id := range s.reg.snapshot() {
		s.dispatch(ctx, Event{Kind: xwebsocket.EventDisconnect, Conn: id})
	}
}

func (s *Server) invoke(span trace.Span, hook string, id ConnID, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}
	err = fmt.Errorf("%w: %s of %d: %w", ErrHookFailed, hook, id, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, hook+" failed")
	s.metrics.hookFailures.WithLabelValues(hook).Inc()
	s.report(reportHookFailed, slog.LevelError, id, err)
}
