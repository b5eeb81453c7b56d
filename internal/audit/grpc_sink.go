package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	complianceService = "papertrade.compliance.v1.AuditSink"
	recordMethod      = "/" + complianceService + "/Record"
)

// GRPCSink streams audit events to an external compliance collector. Events
// are queued and sent by a background worker; a full queue drops the event
// and counts it.
type GRPCSink struct {
	conn    *grpc.ClientConn
	queue   chan Event
	timeout time.Duration
	log     *zap.Logger

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool
	done   chan struct{}
}

// DialGRPCSink connects to addr. The connection is lazy; an unreachable
// collector only shows up as failed sends.
func DialGRPCSink(addr string, logger *zap.Logger, opts ...grpc.DialOption) (*GRPCSink, error) {
	if addr == "" {
		return nil, errors.New("compliance address is empty")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial compliance sink: %w", err)
	}
	s := &GRPCSink{
		conn:    conn,
		queue:   make(chan Event, 256),
		timeout: 2 * time.Second,
		log:     logger.Named("audit.grpc"),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Forward implements Sink. Events forwarded after Close are dropped.
func (s *GRPCSink) Forward(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *GRPCSink) run() {
	defer close(s.done)
	for e := range s.queue {
		if err := s.send(e); err != nil {
			s.failed.Add(1)
			s.log.Warn("compliance send failed", zap.String("audit_id", e.ID), zap.Error(err))
			continue
		}
		s.sent.Add(1)
	}
}

func (s *GRPCSink) send(e Event) error {
	payload, err := EventToStruct(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.conn.Invoke(ctx, recordMethod, payload, &emptypb.Empty{})
}

// Stats reports sent, failed and dropped counts.
func (s *GRPCSink) Stats() (sent, failed, dropped uint64) {
	return s.sent.Load(), s.failed.Load(), s.dropped.Load()
}

// Close drains the queue and releases the connection.
func (s *GRPCSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.conn.Close()
}

// EventToStruct converts an event to a protobuf Struct. Details go through a
// JSON round trip so any JSON-encodable value is accepted.
func EventToStruct(e Event) (*structpb.Struct, error) {
	details := map[string]any{}
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return nil, fmt.Errorf("encode details: %w", err)
		}
		if err := json.Unmarshal(raw, &details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	return structpb.NewStruct(map[string]any{
		"id":        e.ID,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"event":     e.Name,
		"userId":    e.UserID,
		"riskLevel": string(e.RiskLevel),
		"details":   details,
	})
}

// EventFromStruct is the inverse of EventToStruct.
func EventFromStruct(s *structpb.Struct) (Event, error) {
	m := s.AsMap()
	ts, err := time.Parse(time.RFC3339Nano, fmt.Sprint(m["timestamp"]))
	if err != nil {
		return Event{}, fmt.Errorf("parse timestamp: %w", err)
	}
	e := Event{
		ID:        fmt.Sprint(m["id"]),
		Timestamp: ts,
		Name:      fmt.Sprint(m["event"]),
		UserID:    fmt.Sprint(m["userId"]),
		RiskLevel: RiskLevel(fmt.Sprint(m["riskLevel"])),
	}
	if d, ok := m["details"].(map[string]any); ok && len(d) > 0 {
		e.Details = d
	}
	return e, nil
}

// RecordHandler consumes events received by a compliance collector.
type RecordHandler func(ctx context.Context, e Event) error

// RegisterComplianceService exposes a collector endpoint on srv that accepts
// what GRPCSink sends.
func RegisterComplianceService(srv *grpc.Server, handle RecordHandler) {
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: complianceService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Record",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				e, err := EventFromStruct(in)
				if err != nil {
					return nil, err
				}
				if err := handle(ctx, e); err != nil {
					return nil, err
				}
				return &emptypb.Empty{}, nil
			},
		}},
		Metadata: "papertrade/compliance.proto",
	}, struct{}{})
}
