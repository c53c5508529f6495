// Package natsapi answers position queries over NATS request/reply.
package natsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/paulmach/orb"

	"starlink_history/internal/geo"
	"starlink_history/internal/query"
	"starlink_history/internal/timewindow"
)

// Subjects and queue group served by the service.
const (
	SubjectLastPosition = "starlink.query.last_position"
	SubjectClosest      = "starlink.query.closest"
	QueueGroup          = "starlink-query"
)

// Error codes carried in ErrorReply.
const (
	CodeInvalidDateFormat = "invalid_date_format"
	CodeInvalidDateRange  = "invalid_date_range"
	CodeNotFound          = "not_found"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

// Querier answers position queries.
type Querier interface {
	LastPosition(ctx context.Context, satelliteID string, b timewindow.Bounds) (*query.Position, error)
	ClosestSatellite(ctx context.Context, point orb.Point, b timewindow.Bounds) (*query.ClosestMatch, error)
}

// LastPositionRequest is the body of a last-position request.
type LastPositionRequest struct {
	SatelliteID    string  `json:"satellite_id"`
	DateLowerBound *string `json:"date_lower_bound,omitempty"`
	DateUpperBound *string `json:"date_upper_bound,omitempty"`
}

// ClosestRequest is the body of a closest-satellite request.
type ClosestRequest struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	DateLowerBound *string  `json:"date_lower_bound,omitempty"`
	DateUpperBound *string  `json:"date_upper_bound,omitempty"`
}

// PositionReply answers a last-position request.
type PositionReply struct {
	SatelliteID string   `json:"satellite_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// ClosestReply answers a closest-satellite request.
type ClosestReply struct {
	SatelliteID string  `json:"satellite_id"`
	DistanceKm  float64 `json:"distance_km"`
}

// ErrorReply is sent instead of a result when a request fails.
type ErrorReply struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Service binds a Querier to NATS subjects.
type Service struct {
	engine  Querier
	timeout time.Duration
	logger  *slog.Logger
	subs    []*nats.Subscription
}

// NewService creates a service. timeout bounds each request; zero means 10s.
func NewService(engine Querier, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, timeout: timeout, logger: logger}
}

// Start subscribes to the query subjects in the service queue group.
func (s *Service) Start(nc *nats.Conn) error {
	handlers := map[string]func(context.Context, []byte) []byte{
		SubjectLastPosition: s.HandleLastPosition,
		SubjectClosest:      s.HandleClosest,
	}

	for subject, h := range handlers {
		sub, err := nc.QueueSubscribe(subject, QueueGroup, s.respond(h))
		if err != nil {
			_ = s.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("nats responder listening", "subject", subject, "queue", QueueGroup)
	}
	return nc.Flush()
}

// Stop drains every subscription.
func (s *Service) Stop() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Service) respond(h func(context.Context, []byte) []byte) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := msg.Respond(h(ctx, msg.Data)); err != nil {
			s.logger.Warn("nats respond failed", "subject", msg.Subject, "error", err)
		}
	}
}

// HandleLastPosition decodes a LastPositionRequest and returns the encoded reply.
func (s *Service) HandleLastPosition(ctx context.Context, data []byte) []byte {
	var req LastPositionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeError(CodeBadRequest, "invalid JSON: "+err.Error())
	}
	if req.SatelliteID == "" {
		return encodeError(CodeBadRequest, "satellite_id is required")
	}

	pos, err := s.engine.LastPosition(ctx, req.SatelliteID, timewindow.Bounds{
		Lower: req.DateLowerBound,
		Upper: req.DateUpperBound,
	})
	if err != nil {
		return s.queryError(ctx, err)
	}
	if pos == nil {
		return encodeError(CodeNotFound, "no data found for satellite within the specified date range")
	}

	return encode(PositionReply{
		SatelliteID: req.SatelliteID,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
	})
}

// HandleClosest decodes a ClosestRequest and returns the encoded reply.
func (s *Service) HandleClosest(ctx context.Context, data []byte) []byte {
	var req ClosestRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeError(CodeBadRequest, "invalid JSON: "+err.Error())
	}
	if req.Latitude == nil || req.Longitude == nil {
		return encodeError(CodeBadRequest, "latitude and longitude are required")
	}

	match, err := s.engine.ClosestSatellite(ctx, geo.NewPoint(*req.Latitude, *req.Longitude), timewindow.Bounds{
		Lower: req.DateLowerBound,
		Upper: req.DateUpperBound,
	})
	if err != nil {
		return s.queryError(ctx, err)
	}
	if match == nil {
		return encodeError(CodeNotFound, "no satellite positions found within the specified date range")
	}

	return encode(ClosestReply{SatelliteID: match.SatelliteID, DistanceKm: match.DistanceKm})
}

func (s *Service) queryError(ctx context.Context, err error) []byte {
	if !query.IsInvalidInput(err) {
		s.logger.ErrorContext(ctx, "query failed", "error", err)
		return encodeError(CodeInternal, "internal error")
	}
	if errors.Is(err, timewindow.ErrInvalidDateFormat) {
		return encodeError(CodeInvalidDateFormat, err.Error())
	}
	return encodeError(CodeInvalidDateRange, err.Error())
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return encodeError(CodeInternal, err.Error())
	}
	return b
}

func encodeError(code, message string) []byte {
	b, _ := json.Marshal(ErrorReply{Error: message, Code: code})
	return b
}
