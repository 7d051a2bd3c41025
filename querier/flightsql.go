package querier

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/flight"
	flightgen "github.com/apache/arrow/go/v14/arrow/flight/gen/flight"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/gigapi/gigapi-ingestwatch/core"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// DefaultTicketTTL is how long an unredeemed ticket keeps its result
const DefaultTicketTTL = 5 * time.Minute

// FlightSQLServer answers FlightSQL statement queries against cached stores.
// The source is taken from the "source" request header, the scope from "scope".
type FlightSQLServer struct {
	flightgen.UnimplementedFlightServiceServer
	// TicketTTL bounds how long a result waits for its DoGet
	TicketTTL time.Duration

	cache  *Cache
	keyFor func(sourceID string) CacheKey
	mem    memory.Allocator
	now    func() time.Time

	resultsLock sync.Mutex
	results     map[string]pendingResult
}

type pendingResult struct {
	record  arrow.Record
	expires time.Time
}

// NewFlightSQLServer creates a new FlightSQL server instance
func NewFlightSQLServer(cache *Cache, keyFor func(sourceID string) CacheKey) *FlightSQLServer {
	return &FlightSQLServer{
		TicketTTL: DefaultTicketTTL,
		cache:     cache,
		keyFor:    keyFor,
		mem:       memory.DefaultAllocator,
		now:       time.Now,
		results:   make(map[string]pendingResult),
	}
}

// sweep releases results whose tickets expired. resultsLock must be held.
func (s *FlightSQLServer) sweep(now time.Time) {
	for id, p := range s.results {
		if !now.Before(p.expires) {
			p.record.Release()
			delete(s.results, id)
		}
	}
}

// Close releases every result still waiting for its ticket
func (s *FlightSQLServer) Close() {
	s.resultsLock.Lock()
	defer s.resultsLock.Unlock()
	for id, p := range s.results {
		p.record.Release()
		delete(s.results, id)
	}
}

// Handshake echoes every request payload
func (s *FlightSQLServer) Handshake(stream flight.FlightService_HandshakeServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := stream.Send(&flight.HandshakeResponse{Payload: req.Payload}); err != nil {
			return err
		}
	}
}

func headerValue(md metadata.MD, keys ...string) string {
	for _, k := range keys {
		if v := md.Get(k); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// GetFlightInfo executes a CommandStatementQuery and returns a ticket for its result
func (s *FlightSQLServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	ctx = core.WithDefaultLogger(ctx, "flightsql")
	if desc.Type != flight.DescriptorCMD {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported flight descriptor type: %v", desc.Type)
	}

	var cmdAny anypb.Any
	if err := proto.Unmarshal(desc.Cmd, &cmdAny); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to unmarshal command: %v", err)
	}
	var cmd flightgen.CommandStatementQuery
	if err := cmdAny.UnmarshalTo(&cmd); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported command %s", cmdAny.GetTypeUrl())
	}

	md, _ := metadata.FromIncomingContext(ctx)
	source := headerValue(md, "source", "database")
	if source == "" {
		return nil, status.Error(codes.InvalidArgument, "missing source header")
	}
	scope, ok := core.ParseScope(headerValue(md, "scope"))
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown scope %q", headerValue(md, "scope"))
	}

	store, err := s.cache.Get(ctx, s.keyFor(source))
	if err != nil {
		return nil, grpcError(err)
	}
	res, err := store.Run(ctx, scope, cmd.GetQuery())
	if err != nil {
		return nil, grpcError(err)
	}

	record := convertResultsToArrow(s.mem, res)
	ticketID := uuid.NewString()
	now := s.now()
	s.resultsLock.Lock()
	s.sweep(now)
	s.results[ticketID] = pendingResult{record: record, expires: now.Add(s.TicketTTL)}
	s.resultsLock.Unlock()

	core.Debugf(ctx, "Returning flight info with %d records for source %s", record.NumRows(), source)
	return &flight.FlightInfo{
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{
			{Ticket: &flight.Ticket{Ticket: []byte(ticketID)}},
		},
		Schema:       flight.SerializeSchema(record.Schema(), s.mem),
		TotalRecords: record.NumRows(),
		TotalBytes:   -1,
	}, nil
}

// DoGet streams the result a ticket refers to, once and before the ticket expires
func (s *FlightSQLServer) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	s.resultsLock.Lock()
	s.sweep(s.now())
	pending, ok := s.results[string(ticket.Ticket)]
	delete(s.results, string(ticket.Ticket))
	s.resultsLock.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "no results found for ticket: %s", string(ticket.Ticket))
	}
	record := pending.record
	defer record.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	return writer.Close()
}

func grpcError(err error) error {
	switch statusFor(err) {
	case 400:
		return status.Error(codes.InvalidArgument, err.Error())
	case 404:
		return status.Error(codes.NotFound, err.Error())
	case 422:
		return status.Error(codes.FailedPrecondition, err.Error())
	case 503:
		return status.Error(codes.Unavailable, err.Error())
	case 504:
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// inferColumnType picks the Arrow type of the first non-null value; all-null columns are strings
func inferColumnType(res *core.Result, col int) arrow.DataType {
	for _, row := range res.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case int, int32, int64:
			return arrow.PrimitiveTypes.Int64
		case float32, float64:
			return arrow.PrimitiveTypes.Float64
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case time.Time:
			return timestampType
		default:
			return arrow.BinaryTypes.String
		}
	}
	return arrow.BinaryTypes.String
}

// convertResultsToArrow converts a query result into one record batch, keeping column order
func convertResultsToArrow(mem memory.Allocator, res *core.Result) arrow.Record {
	fields := make([]arrow.Field, len(res.Columns))
	for i, name := range res.Columns {
		fields[i] = arrow.Field{Name: name, Type: inferColumnType(res, i), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i, field := range fields {
		fb := b.Field(i)
		for _, row := range res.Rows {
			appendValue(fb, field.Type, row[i])
		}
	}
	return b.NewRecord()
}

func appendValue(fb array.Builder, dt arrow.DataType, v interface{}) {
	if v == nil {
		fb.AppendNull()
		return
	}
	switch dt.ID() {
	case arrow.INT64:
		switch n := v.(type) {
		case int:
			fb.(*array.Int64Builder).Append(int64(n))
		case int32:
			fb.(*array.Int64Builder).Append(int64(n))
		case int64:
			fb.(*array.Int64Builder).Append(n)
		default:
			fb.AppendNull()
		}
	case arrow.FLOAT64:
		switch n := v.(type) {
		case float32:
			fb.(*array.Float64Builder).Append(float64(n))
		case float64:
			fb.(*array.Float64Builder).Append(n)
		default:
			fb.AppendNull()
		}
	case arrow.BOOL:
		if bv, ok := v.(bool); ok {
			fb.(*array.BooleanBuilder).Append(bv)
		} else {
			fb.AppendNull()
		}
	case arrow.TIMESTAMP:
		if t, ok := v.(time.Time); ok {
			fb.(*array.TimestampBuilder).Append(arrow.Timestamp(t.UTC().UnixMicro()))
		} else {
			fb.AppendNull()
		}
	default:
		fb.(*array.StringBuilder).Append(core.FormatValue(v))
	}
}

// NewGRPCServer returns a gRPC server exposing fs as the Flight service
func NewGRPCServer(fs *FlightSQLServer) *grpc.Server {
	s := grpc.NewServer()
	flightgen.RegisterFlightServiceServer(s, fs)
	reflection.Register(s)
	return s
}

// StartFlightSQLServer starts the FlightSQL server and blocks until it stops
func StartFlightSQLServer(port int, fs *FlightSQLServer) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return NewGRPCServer(fs).Serve(lis)
}
