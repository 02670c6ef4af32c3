package log

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

// UnaryServerInterceptor injects a per-call logger and logs the outcome of
// every unary RPC.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		child := rpcLogger(ctx, logger, info.FullMethod)

		resp, err := handler(WithLogger(ctx, child), req)

		logRPC(child, start, err, "unary call completed")
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
// Health watch streams go through here.
func StreamServerInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		child := rpcLogger(ss.Context(), logger, info.FullMethod)

		err := handler(srv, &wrappedStream{
			ServerStream: ss,
			ctx:          WithLogger(ss.Context(), child),
		})

		logRPC(child, start, err, "stream call completed")
		return err
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func rpcLogger(ctx context.Context, logger zerolog.Logger, method string) zerolog.Logger {
	return logger.With().
		Str(FieldRequestID, requestIDFromMD(ctx)).
		Str(FieldGRPCMethod, method).
		Logger()
}

func logRPC(l zerolog.Logger, start time.Time, err error, msg string) {
	l.Info().
		Str(FieldGRPCCode, status.Code(err).String()).
		Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
		Err(err).
		Msg(msg)
}

func requestIDFromMD(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKeyRequestID); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.New().String()
}
