package logger

import (
	"context"
	"io"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/wolfeidau/fleetprov/internal/http"
)

// Setup builds the process logger writing to stderr and installs it as the
// global logger used by library packages.
func Setup(dev bool) zerolog.Logger {
	logger := New(os.Stderr, dev)
	log.Logger = logger
	return logger
}

// New builds a JSON logger, or a console logger with debug level in dev mode.
func New(w io.Writer, dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ connect.Interceptor = (*ConnectRequests)(nil)

// ConnectRequests logs every RPC with its procedure, outcome and duration.
type ConnectRequests struct {
	logger zerolog.Logger
}

func NewConnectRequests(logger zerolog.Logger) *ConnectRequests {
	return &ConnectRequests{logger: logger}
}

func (c *ConnectRequests) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return connect.UnaryFunc(func(
		ctx context.Context,
		req connect.AnyRequest,
	) (connect.AnyResponse, error) {
		started := time.Now()

		fields := c.logger.With().
			Str("procedure", req.Spec().Procedure).
			Str("protocol", req.Peer().Protocol).
			Str("addr", req.Peer().Addr)
		if ip := httpmiddleware.ClientIPFromContext(ctx); ip != "" {
			fields = fields.Str("client_ip", ip)
		}
		ctx = fields.Logger().WithContext(ctx)

		resp, err := next(ctx, req)

		if err != nil {
			zerolog.Ctx(ctx).Error().
				Err(err).
				Stringer("code", connect.CodeOf(err)).
				Dur("duration", time.Since(started)).
				Msg("rpc call")

			return resp, err
		}

		zerolog.Ctx(ctx).Info().
			Dur("duration", time.Since(started)).
			Msg("rpc call")

		return resp, err
	})
}

func (c *ConnectRequests) WrapStreamingClient(
	next connect.StreamingClientFunc,
) connect.StreamingClientFunc {
	return connect.StreamingClientFunc(func(
		ctx context.Context,
		spec connect.Spec,
	) connect.StreamingClientConn {
		started := time.Now()
		ctx = c.logger.With().Str("procedure", spec.Procedure).Logger().WithContext(ctx)

		conn := next(ctx, spec)

		zerolog.Ctx(ctx).Info().
			Dur("duration", time.Since(started)).
			Msg("rpc client stream finished")

		return conn
	})
}

func (c *ConnectRequests) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return connect.StreamingHandlerFunc(func(
		ctx context.Context,
		conn connect.StreamingHandlerConn,
	) error {
		started := time.Now()

		ctx = c.logger.With().
			Str("procedure", conn.Spec().Procedure).
			Str("protocol", conn.Peer().Protocol).
			Str("addr", conn.Peer().Addr).
			Logger().WithContext(ctx)

		err := next(ctx, conn)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("rpc server stream error")
			return err
		}

		zerolog.Ctx(ctx).Info().
			Dur("duration", time.Since(started)).
			Msg("rpc server stream finished")

		return nil
	})
}
