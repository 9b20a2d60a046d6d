package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rendis/formula/internal/logging"
	"github.com/rendis/formula/pkg/schema"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Envelope renders responses as {"ok": ...} objects.
	Envelope bool
	Logger   *slog.Logger
}

// Server runs the line protocol: one request per input line, one response
// per output line, in order.
type Server struct {
	dispatcher *Dispatcher
	envelope   bool
	logger     *slog.Logger
}

// NewServer creates a line protocol server over d.
func NewServer(d *Dispatcher, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dispatcher: d, envelope: opts.Envelope, logger: logger}
}

// Serve reads requests from r until EOF and writes responses to w. A final
// line without a newline is still answered. Cancelling ctx stops the loop
// between requests. Only read and write failures are returned; request
// failures become response lines.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx = logging.WithTransport(ctx, "stdio")
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	s.logger.InfoContext(ctx, "serving line protocol", slog.Bool("envelope", s.envelope))

	served := 0
	for {
		if err := ctx.Err(); err != nil {
			s.logger.InfoContext(ctx, "line protocol stopped", slog.Int("requests", served))
			return nil
		}
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read request: %w", readErr)
		}
		if line != "" {
			if err := s.respond(ctx, bw, strings.TrimRight(line, "\r\n")); err != nil {
				return err
			}
			served++
		}
		if readErr != nil {
			s.logger.InfoContext(ctx, "input closed", slog.Int("requests", served))
			return nil
		}
	}
}

func (s *Server) respond(ctx context.Context, w *bufio.Writer, line string) error {
	out := s.handle(ctx, line)
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush response: %w", err)
	}
	return nil
}

// handle turns one line into one rendered response, whatever happens.
func (s *Server) handle(ctx context.Context, line string) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "request panicked", slog.String("panic", fmt.Sprint(r)))
			out = Response{Err: schema.NewErrorf(schema.ErrCodeRuntime, "internal error: %v", r)}.Render(s.envelope)
		}
	}()
	return s.dispatcher.Dispatch(ctx, ParseRequest(line)).Render(s.envelope)
}
