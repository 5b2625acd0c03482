package toolsurface

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"veritas/internal/apierr"
	"veritas/internal/logging"
)

// maxLineBytes bounds one request line, matching bufio.Scanner's need for
// an explicit buffer size above its 64KiB default for large queue_targets
// batches.
const maxLineBytes = 8 << 20

// Server reads {id, tool, params} request lines from r and writes
// {id, ok, result?|error?} response lines to w, one per line, newline
// delimited (spec.md §6). Requests are dispatched concurrently — a
// long-polling get_status must not block other in-flight calls — and
// writeMu serializes the interleaved writes so two goroutines never tear
// a line in half.
type Server struct {
	registry *Registry
	out      io.Writer
	writeMu  sync.Mutex
	wg       sync.WaitGroup
}

// NewServer builds a Server dispatching onto reg and writing to w.
func NewServer(reg *Registry, w io.Writer) *Server {
	return &Server{registry: reg, out: w}
}

// Serve reads request lines from r until EOF, ctx cancellation, or a
// malformed line, dispatching each concurrently. It returns once every
// in-flight request has written its response.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lineCopy := append([]byte(nil), line...)
		s.wg.Add(1)
		go s.handleLine(ctx, lineCopy)
	}
	s.wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("toolsurface: stdio read failed: %w", err)
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	defer s.wg.Done()

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(Response{
			OK:    false,
			Error: apierr.New(apierr.KindInvalidInput, "malformed request line: "+err.Error()),
		})
		return
	}

	result, apiErr := s.registry.Dispatch(ctx, req.Tool, req.Params)
	resp := Response{ID: req.ID}
	if apiErr != nil {
		resp.OK = false
		resp.Error = apiErr
		logging.ToolSurface("tool %s failed: %s", req.Tool, apiErr.Error())
	} else {
		resp.OK = true
		resp.Result = result
	}
	s.writeResponse(resp)
}

func (s *Server) writeResponse(resp Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		logging.ToolSurface("failed to marshal response for request %s: %v", resp.ID, err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(encoded, '\n')); err != nil {
		logging.ToolSurface("failed to write response for request %s: %v", resp.ID, err)
	}
}
