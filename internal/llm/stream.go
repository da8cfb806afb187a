package llm

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/kubechat/kubechat/pkg/provider"
	"github.com/kubechat/kubechat/pkg/types"
)

// Stream iterates over an SSE chat completion response.
//
// Example:
//
//	stream, err := binding.Generate(ctx, messages, tools)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for {
//	    chunk, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    // consume chunk
//	}
type Stream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	provider provider.Provider

	closed bool
	mu     sync.Mutex
}

func newStream(body io.ReadCloser, prov provider.Provider) *Stream {
	scanner := bufio.NewScanner(body)
	// Tool call argument chunks can run long.
	scanner.Buffer(make([]byte, 4096), 4096*16)

	return &Stream{
		body:     body,
		scanner:  scanner,
		provider: prov,
	}
}

// Recv returns the next chunk. It returns io.EOF when the stream is
// complete, after which the stream is closed.
func (s *Stream) Recv() (*types.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if bytes.Equal(line, []byte("data: [DONE]")) || bytes.Equal(line, []byte("[DONE]")) {
			s.close()
			return nil, io.EOF
		}

		chunk, err := s.provider.ParseStreamChunk(line)
		if err != nil {
			// Unparseable lines are comments or keep-alives.
			continue
		}
		if chunk == nil {
			continue
		}
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.close()
		return nil, err
	}

	s.close()
	return nil, io.EOF
}

// Close releases the response body. Safe to call multiple times.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

func (s *Stream) close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
