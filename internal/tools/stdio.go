package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/basinlabs/browserbridge/internal/bridge"
	"github.com/basinlabs/browserbridge/internal/mcp"
)

// Serve runs the stdio JSON-RPC loop (spec.md §4.7, §6): one request per
// message, list-tools and call-tool semantics, framing auto-detected per
// message (line-delimited or Content-Length) and echoed back on the
// matching response, matching the teacher's bridge/stdio.go convention.
// Stdout carries only JSON-RPC frames; all logging goes to log (which the
// caller wires to stderr).
func Serve(ctx context.Context, r io.Reader, w io.Writer, reg *Registry, log zerolog.Logger) error {
	reader := bufio.NewReader(r)
	const maxBodySize = 16 << 20

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, framing, err := bridge.ReadStdioMessageWithMode(reader, maxBodySize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(msg) == 0 {
			continue
		}

		var req mcp.JSONRPCRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			writeFrame(w, mcp.JSONRPCResponse{
				JSONRPC: "2.0", ID: nil,
				Error: &mcp.JSONRPCError{Code: -32700, Message: "Parse error: " + err.Error()},
			}, framing)
			continue
		}
		if req.HasInvalidID() {
			writeFrame(w, mcp.JSONRPCResponse{
				JSONRPC: "2.0", ID: nil,
				Error: &mcp.JSONRPCError{Code: -32600, Message: "Invalid request id"},
			}, framing)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, bridge.ToolCallTimeout(req.Method, req.Params))
		resp := reg.HandleRequest(callCtx, req)
		cancel()

		if resp == nil {
			continue // notification: no response per JSON-RPC 2.0
		}
		if err := writeFrame(w, *resp, framing); err != nil {
			log.Error().Err(err).Msg("stdio write failed")
			return err
		}
	}
}

func writeFrame(w io.Writer, resp mcp.JSONRPCResponse, framing bridge.StdioFraming) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		payload = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"failed to marshal response"}}`)
	}
	payload = bytes.TrimSpace(payload)

	if framing == bridge.StdioFramingContentLength {
		if _, err := io.WriteString(w, "Content-Length: "); err != nil {
			return err
		}
		if _, err := io.WriteString(w, strconv.Itoa(len(payload))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\nContent-Type: application/json\r\n\r\n"); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	}

	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}
