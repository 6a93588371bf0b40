package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/copyleftdev/hyperopt/internal/hyperopt"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// rpcError carries a JSON-RPC error code with its message.
type rpcError struct {
	code int
	err  error
}

func (e *rpcError) Error() string { return e.err.Error() }

func invalidParams(format string, args ...interface{}) error {
	return &rpcError{code: rpcInvalidParams, err: fmt.Errorf(format, args...)}
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "session.start":
		result, err = s.rpcSessionStart(request.Params)
	case "session.status":
		result, err = s.rpcSessionStatus(request.Params)
	case "session.trials":
		result, err = s.rpcSessionTrials(request.Params)
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		code := rpcServerError
		if re, ok := err.(*rpcError); ok {
			code = re.code
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	// Send successful response
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// rpcSessionStart handles session.start. Params: [session spec].
// Returns the session status, in state "configured" or later.
func (s *Server) rpcSessionStart(params []json.RawMessage) (interface{}, error) {
	if len(params) != 1 {
		return nil, invalidParams("session.start takes one session spec")
	}
	var spec hyperopt.SessionSpec
	dec := json.NewDecoder(bytes.NewReader(params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, invalidParams("invalid session spec: %v", err)
	}
	sess, err := s.startSession(&spec)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

func sessionID(params []json.RawMessage) (string, error) {
	if len(params) != 1 {
		return "", invalidParams("missing required parameters")
	}
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(params[0], &p); err != nil || p.SessionID == "" {
		return "", invalidParams("session_id is required")
	}
	return p.SessionID, nil
}

// rpcSessionStatus handles session.status. Params: [{"session_id": id}].
func (s *Server) rpcSessionStatus(params []json.RawMessage) (interface{}, error) {
	id, err := sessionID(params)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// rpcSessionTrials handles session.trials. Params: [{"session_id": id}].
func (s *Server) rpcSessionTrials(params []json.RawMessage) (interface{}, error) {
	id, err := sessionID(params)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return sess.search.Tracker().Trials(), nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}
