package server

import (
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/nsel/internal/config"
	apperrors "github.com/copyleftdev/nsel/internal/errors"
)

// JSON-RPC 2.0 error codes
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

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type selectionRef struct {
	SelectionID string `json:"selection_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil, nil)
		return
	}

	if request.JSONRPC != "2.0" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "selection.start":
		var rf config.RunFile
		if err := decodeParams(request.Params, &rf); err != nil {
			s.respondWithError(w, rpcInvalidParams, "Invalid params", request.ID, err.Error())
			return
		}
		var job *SelectionJob
		if job, err = s.StartSelection(&rf); err == nil {
			result = map[string]interface{}{
				"selection_id": job.ID,
				"status":       StatusPending,
			}
		}
	case "selection.status":
		var ref selectionRef
		if err := decodeParams(request.Params, &ref); err != nil || ref.SelectionID == "" {
			s.respondWithError(w, rpcInvalidParams, "selection_id is required", request.ID, nil)
			return
		}
		result, err = s.SelectionStatus(ref.SelectionID)
	case "selection.cancel":
		var ref selectionRef
		if err := decodeParams(request.Params, &ref); err != nil || ref.SelectionID == "" {
			s.respondWithError(w, rpcInvalidParams, "selection_id is required", request.ID, nil)
			return
		}
		if err = s.CancelSelection(ref.SelectionID); err == nil {
			result = map[string]string{"status": "cancellation requested"}
		}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcServerError, err.Error(), request.ID, map[string]int{
			"status": apperrors.HTTPStatus(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// decodeParams decodes the first positional parameter into v
func decodeParams(params []json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return apperrors.New("missing required parameters")
	}
	return json.Unmarshal(params[0], v)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcError{Code: code, Message: message, Data: data},
		"id":      id,
	})
}
