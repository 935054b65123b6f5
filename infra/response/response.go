package response

import (
	"encoding/json"
	"net/http"
)

// Response is a standardized API response structure
type Response struct {
	Code      int    `json:"code"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Success writes a successful response with data
func Success(w http.ResponseWriter, statusCode int, message string, data any) {
	resp := Response{
		Code:    statusCode,
		Success: true,
		Message: message,
		Data:    data,
	}
	_ = WriteJSON(w, statusCode, resp)
}

// Error writes an error response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	Fail(w, statusCode, "", message, err, nil)
}

// Fail writes an error response carrying a machine readable code and
// optional data
func Fail(w http.ResponseWriter, statusCode int, errorCode, message string, err error, data any) {
	resp := Response{
		Code:      statusCode,
		Success:   false,
		Message:   message,
		ErrorCode: errorCode,
		Data:      data,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = WriteJSON(w, statusCode, resp)
}

// WriteJSON encodes v as the response body
func WriteJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(v)
}
