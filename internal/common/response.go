package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the value under "error" in every failed response.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes v as the whole response body.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data writes v under the "data" key.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, struct {
		Data any `json:"data"`
	}{v})
}

// Page writes one page of items under "data" with its pagination block.
func Page(w http.ResponseWriter, items any, p Pagination) {
	JSON(w, http.StatusOK, struct {
		Data       any        `json:"data"`
		Pagination Pagination `json:"pagination"`
	}{items, p})
}

// JSONError writes an error body with the status implied by code.
func JSONError(w http.ResponseWriter, code Code, message string, details any) {
	JSON(w, code.Status(), struct {
		Error ErrorBody `json:"error"`
	}{ErrorBody{Code: code, Message: message, Details: details}})
}

// WriteAppError renders e.
func WriteAppError(w http.ResponseWriter, e *AppError) {
	JSONError(w, e.Code, e.Message, e.Details)
}
