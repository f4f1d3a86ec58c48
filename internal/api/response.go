package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Courier/internal/orchestrator"
	"github.com/shaiso/Courier/internal/repo"
	"github.com/shaiso/Courier/internal/telemetry"
)

// ErrorCode — машинно-читаемый код ошибки в конверте ответа.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
)

// Конверты ответов: {"data": ...} или {"error": {"code", "message"}}.
type (
	ErrorResponse struct {
		Error ErrorDetail `json:"error"`
	}

	ErrorDetail struct {
		Code      ErrorCode `json:"code"`
		Message   string    `json:"message"`
		RequestID string    `json:"request_id,omitempty"`
	}

	DataResponse struct {
		Data any `json:"data"`
	}

	ListResponse struct {
		Data  any `json:"data"`
		Total int `json:"total"`
	}
)

// JSON пишет status и тело в формате JSON.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Success — 200 с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created — 201 с созданным ресурсом.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// List — 200 со списком и его размером.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error пишет конверт ошибки. ID запроса берётся из заголовка ответа.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		RequestID: w.Header().Get(HeaderRequestID),
	}})
}

// BadRequest — 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError логирует err и отвечает 500 без подробностей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("internal error", "error", err)
	}
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorMapping сопоставляет ошибки домена с HTTP-ответом.
// message == "" — клиенту отдаётся текст ошибки.
type errorMapping struct {
	targets []error
	status  int
	code    ErrorCode
	message string
}

var orderErrors = []errorMapping{
	{[]error{orchestrator.ErrInvalidOrder}, http.StatusBadRequest, ErrCodeBadRequest, ""},
	{[]error{orchestrator.ErrOrderNotFound, repo.ErrNotFound}, http.StatusNotFound, ErrCodeNotFound, "order not found"},
	{[]error{orchestrator.ErrOrderFinished, repo.ErrInvalidState}, http.StatusUnprocessableEntity, ErrCodeInvalidState, ""},
	{[]error{orchestrator.ErrOrderAlreadyActive, repo.ErrAlreadyExists}, http.StatusConflict, ErrCodeConflict, ""},
	{[]error{orchestrator.ErrOrchestratorStopped}, http.StatusServiceUnavailable, ErrCodeUnavailable, "engine is shutting down"},
}

func (m errorMapping) matches(err error) bool {
	for _, target := range m.targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HandleOrderError отвечает клиенту по ошибке оркестратора или хранилища.
// Возвращает false, если err == nil и обработчик продолжает работу.
func HandleOrderError(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}

	for _, m := range orderErrors {
		if !m.matches(err) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		Error(w, m.status, m.code, msg)
		return true
	}

	InternalError(w, telemetry.FromContext(r.Context()), err)
	return true
}
