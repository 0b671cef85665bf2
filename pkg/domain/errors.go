package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrIDTooShort      = NewErr("INVALID_ID", "id too short", http.StatusBadRequest)
	ErrIDTooLong       = NewErr("INVALID_ID", "id too long", http.StatusBadRequest)
	ErrIDInvalid       = NewErr("INVALID_ID", "invalid id, allowed characters: [0-9a-zA-Z_-]", http.StatusBadRequest)
	ErrUserTooLong     = NewErr("INVALID_USER", "username too long", http.StatusBadRequest)
	ErrUserInvalid     = NewErr("INVALID_USER", "invalid username", http.StatusBadRequest)
	ErrPasteNotFound   = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteTooLarge   = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusRequestEntityTooLarge)
	ErrContentRequired = NewErr("CONTENT_REQUIRED", "content required", http.StatusBadRequest)
	ErrInvalidRequest  = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrUnauthorized    = NewErr("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrForbidden       = NewErr("FORBIDDEN", "not the owner of this paste", http.StatusForbidden)
	ErrInternalServer  = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrShuttingDown    = NewErr("SHUTTING_DOWN", "service shutting down", http.StatusServiceUnavailable)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// StorageError is an I/O failure of the object store or the legacy mirror.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}

type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func asErr(err error) (*Err, bool) {
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	e, ok := errors.Cause(err).(*Err)
	return e, ok
}

func ToResp(err error) ErrResp {
	if e, ok := asErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if IsStorageError(err) {
		return ErrResp{Error: ErrDetail{Code: "STORAGE_ERROR", Msg: "storage unavailable"}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	if IsStorageError(err) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
