package backend

import "errors"

// Ошибки backend'ов и реестра.
var (
	// ErrBackendNotFound — backend с таким именем не зарегистрирован.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrDuplicateBackend — backend с таким именем уже зарегистрирован.
	ErrDuplicateBackend = errors.New("backend already registered")

	// ErrInvalidDescriptor — дескриптор не прошёл валидацию.
	ErrInvalidDescriptor = errors.New("invalid backend descriptor")

	// ErrSessionInvalid — сессия браузера недействительна (проблема ресурса).
	ErrSessionInvalid = errors.New("session invalid")

	// ErrTargetRejected — целевой контент не принимает доставку.
	ErrTargetRejected = errors.New("target rejected")
)
