package domain

import "errors"

var (
	// ErrMalformedPayload - сообщение отброшено, сессия продолжает работу
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNoOfferFound - гость не нашёл offer, попытка подключения прерывается
	ErrNoOfferFound = errors.New("no offer found")

	// ErrChannelUnavailable - канал сигнализации недоступен
	ErrChannelUnavailable = errors.New("signaling channel unavailable")

	// ErrTeardownStepFailed - шаг завершения сессии не удался, остальные шаги выполняются
	ErrTeardownStepFailed = errors.New("teardown step failed")

	ErrRoomTerminated = errors.New("room terminated")
	ErrSessionActive  = errors.New("session already active")
	ErrInvalidKey     = errors.New("invalid category or key")
	ErrNotConnected   = errors.New("not connected")
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)
