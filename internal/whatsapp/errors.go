package whatsapp

import "errors"

var (
	// ErrInstanceNotFound is returned for operations on ids that were
	// never created or were removed by logout.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrNotConnected is returned when an operation requires a live
	// transport and the instance does not have one.
	ErrNotConnected = errors.New("instance not connected")
	// ErrAlreadyPaired is returned when pairing is requested for a
	// device that already holds an identity.
	ErrAlreadyPaired = errors.New("instance already paired, use QR login or logout first")
	// ErrNotOnWhatsApp is returned when a recipient cannot be resolved
	// to a WhatsApp account.
	ErrNotOnWhatsApp = errors.New("recipient is not on whatsapp")
)
