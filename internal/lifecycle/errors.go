package lifecycle

import "errors"

// Transition errors.  They are returned as values and never leave the
// inputs partially modified.
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrDocumentClosed    = errors.New("document is closed for edits")
	ErrDocumentExpired   = errors.New("document has expired")
	ErrNotPrepared       = errors.New("document has not been prepared")
	ErrUnknownSigner     = errors.New("signer does not belong to document")
	ErrSignerFinished    = errors.New("signer has already finished")
	ErrOutOfTurn         = errors.New("signer is not next in signing order")
	ErrFieldNotAssigned  = errors.New("field is not assigned to signer")
	ErrValidationFailed  = errors.New("validation failed")
	ErrNoSigners         = errors.New("document has no signers")
	ErrNoFields          = errors.New("document has no fields")
	ErrInvalidAssignment = errors.New("field assigned to unknown signer")
	ErrInvalidPage       = errors.New("field placed outside the document")
	ErrAccessDenied      = errors.New("access code does not match")
	ErrNotOpened         = errors.New("signer must open the document first")
	ErrIncomplete        = errors.New("required fields of the document are not complete")
)
