package dialog

import "errors"

var (
	// ErrAlreadyAnswered повторный Answer игнорируется
	ErrAlreadyAnswered = errors.New("dialog: вызов уже отвечен")
	// ErrNotOutbound Invite вызван для входящего диалога
	ErrNotOutbound = errors.New("dialog: invite возможен только для исходящего вызова")
	// ErrDestroyed диалог уже уничтожен
	ErrDestroyed = errors.New("dialog: диалог уничтожен")
)

// Причины завершения вызова
const (
	CauseNormalClearing          = "NORMAL_CLEARING"
	CauseDeviceError             = "Device or Permission Error"
	CauseMandatoryIEMissing      = "MANDATORY_IE_MISSING"
	CauseIncompatibleDestination = "INCOMPATIBLE_DESTINATION"
)

// Коды причин Q.850
const (
	CodeNormalClearing          = 16
	CodeIncompatibleDestination = 88
	CodeMandatoryIEMissing      = 96
)
