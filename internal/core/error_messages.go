package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// Operators quote the code when an import fails so support can find the cause.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: An order with this number already exists
//	        Patterns: SQLSTATE 23505, "duplicate key"
//
//	DB002 - Check violation: A value was rejected by the database
//	        Patterns: SQLSTATE 23514, 23502, "violates check", "not-null"
//
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: SQLSTATE 23503, "foreign key"
//
//	DB004 - Connection: Unable to connect to database
//	        Patterns: SQLSTATE class 08, "connection refused"
//
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//
//	DB006 - Timeout: Operation timed out
//	        Patterns: SQLSTATE 57014, "timeout"
//
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Patterns: SQLSTATE 40P01, 40001, "deadlock"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date            Patterns: "order_date"
//	VAL002 - Invalid number          Patterns: "invalid number"
//	VAL003 - Required field empty    Patterns: "required field"
//	VAL004 - Missing column          Patterns: ErrMissingColumns
//	VAL005 - Invalid status          Patterns: "must be one of"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large         Patterns: "file too large"
//	FILE002 - Not a spreadsheet      Patterns: "not a valid spreadsheet", "zip: not a valid zip file"
//	FILE003 - Sheet not found        Patterns: "sheet not found"
//	FILE004 - No file                Patterns: "no file provided"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Registry unavailable    Patterns: ErrRegistryLoad
//	IMP002 - Import in progress      Patterns: ErrTooManyImports
//	IMP003 - Import cancelled        Patterns: context.Canceled
//	IMP004 - Import timed out        Patterns: context.DeadlineExceeded
//	IMP005 - Order vanished          Patterns: "no longer exist"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// Sentinel errors and PostgreSQL SQLSTATE codes are checked first. Remaining
// errors are matched case-insensitively against message patterns; the first
// matching pattern wins, so specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgDuplicate = UserMessage{
		Message: "An order with this number already exists",
		Action:  "Check the sheet for repeated order numbers",
		Code:    "DB001",
	}
	msgCheck = UserMessage{
		Message: "A value was rejected by the database",
		Action:  "Review the rejected chunk's orders for out-of-range values",
		Code:    "DB002",
	}
	msgForeignKey = UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Contact support with the error code",
		Code:    "DB003",
	}
	msgConnection = UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Try importing a smaller file or try again later",
		Code:    "DB006",
	}
	msgDeadlock = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}
	msgMissingColumns = UserMessage{
		Message: "Required column is missing from the sheet",
		Action:  "Check that NOrdem_OSv, Data_OSv and Status_OSv are present",
		Code:    "VAL004",
	}
	msgRegistry = UserMessage{
		Message: "Edit history could not be loaded, nothing was imported",
		Action:  "Please try again in a few moments",
		Code:    "IMP001",
	}
	msgBusy = UserMessage{
		Message: "Another import is already running",
		Action:  "Wait for it to finish and try again",
		Code:    "IMP002",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Committed chunks were kept. Re-run the import to apply the rest",
		Code:    "IMP003",
	}
	msgDeadline = UserMessage{
		Message: "Import timed out",
		Action:  "Committed chunks were kept. Re-run the import to apply the rest",
		Code:    "IMP004",
	}
)

// sentinels maps wrapped sentinel errors to messages, checked with errors.Is.
var sentinels = []struct {
	err error
	msg UserMessage
}{
	{ErrRegistryLoad, msgRegistry},
	{ErrTooManyImports, msgBusy},
	{ErrMissingColumns, msgMissingColumns},
	{context.Canceled, msgCancelled},
	{context.DeadlineExceeded, msgDeadline},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	// Database
	{pattern: "duplicate key", msg: msgDuplicate},
	{pattern: "violates check", msg: msgCheck},
	{pattern: "not-null", msg: msgCheck},
	{pattern: "foreign key", msg: msgForeignKey},
	{pattern: "connection refused", msg: msgConnection},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{pattern: "timeout", msg: msgTimeout},
	{pattern: "deadlock", msg: msgDeadlock},

	// Validation
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Use plain decimal amounts in the totals columns",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Fill in order number, date and status for every row",
			Code:    "VAL003",
		},
	},
	{
		pattern: "must be one of",
		msg: UserMessage{
			Message: "Order status is not a warranty code",
			Action:  "Use G, GO or GU in Status_OSv",
			Code:    "VAL005",
		},
	},
	{
		pattern: "order_date",
		msg: UserMessage{
			Message: "Invalid order date detected",
			Action:  "Use DD/MM/YYYY or YYYY-MM-DD within the accepted years",
			Code:    "VAL001",
		},
	},

	// File
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the sheet into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "not a valid zip file",
		msg: UserMessage{
			Message: "File is not a valid spreadsheet",
			Action:  "Save the file as .xlsx and try again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "not a valid spreadsheet",
		msg: UserMessage{
			Message: "File is not a valid spreadsheet",
			Action:  "Save the file as .xlsx and try again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "sheet not found",
		msg: UserMessage{
			Message: "Expected sheet not found in workbook",
			Action:  "Rename the data sheet to the configured sheet name",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a spreadsheet to import",
			Code:    "FILE004",
		},
	},

	// Import
	{
		pattern: "no longer exist",
		msg: UserMessage{
			Message: "Some protected orders were deleted during the import",
			Action:  "Re-run the import; deleted orders are not recreated by merges",
			Code:    "IMP005",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinel errors win over SQLSTATE codes, which win over message patterns.
// If nothing matches, a generic fallback message with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := mapSQLState(pgErr.Code); ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// mapSQLState maps PostgreSQL error codes to user messages.
func mapSQLState(code string) (UserMessage, bool) {
	switch {
	case code == "23505":
		return msgDuplicate, true
	case code == "23514", code == "23502":
		return msgCheck, true
	case code == "23503":
		return msgForeignKey, true
	case code == "57014":
		return msgTimeout, true
	case code == "40P01", code == "40001":
		return msgDeadlock, true
	case strings.HasPrefix(code, "08"):
		return msgConnection, true
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
