package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Users quote the code; support staff look it up here.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Invalid format: the file is not a readable spreadsheet
//	         Action: Upload the Core Data export as .xlsx or .csv
//	         Patterns: "invalid format"
//
//	IMP002 - Schema mismatch: too many expected columns are missing
//	         Action: Check the header row against the Core Data template
//	         Patterns: "schema mismatch"
//
//	IMP003 - No pending import: nothing has been analyzed yet
//	         Action: Upload and analyze a file first
//	         Patterns: "no pending import"
//
//	IMP004 - Import in progress: another import owns the session
//	         Action: Wait for it to finish or cancel it
//	         Patterns: "import already in progress"
//
//	IMP005 - Import cancelled: the import was cancelled
//	         Action: Start a new import when ready
//	         Patterns: "import cancelled", "context canceled"
//
//	IMP006 - System busy: every parse slot is in use
//	         Action: Please wait a moment and try again
//	         Patterns: "too many concurrent imports"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large       Patterns: "file too large"
//	FILE002 - Empty file           Patterns: "empty file", "no data rows"
//	FILE003 - No file              Patterns: "no file provided"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key", "unique constraint"
//	DB002 - Value too long         Patterns: "value too long"
//	DB003 - Connection problem     Patterns: "connection refused", "connection reset"
//	DB004 - Deadlock               Patterns: "deadlock"
//	DB005 - Timeout                Patterns: "deadline exceeded", "timeout"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests    Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the application log for the
// technical error, correlated by request_id or session_id.
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// File errors wrap ErrInvalidFormat, so they precede IMP001.
	{"file too large", UserMessage{
		Message: "The file exceeds the maximum upload size",
		Action:  "Remove unused sheets or columns and try again",
		Code:    "FILE001",
	}},
	{"empty file", UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload a file with a header row and data rows",
		Code:    "FILE002",
	}},
	{"no data rows", UserMessage{
		Message: "The file has no data rows",
		Action:  "Upload a file with a header row and data rows",
		Code:    "FILE002",
	}},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a file to upload",
		Code:    "FILE003",
	}},

	{"invalid format", UserMessage{
		Message: "The file is not a readable spreadsheet",
		Action:  "Upload the Core Data export as .xlsx or .csv",
		Code:    "IMP001",
	}},
	{"schema mismatch", UserMessage{
		Message: "The file does not match the Core Data layout",
		Action:  "Check the header row against the Core Data template",
		Code:    "IMP002",
	}},
	{"no pending import", UserMessage{
		Message: "There is no analyzed file to import",
		Action:  "Upload and analyze a file first",
		Code:    "IMP003",
	}},
	{"import already in progress", UserMessage{
		Message: "Another import is in progress",
		Action:  "Wait for it to finish or cancel it",
		Code:    "IMP004",
	}},
	{"import cancelled", UserMessage{
		Message: "The import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP005",
	}},
	{"context canceled", UserMessage{
		Message: "The import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP005",
	}},
	{"too many concurrent imports", UserMessage{
		Message: "The system is busy processing other files",
		Action:  "Please wait a moment and try again",
		Code:    "IMP006",
	}},

	{"duplicate key", UserMessage{
		Message: "A record with this Cartel already exists",
		Action:  "Check the file for repeated Cartel values",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "A record with this Cartel already exists",
		Action:  "Check the file for repeated Cartel values",
		Code:    "DB001",
	}},
	{"value too long", UserMessage{
		Message: "A value is longer than its column allows",
		Action:  "Shorten the value in the source file",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to the database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", UserMessage{
		Message: "The database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"deadlock", UserMessage{
		Message: "The database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"deadline exceeded", UserMessage{
		Message: "The operation timed out",
		Action:  "Try again later or split the file",
		Code:    "DB005",
	}},
	{"timeout", UserMessage{
		Message: "The operation timed out",
		Action:  "Try again later or split the file",
		Code:    "DB005",
	}},

	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first matching pattern, or ERR000 when none matches.
//
//	msg := MapError(fmt.Errorf("%w: bad header", ErrSchemaMismatch))
//	// msg.Code == "IMP002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a display string: "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
