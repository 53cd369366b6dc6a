// Package security provides input validation and credential masking.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation patterns
var (
	// Symbol pattern: uppercase letters and digits, with share-class and
	// exchange separators (BRK.B, RDS-A, ^GSPC, BTC-USD, 7203.T).
	symbolPattern = regexp.MustCompile(`^\^?[A-Z0-9]+([.\-=][A-Z0-9]+)*$`)

	// Watchlist name pattern: alphanumeric with spaces and underscores
	watchlistPattern = regexp.MustCompile(`^[A-Za-z0-9_ -]{1,50}$`)
)

// MaxSymbolLength is the longest ticker accepted on a watchlist.
const MaxSymbolLength = 20

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s %q: %s", e.Field, e.Value, e.Message)
}

// ValidateSymbol validates a ticker symbol. The symbol is normalised to
// trimmed upper case before checking.
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	if symbol == "" {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "symbol cannot be empty"}
	}

	if len(symbol) > MaxSymbolLength {
		return &ValidationError{Field: "symbol", Value: symbol, Message: fmt.Sprintf("symbol too long (max %d characters)", MaxSymbolLength)}
	}

	if !symbolPattern.MatchString(symbol) {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "invalid symbol format"}
	}

	return nil
}

// ValidateWatchlistName validates a stored watchlist name.
func ValidateWatchlistName(name string) error {
	name = strings.TrimSpace(name)

	if name == "" {
		return &ValidationError{Field: "watchlist_name", Value: name, Message: "watchlist name cannot be empty"}
	}

	if !watchlistPattern.MatchString(name) {
		return &ValidationError{Field: "watchlist_name", Value: name, Message: "invalid watchlist name format"}
	}

	return nil
}

// SanitizeText removes control characters from free-form text.
func SanitizeText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
