// Package validation provides address parsing and sanitisation of collaborator data.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yourorg/omnipass/internal/model"
)

// ErrInvalidAddress is returned for input that is not a 0x-prefixed 20-byte hex address
var ErrInvalidAddress = errors.New("invalid address format")

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ParseAddress validates raw input and returns its canonical lower-case form
func ParseAddress(raw string) (model.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !addressPattern.MatchString(trimmed) || !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return model.Address(strings.ToLower(trimmed)), nil
}

// IsValidAddress reports whether raw parses as an address
func IsValidAddress(raw string) bool {
	_, err := ParseAddress(raw)
	return err == nil
}
