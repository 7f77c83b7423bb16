package tools

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	hostnameRegex  = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
	dangerousChars = regexp.MustCompile("[;|&`$(){}\\[\\]!<>\\\\\"'\\s]")
)

var ErrInvalidTarget = errors.New("invalid target")

// ValidateTarget accepts an IP address, a CIDR block no larger than /16
// (/48 for IPv6) or a hostname. Anything carrying shell metacharacters or
// whitespace is rejected before it reaches an argv.
func ValidateTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	if strings.HasPrefix(target, "-") {
		return fmt.Errorf("%w: %q looks like a flag", ErrInvalidTarget, target)
	}
	if dangerousChars.MatchString(target) {
		return fmt.Errorf("%w: %q contains forbidden characters", ErrInvalidTarget, target)
	}

	if ip := net.ParseIP(target); ip != nil {
		return nil
	}

	if _, ipNet, err := net.ParseCIDR(target); err == nil {
		ones, bits := ipNet.Mask.Size()
		if bits == 32 && ones < 16 {
			return fmt.Errorf("%w: CIDR range /%d is too large (minimum /16)", ErrInvalidTarget, ones)
		}
		if bits == 128 && ones < 48 {
			return fmt.Errorf("%w: IPv6 CIDR range /%d is too large (minimum /48)", ErrInvalidTarget, ones)
		}
		return nil
	}

	if len(target) > 253 {
		return fmt.Errorf("%w: hostname too long", ErrInvalidTarget)
	}
	if !hostnameRegex.MatchString(target) {
		return fmt.Errorf("%w: %q is not an IP, CIDR or hostname", ErrInvalidTarget, target)
	}
	return nil
}
