package scans

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/oryxsec/scanhub/internal/database/models"
)

// ErrInvalidRequest marks submission input the caller got wrong; the API
// layer maps it to 422.
var ErrInvalidRequest = errors.New("invalid scan request")

var hostnameRe = regexp.MustCompile(
	`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`,
)

// ValidateTarget accepts an IP address, a CIDR range (anything but /0), or
// a hostname up to 253 characters.
func ValidateTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: target cannot be empty", ErrInvalidRequest)
	}

	if ip := net.ParseIP(target); ip != nil {
		return nil
	}

	if _, ipnet, err := net.ParseCIDR(target); err == nil {
		if ones, _ := ipnet.Mask.Size(); ones == 0 {
			return fmt.Errorf("%w: target /0 network is not allowed", ErrInvalidRequest)
		}
		return nil
	}

	if len(target) <= 253 && hostnameRe.MatchString(target) {
		return nil
	}

	return fmt.Errorf("%w: invalid target %q, must be an IP address, CIDR range, or hostname", ErrInvalidRequest, target)
}

func validateSubmit(req *SubmitRequest) error {
	req.Target = strings.TrimSpace(req.Target)
	if err := ValidateTarget(req.Target); err != nil {
		return err
	}

	if req.ScanType == "" {
		req.ScanType = models.ScanTypeFull
	}
	switch req.ScanType {
	case models.ScanTypeFull, models.ScanTypeDirected:
	default:
		return fmt.Errorf("%w: unknown scan_type %q", ErrInvalidRequest, req.ScanType)
	}

	if req.ScanType == models.ScanTypeDirected {
		if len(req.Ports) == 0 {
			return fmt.Errorf("%w: directed scan requires ports", ErrInvalidRequest)
		}
	}
	for _, p := range req.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("%w: port %d out of range (1-65535)", ErrInvalidRequest, p)
		}
	}

	if req.Name == "" {
		req.Name = req.Target
	}
	return nil
}
