package scans

import (
	"strings"
	"testing"

	"github.com/oryxsec/scanhub/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTarget(t *testing.T) {
	valid := []string{
		"192.168.1.1",
		"10.0.0.0/24",
		"2001:db8::1",
		"example.com",
		"scanner-01.internal.example.com",
		"localhost",
	}
	for _, target := range valid {
		assert.NoError(t, ValidateTarget(target), target)
	}

	invalid := []string{
		"",
		"   ",
		"0.0.0.0/0",
		"-bad.example.com",
		"bad-.example.com",
		"host name with spaces",
		strings.Repeat("a", 250) + ".com",
	}
	for _, target := range invalid {
		assert.ErrorIs(t, ValidateTarget(target), ErrInvalidRequest, target)
	}
}

func TestValidateSubmit_Defaults(t *testing.T) {
	req := SubmitRequest{Target: " 10.0.0.1 "}
	require.NoError(t, validateSubmit(&req))

	assert.Equal(t, "10.0.0.1", req.Target)
	assert.Equal(t, models.ScanTypeFull, req.ScanType)
	assert.Equal(t, "10.0.0.1", req.Name)
}

func TestValidateSubmit_DirectedRequiresPorts(t *testing.T) {
	req := SubmitRequest{Target: "10.0.0.1", ScanType: models.ScanTypeDirected}
	assert.ErrorIs(t, validateSubmit(&req), ErrInvalidRequest)

	req.Ports = []int{80, 443}
	assert.NoError(t, validateSubmit(&req))
}

func TestValidateSubmit_PortRange(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		req := SubmitRequest{Target: "10.0.0.1", ScanType: models.ScanTypeDirected, Ports: []int{port}}
		assert.ErrorIs(t, validateSubmit(&req), ErrInvalidRequest)
	}
}

func TestValidateSubmit_UnknownScanType(t *testing.T) {
	req := SubmitRequest{Target: "10.0.0.1", ScanType: "aggressive"}
	assert.ErrorIs(t, validateSubmit(&req), ErrInvalidRequest)
}
