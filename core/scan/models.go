package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
)

// Source identifies which capture path produced a scan.
type Source string

const (
	SourceUSB       Source = "usb"
	SourceCamera    Source = "camera"
	SourceSimulated Source = "simulated"
)

// CodeType is the outcome of classifying a finalized code.
type CodeType string

const (
	TypeStudent   CodeType = "STUDENT"
	TypeBook      CodeType = "BOOK"
	TypeEquipment CodeType = "EQUIPMENT"
	TypeUnknown   CodeType = "UNKNOWN"
)

type (
	// Code is a finalized scan code as emitted by the assembler or the
	// camera decoder. Value is normalized; Raw is the untouched input.
	Code struct {
		Value     string
		Raw       string
		Timestamp time.Time
	}

	// Event is a single scan traveling through the pipeline. Transient;
	// never persisted by this core.
	Event struct {
		Code      string    `json:"code"`
		Raw       string    `json:"raw"`
		Source    Source    `json:"source"`
		DeviceID  string    `json:"device_id,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}

	Classification struct {
		Type       CodeType `json:"type"`
		Confidence float64  `json:"confidence"`
		RefID      string   `json:"ref_id,omitempty"`
	}
)

var errCodeLength = errors.New("scanned code length is out of bounds")

// Normalize trims raw input, strips the configured prefix/suffix and
// enforces the post-strip length bounds. A violation is a ValidationError:
// by the time a code reaches finalization it claims to be complete, so a
// bad length is user-visible rather than silently dropped.
func Normalize(cfg core.ScannerConfig, raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if cfg.Prefix != "" {
		code = strings.TrimPrefix(code, cfg.Prefix)
	}
	if cfg.Suffix != "" {
		code = strings.TrimSuffix(code, cfg.Suffix)
	}
	if len(code) < cfg.MinLength || (cfg.MaxLength > 0 && len(code) > cfg.MaxLength) {
		return "", core.NewValidationError(errCodeLength, core.FieldError{
			Field: "code",
			Error: fmt.Sprintf("code length must be between %d and %d characters", cfg.MinLength, cfg.MaxLength),
		})
	}
	return code, nil
}
