package scan

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
	"github.com/maktabahq/maktaba/core/attendance"
)

// Result reasons for refused scans. Recoverable refusals travel as data so
// the broadcaster can still announce them and the operator gets immediate
// feedback for every physical scan.
const (
	ReasonValidation      = "validation_error"
	ReasonUnrecognized    = "unrecognized_code"
	ReasonCooldownActive  = "cooldown_active"
	ReasonSessionConflict = "session_conflict"
)

type (
	// SubmitScan is a finalized code entering the pipeline.
	SubmitScan struct {
		Code     string `json:"code" validate:"required,scancode"`
		Source   Source `json:"source" validate:"omitempty,oneof=usb camera simulated"`
		DeviceID string `json:"device_id"`
	}

	// Result is the structured outcome of one scan: accepted or refused,
	// never an exception for user-facing conditions.
	Result struct {
		Accepted            bool              `json:"accepted"`
		Classification      Classification    `json:"classification"`
		Action              attendance.Action `json:"action,omitempty"`
		Reason              string            `json:"reason,omitempty"`
		Detail              string            `json:"detail,omitempty"`
		CooldownRemainingMs int64             `json:"cooldown_remaining_ms,omitempty"`
	}

	// Service ties the pipeline together: normalize, classify, dispatch to
	// the attendance state machine, broadcast.
	Service struct {
		cfg         core.ScannerConfig
		router      *Router
		attendance  *attendance.Service
		broadcaster core.Broadcaster
		logger      core.Logger
	}
)

func (ss *SubmitScan) Validate(validate *validator.Validate) error {
	ss.Code = core.CleanString(ss.Code)
	if ss.Source == "" {
		ss.Source = SourceUSB
	}
	return validate.Struct(ss)
}

func NewService(
	cfg core.ScannerConfig,
	router *Router,
	attSvc *attendance.Service,
	broadcaster core.Broadcaster,
	logger core.Logger,
) *Service {
	if broadcaster == nil {
		broadcaster = core.NopBroadcaster()
	}
	return &Service{
		cfg:         cfg,
		router:      router,
		attendance:  attSvc,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Submit runs one scan through the pipeline. The returned error is reserved
// for system failures; refusals (bad length, unknown code, cooldown) come
// back inside Result with Accepted=false.
func (svc *Service) Submit(ctx context.Context, sub SubmitScan) (Result, error) {
	code, err := Normalize(svc.cfg, sub.Code)
	if err != nil {
		res := Result{
			Classification: Classification{Type: TypeUnknown},
			Reason:         ReasonValidation,
			Detail:         validationDetail(err),
		}
		svc.publishScan(sub, code, res)
		return res, nil
	}

	cls, err := svc.router.Classify(ctx, code)
	if err != nil {
		if errors.Cause(err) == ErrUnrecognizedCode {
			res := Result{
				Classification: cls,
				Reason:         ReasonUnrecognized,
				Detail:         "code does not match any student, book or equipment record",
			}
			svc.publishScan(sub, code, res)
			return res, nil
		}
		return Result{}, errors.Wrap(err, "classifying code")
	}

	res := Result{Accepted: true, Classification: cls}

	if cls.Type == TypeStudent {
		tr, err := svc.attendance.Toggle(ctx, cls.RefID)
		switch {
		case err == nil:
			res.Action = tr.Action
		default:
			if cerr, ok := attendance.IsCooldown(err); ok {
				res.Accepted = false
				res.Reason = ReasonCooldownActive
				res.Detail = cerr.Error()
				res.CooldownRemainingMs = cerr.Remaining.Milliseconds()
			} else if errors.Cause(err) == attendance.ErrSessionConflict {
				res.Accepted = false
				res.Reason = ReasonSessionConflict
				res.Detail = err.Error()
			} else {
				return Result{}, errors.Wrap(err, "toggling attendance")
			}
		}
	}

	svc.publishScan(sub, code, res)
	return res, nil
}

// publishScan announces every routed scan, refused ones included.
func (svc *Service) publishScan(sub SubmitScan, code string, res Result) {
	if code == "" {
		code = core.CleanString(sub.Code)
	}
	accepted := res.Accepted
	svc.broadcaster.Publish(core.Event{
		Type:      core.EventScan,
		StudentID: studentRef(res.Classification),
		Code:      code,
		Accepted:  &accepted,
		Reason:    res.Reason,
		Timestamp: nowFunc().UTC(),
	})
}

func studentRef(cls Classification) string {
	if cls.Type == TypeStudent {
		return cls.RefID
	}
	return ""
}

func validationDetail(err error) string {
	if verr, ok := errors.Cause(err).(*core.ValidationError); ok && len(verr.Fields) > 0 {
		return verr.Fields[0].Error
	}
	return err.Error()
}
