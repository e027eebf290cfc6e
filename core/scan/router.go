package scan

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Registry lookups for unregistered codes.
	ErrNotFound = errors.New("code not registered")
	// ErrUnrecognizedCode means no registry knows the code. Always surfaced
	// to the operator, never silently dropped.
	ErrUnrecognizedCode = errors.New("unrecognized code")
)

// Registry resolves codes against the identity records (students, books,
// equipment). The registries themselves are owned by external
// collaborators; this core only reads them.
type Registry interface {
	StudentIDByCode(ctx context.Context, code string) (string, error)
	BookIDByCode(ctx context.Context, code string) (string, error)
	EquipmentIDByCode(ctx context.Context, code string) (string, error)
}

// Router classifies finalized codes. It owns no registry of its own.
type Router struct {
	reg Registry
}

func NewRouter(reg Registry) *Router {
	return &Router{reg: reg}
}

// Classify resolves a code to its record type, most specific first.
// An unknown code yields ErrUnrecognizedCode alongside an UNKNOWN
// classification so callers can still report what was attempted.
func (r *Router) Classify(ctx context.Context, code string) (Classification, error) {
	if id, err := r.reg.StudentIDByCode(ctx, code); err == nil {
		return Classification{Type: TypeStudent, Confidence: 1, RefID: id}, nil
	} else if errors.Cause(err) != ErrNotFound {
		return Classification{}, errors.Wrap(err, "looking up student code")
	}

	if id, err := r.reg.BookIDByCode(ctx, code); err == nil {
		return Classification{Type: TypeBook, Confidence: 1, RefID: id}, nil
	} else if errors.Cause(err) != ErrNotFound {
		return Classification{}, errors.Wrap(err, "looking up book code")
	}

	if id, err := r.reg.EquipmentIDByCode(ctx, code); err == nil {
		return Classification{Type: TypeEquipment, Confidence: 1, RefID: id}, nil
	} else if errors.Cause(err) != ErrNotFound {
		return Classification{}, errors.Wrap(err, "looking up equipment code")
	}

	return Classification{Type: TypeUnknown}, ErrUnrecognizedCode
}
