package scan

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

type fakeRegistry struct {
	students  map[string]string
	books     map[string]string
	equipment map[string]string
	err       error
}

func (r *fakeRegistry) find(pool map[string]string, code string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if id, ok := pool[code]; ok {
		return id, nil
	}
	return "", ErrNotFound
}

func (r *fakeRegistry) StudentIDByCode(_ context.Context, code string) (string, error) {
	return r.find(r.students, code)
}

func (r *fakeRegistry) BookIDByCode(_ context.Context, code string) (string, error) {
	return r.find(r.books, code)
}

func (r *fakeRegistry) EquipmentIDByCode(_ context.Context, code string) (string, error) {
	return r.find(r.equipment, code)
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		students:  map[string]string{"STU-001": "student-1"},
		books:     map[string]string{"BOOK-001": "book-1"},
		equipment: map[string]string{"EQ-001": "equip-1"},
	}
}

func TestRouterClassify(t *testing.T) {
	router := NewRouter(newFakeRegistry())
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		wantType CodeType
		wantRef  string
		wantErr  error
	}{
		{name: "student", code: "STU-001", wantType: TypeStudent, wantRef: "student-1"},
		{name: "book", code: "BOOK-001", wantType: TypeBook, wantRef: "book-1"},
		{name: "equipment", code: "EQ-001", wantType: TypeEquipment, wantRef: "equip-1"},
		{name: "unknown", code: "NOPE", wantType: TypeUnknown, wantErr: ErrUnrecognizedCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, err := router.Classify(ctx, tt.code)
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("Classify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if cls.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", cls.Type, tt.wantType)
			}
			if cls.RefID != tt.wantRef {
				t.Errorf("RefID = %q, want %q", cls.RefID, tt.wantRef)
			}
			if tt.wantErr == nil && cls.Confidence != 1 {
				t.Errorf("Confidence = %v, want 1", cls.Confidence)
			}
		})
	}
}

func TestRouterRegistryFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.err = errors.New("registry down")
	router := NewRouter(reg)

	_, err := router.Classify(context.Background(), "STU-001")
	if err == nil || errors.Cause(err) == ErrUnrecognizedCode {
		t.Errorf("Classify() error = %v, want wrapped registry failure", err)
	}
}
