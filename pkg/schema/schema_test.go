package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type testInput struct {
	Name string `json:"name" validate:"required"`
	Age  int    `json:"age"`
}

func TestFromStructDerivesRequiredFields(t *testing.T) {
	s, err := FromStruct(testInput{})
	require.NoError(t, err)
	require.Equal(t, "object", s.Definition.Type)
	require.Equal(t, []string{"name"}, s.Definition.Required)
	require.Equal(t, "string", s.Definition.Properties["name"].Type)
	require.Equal(t, "integer", s.Definition.Properties["age"].Type)
}

func TestFromStructRejectsPrimitive(t *testing.T) {
	_, err := FromStruct("not a struct")
	require.ErrorIs(t, err, ErrNotObject)
}

func TestValidateMissingRequiredField(t *testing.T) {
	s, err := FromStruct(testInput{})
	require.NoError(t, err)

	errs := s.Validate(json.RawMessage(`{"age": 5}`))
	require.Len(t, errs, 1)
	require.Equal(t, "name", errs[0].Field)
	require.Equal(t, "missing", errs[0].Type)
}

func TestValidateTypeMismatch(t *testing.T) {
	s, err := FromStruct(testInput{})
	require.NoError(t, err)

	errs := s.Validate(json.RawMessage(`{"name": "ok", "age": "not-a-number"}`))
	require.Len(t, errs, 1)
	require.Equal(t, "age", errs[0].Field)
}

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	s, err := FromStruct(testInput{})
	require.NoError(t, err)

	errs := s.Validate(json.RawMessage(`{"name": "ok", "age": 5}`))
	require.Empty(t, errs)
}

func TestNewRejectsNonObjectDocument(t *testing.T) {
	_, err := New(json.RawMessage(`{"type":"string"}`))
	require.ErrorIs(t, err, ErrNotObject)
}
