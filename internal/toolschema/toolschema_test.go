package toolschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const searchSchema = `{
	"type": "object",
	"properties": {"q": {"type": "string"}},
	"required": ["q"]
}`

func TestValidate_AcceptsConformingArguments(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("search", json.RawMessage(searchSchema)))
	require.NoError(t, v.Validate("search", json.RawMessage(`{"q":"rust"}`)))
}

func TestValidate_RejectsMissingRequiredField(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Register("search", json.RawMessage(searchSchema)))
	require.Error(t, v.Validate("search", json.RawMessage(`{}`)))
}

func TestValidate_UnregisteredToolIsPermissive(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate("unregistered_tool", json.RawMessage(`{"anything":true}`)))
}
