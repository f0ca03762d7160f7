package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFieldDefaults(t *testing.T) {
	sig, err := NewField(FieldSignature, 2)
	require.NoError(t, err)
	txt, err := NewField(FieldText, 1)
	require.NoError(t, err)
	box, err := NewField(FieldCheckbox, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, sig.Page)
	assert.Equal(t, "Sign here", sig.Placeholder)
	assert.Greater(t, sig.Width*sig.Height, txt.Width*txt.Height)
	assert.Equal(t, box.Width, box.Height, "checkbox is square")
	assert.Less(t, box.Width, txt.Width)
	assert.Empty(t, sig.Value)
	assert.NotNil(t, sig.Options)
}

func TestNewFieldRejectsUnknownTypeAndPage(t *testing.T) {
	_, err := NewField(FieldType("hologram"), 1)
	assert.Error(t, err)
	_, err = NewField(FieldText, 0)
	assert.Error(t, err)
}

func TestInitialLargerThanText(t *testing.T) {
	ini, _ := DefaultsFor(FieldInitial)
	txt, _ := DefaultsFor(FieldText)
	assert.Greater(t, ini.Height, txt.Height)
}

func TestFieldTypesCoversClosedSet(t *testing.T) {
	types := FieldTypes()
	assert.Len(t, types, 15)
	for _, d := range types {
		assert.True(t, d.Type.Valid(), d.Type)
	}
}

func TestFilled(t *testing.T) {
	text := Field{Type: FieldText}
	box := Field{Type: FieldCheckbox}
	sig := Field{Type: FieldSignature}

	assert.False(t, text.Filled("   "))
	assert.True(t, text.Filled("x"))
	assert.False(t, box.Filled("false"))
	assert.True(t, box.Filled("true"))
	assert.False(t, sig.Filled(EmptySignature))
	assert.True(t, sig.Filled("data:image/png;base64,AAAA"))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "", NormalizeValue(nil))
	assert.Equal(t, "abc", NormalizeValue("abc"))
	assert.Equal(t, "true", NormalizeValue(true))
	assert.Equal(t, "false", NormalizeValue(false))
	assert.Equal(t, "42", NormalizeValue(42))
	assert.Equal(t, "1.5", NormalizeValue(1.5))
	assert.Equal(t, "", NormalizeValue(map[string]any{"a": 1}))
	assert.Equal(t, "", NormalizeValue([]any{"a"}))
}
