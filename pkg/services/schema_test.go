package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var sendMessageSchema = Schema{
	"chat_id":    {Type: TypeString, Required: true},
	"message":    {Type: TypeString, Required: true},
	"parse_mode": {Type: TypeString, Nullable: true, Enum: []any{"HTML", "Markdown"}},
}

func TestSchema_FieldsAndRequired(t *testing.T) {
	assert.Equal(t, []string{"chat_id", "message", "parse_mode"}, sendMessageSchema.Fields())
	assert.Equal(t, []string{"chat_id", "message"}, sendMessageSchema.Required())
}

func TestSchema_JSONSchema(t *testing.T) {
	doc := sendMessageSchema.JSONSchema()

	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []string{"chat_id", "message"}, doc["required"])

	props := doc["properties"].(map[string]any)
	parseMode := props["parse_mode"].(map[string]any)
	assert.Equal(t, []string{"string", "null"}, parseMode["type"])
	assert.Contains(t, parseMode["enum"], nil)
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{"chat_id": "1", "message": "hi"}, false},
		{"null parse mode", Request{"chat_id": "1", "message": "hi", "parse_mode": nil}, false},
		{"missing message", Request{"chat_id": "1"}, true},
		{"bad enum", Request{"chat_id": "1", "message": "hi", "parse_mode": "BBCode"}, true},
		{"wrong type", Request{"chat_id": 1, "message": "hi"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(sendMessageSchema, tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NoError(t, ValidateRequest(nil, Request{"anything": 1}))
}
