package toolregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Describe(t *testing.T) {
	r := NewDefault(nil)

	t.Run("should describe a known tool", func(t *testing.T) {
		desc, err := r.Describe("gmail_send_email")
		require.NoError(t, err)
		assert.Equal(t, "GMAIL_SEND_EMAIL", desc.UpstreamAction)
		assert.Equal(t, []string{"to", "subject", "body"}, desc.RequiredParams())
		assert.True(t, desc.ApprovalRequired)
	})

	t.Run("should reject an unknown tool", func(t *testing.T) {
		_, err := r.Describe("rm_rf")
		assert.ErrorIs(t, err, ErrUnknownTool)
	})
}

func TestRegistry_BuiltinCatalog(t *testing.T) {
	r := NewDefault(nil)
	require.Equal(t, 5, r.Len())

	tests := []struct {
		name     string
		approval bool
		required []string
	}{
		{"twilio_send_sms", true, []string{"to", "message"}},
		{"twilio_send_whatsapp", true, []string{"to", "message"}},
		{"tavily_search", false, []string{"query"}},
		{"gmail_send_email", true, []string{"to", "subject", "body"}},
		{"gmail_list_messages", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := r.Describe(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.approval, desc.ApprovalRequired)
			assert.Equal(t, tt.required, desc.RequiredParams())
		})
	}

	list := r.List()
	assert.Equal(t, "gmail_list_messages", list[0].Name)
	assert.Equal(t, "twilio_send_whatsapp", list[len(list)-1].Name)
}

func TestRegistry_Validate(t *testing.T) {
	r := NewDefault(nil)

	tests := []struct {
		name   string
		tool   string
		params map[string]interface{}
		want   []FieldError
	}{
		{
			name:   "all present",
			tool:   "twilio_send_sms",
			params: map[string]interface{}{"to": "+15550001111", "message": "hi"},
		},
		{
			name:   "missing field",
			tool:   "twilio_send_sms",
			params: map[string]interface{}{"to": "+15550001111"},
			want:   []FieldError{{Field: "message", Problem: ProblemMissing}},
		},
		{
			name:   "whitespace counts as empty",
			tool:   "twilio_send_sms",
			params: map[string]interface{}{"to": "+15550001111", "message": "   "},
			want:   []FieldError{{Field: "message", Problem: ProblemEmpty}},
		},
		{
			name:   "nil counts as empty",
			tool:   "tavily_search",
			params: map[string]interface{}{"query": nil},
			want:   []FieldError{{Field: "query", Problem: ProblemEmpty}},
		},
		{
			name:   "types are not checked",
			tool:   "tavily_search",
			params: map[string]interface{}{"query": 42},
		},
		{
			name:   "several problems in declaration order",
			tool:   "gmail_send_email",
			params: map[string]interface{}{"subject": ""},
			want: []FieldError{
				{Field: "to", Problem: ProblemMissing},
				{Field: "subject", Problem: ProblemEmpty},
				{Field: "body", Problem: ProblemMissing},
			},
		},
		{
			name:   "no required fields",
			tool:   "gmail_list_messages",
			params: nil,
		},
		{
			name:   "extra fields ignored",
			tool:   "tavily_search",
			params: map[string]interface{}{"query": "weather", "depth": "advanced"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Validate(tt.tool, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown tool", func(t *testing.T) {
		_, err := r.Validate("nope", nil)
		assert.ErrorIs(t, err, ErrUnknownTool)
	})
}

func TestRegistry_Register(t *testing.T) {
	valid := ToolDescriptor{
		Name:           "weather",
		UpstreamAction: "WEATHER_GET",
		Category:       CategoryRead,
		Parameters:     []ToolParameter{{Name: "city", Type: "string", Required: true}},
	}

	t.Run("should register and reject duplicates", func(t *testing.T) {
		r := New()
		require.NoError(t, r.Register(valid))
		assert.Error(t, r.Register(valid))
	})

	t.Run("should reject malformed descriptors", func(t *testing.T) {
		r := New()

		noName := valid
		noName.Name = ""
		assert.Error(t, r.Register(noName))

		badType := valid
		badType.Parameters = []ToolParameter{{Name: "city", Type: "text"}}
		assert.Error(t, r.Register(badType))

		badCategory := valid
		badCategory.Category = "shell"
		assert.Error(t, r.Register(badCategory))

		dup := valid
		dup.Parameters = []ToolParameter{{Name: "a", Type: "string"}, {Name: "a", Type: "string"}}
		assert.Error(t, r.Register(dup))
	})
}

func TestRegistry_InputSchema(t *testing.T) {
	r := NewDefault(nil)

	schema, err := r.InputSchema("tavily_search")
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"query"}, schema["required"])

	schema, err = r.InputSchema("gmail_list_messages")
	require.NoError(t, err)
	assert.NotContains(t, schema, "required")
}

func TestBuiltinReturnsCopy(t *testing.T) {
	first := Builtin()
	first[0].Parameters[0].Name = "changed"

	assert.Equal(t, "to", Builtin()[0].Parameters[0].Name)
}
