package toolregistry

// Built-in tools exposed through the upstream toolkits.
var builtin = []ToolDescriptor{
	{
		Name:             "twilio_send_sms",
		Description:      "Send an SMS message via Twilio.",
		UpstreamAction:   "TWILIO_SEND_SMS",
		Provider:         "twilio",
		Category:         CategoryWrite,
		ApprovalRequired: true,
		Parameters: []ToolParameter{
			{Name: "to", Type: "string", Description: "Recipient phone number in E.164 format.", Required: true},
			{Name: "message", Type: "string", Description: "Message body.", Required: true},
		},
	},
	{
		Name:             "twilio_send_whatsapp",
		Description:      "Send a WhatsApp message via Twilio.",
		UpstreamAction:   "TWILIO_SEND_WHATSAPP_MESSAGE",
		Provider:         "twilio",
		Category:         CategoryWrite,
		ApprovalRequired: true,
		Parameters: []ToolParameter{
			{Name: "to", Type: "string", Description: "Recipient WhatsApp number in E.164 format.", Required: true},
			{Name: "message", Type: "string", Description: "Message body.", Required: true},
		},
	},
	{
		Name:             "tavily_search",
		Description:      "Search the web with Tavily.",
		UpstreamAction:   "TAVILY_SEARCH",
		Provider:         "tavily",
		Category:         CategoryRead,
		ApprovalRequired: false,
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "Search query.", Required: true},
		},
	},
	{
		Name:             "gmail_send_email",
		Description:      "Send an email from the user's Gmail account.",
		UpstreamAction:   "GMAIL_SEND_EMAIL",
		Provider:         "gmail",
		Category:         CategoryWrite,
		ApprovalRequired: true,
		Parameters: []ToolParameter{
			{Name: "to", Type: "string", Description: "Recipient email address.", Required: true},
			{Name: "subject", Type: "string", Description: "Subject line.", Required: true},
			{Name: "body", Type: "string", Description: "Message body.", Required: true},
		},
	},
	{
		Name:             "gmail_list_messages",
		Description:      "List recent messages in the user's Gmail inbox.",
		UpstreamAction:   "GMAIL_LIST_MESSAGES",
		Provider:         "gmail",
		Category:         CategoryRead,
		ApprovalRequired: false,
		Parameters: []ToolParameter{
			{Name: "max_results", Type: "integer", Description: "Maximum number of messages to return."},
			{Name: "query", Type: "string", Description: "Gmail search query."},
		},
	},
}

// Builtin returns a copy of the built-in descriptors.
func Builtin() []ToolDescriptor {
	out := make([]ToolDescriptor, len(builtin))
	for i, d := range builtin {
		d.Parameters = append([]ToolParameter(nil), d.Parameters...)
		out[i] = d
	}
	return out
}

// NewDefault returns a registry holding the built-in tools that policy allows.
// A nil policy allows all of them.
func NewDefault(policy *Policy) *Registry {
	r := New()
	for _, desc := range Builtin() {
		if !policy.IsToolAllowed(desc.Name) {
			continue
		}
		// built-in descriptors are valid by construction
		_ = r.Register(desc)
	}
	return r
}
