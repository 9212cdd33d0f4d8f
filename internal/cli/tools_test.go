package cli

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/pkg/toolregistry"
)

func TestToolsCommand(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, err := runCLI(t, "", "tools", "--config", tempConfigPath(t))
		require.NoError(t, err)

		assert.Contains(t, out, "NAME")
		assert.Contains(t, out, "twilio_send_sms")
		assert.Contains(t, out, "tavily_search")
		assert.Contains(t, out, "gmail_send_email")
	})

	t.Run("json honours deny list", func(t *testing.T) {
		path := tempConfigPath(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"tools":{"allow":["*"],"deny":["gmail_send_email"]}}`), 0600))

		out, err := runCLI(t, "", "tools", "--json", "--config", path)
		require.NoError(t, err)

		var tools []toolregistry.ToolDescriptor
		require.NoError(t, json.Unmarshal([]byte(out), &tools))
		assert.Len(t, tools, 4)
		for _, desc := range tools {
			assert.NotEqual(t, "gmail_send_email", desc.Name)
		}
	})
}
