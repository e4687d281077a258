package assistant

import (
	"github.com/aschepis/backscratcher/assist/llm"
)

// SystemInstruction is sent with every request.
const SystemInstruction = "Du bist ein professioneller Trading-Assistent. Antworte immer auf Deutsch (informelles 'du'). Sei präzise, risikobewusst und hilfsbereit. WARNUNG: Dies ist ein Demo-Konto."

// ChartAnalysisPrefix is prepended to the prompt when an image is attached.
const ChartAnalysisPrefix = "Analysiere diesen Chart. "

// Tool names declared to the model on the fast lane.
const (
	ToolPlaceOrder = "place_order"
	ToolGetChart   = "get_chart"
)

// TradingTools returns the function declarations exposed on tool-enabled
// lanes. The model only proposes calls; executing them is up to the caller.
func TradingTools() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        ToolPlaceOrder,
			Description: "Places a trade order. REQUIRES USER CONFIRMATION.",
			Schema: llm.ToolSchema{
				Type: "object",
				Properties: map[string]any{
					"symbol":   map[string]any{"type": "string"},
					"action":   map[string]any{"type": "string", "enum": []any{"BUY", "SELL"}},
					"quantity": map[string]any{"type": "number"},
				},
				Required: []string{"symbol", "action", "quantity"},
			},
		},
		{
			Name:        ToolGetChart,
			Description: "Gets chart data for a symbol",
			Schema: llm.ToolSchema{
				Type: "object",
				Properties: map[string]any{
					"symbol": map[string]any{"type": "string"},
				},
				Required: []string{"symbol"},
			},
		},
	}
}
