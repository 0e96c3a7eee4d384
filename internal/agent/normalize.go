package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"crmdesk.app/chatsync/internal/model"
)

// fallbackText is synthesized when the agent produced neither narrative text
// nor a table; the caller must never receive an empty message.
const fallbackText = "The request completed, but the assistant returned nothing to display."

// agentReply is the loosely typed shape the agent actually sends. Everything
// is optional and nothing is trusted.
type agentReply struct {
	Respuesta string        `json:"respuesta"`
	Acciones  []agentAction `json:"acciones_ejecutadas"`
}

type agentAction struct {
	Accion    string        `json:"accion"`
	Resumen   string        `json:"resumen"`
	Resultado *actionResult `json:"resultado"`
}

type actionResult struct {
	// Rows stay raw so header order can be read from the document instead of
	// a Go map.
	Data        []json.RawMessage `json:"data"`
	Chart       map[string]any    `json:"chart"`
	DownloadURL string            `json:"downloadUrl"`
	Filename    string            `json:"filename"`
}

// normalize reduces the agent's variable-shaped reply into one Result.
//
// A body that fails to parse is treated wholesale as narrative text, bounded
// by maxRawText. Otherwise the narrative field and one summary line per
// executed action are concatenated; the first action carrying a tabular
// dataset contributes the table (rows capped at maxRows, overflow dropped);
// the first chart spec and the first download link anywhere win.
func normalize(ctx context.Context, raw []byte, maxRows, maxRawText int) Result {
	var reply agentReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		text := strings.TrimSpace(string(raw))
		if len(text) > maxRawText {
			text = text[:maxRawText]
		}
		if text == "" {
			text = fallbackText
		}
		slog.DebugContext(ctx, "agent reply was not structured, using raw body as text",
			"body_len", len(raw))
		return Result{Text: text}
	}

	var parts []string
	if reply.Respuesta != "" {
		parts = append(parts, reply.Respuesta)
	}

	result := Result{}
	for _, action := range reply.Acciones {
		if line := actionLine(action); line != "" {
			parts = append(parts, line)
		}
		if action.Resultado == nil {
			continue
		}
		if result.Table == nil && len(action.Resultado.Data) > 0 {
			if table := synthesizeTable(ctx, action.Resultado.Data, maxRows); table != nil {
				result.Table = table
			}
		}
		if result.Chart == nil && action.Resultado.Chart != nil {
			result.Chart = &model.Chart{Spec: action.Resultado.Chart}
		}
		if result.DownloadLink == nil && action.Resultado.DownloadURL != "" {
			filename := action.Resultado.Filename
			if filename == "" {
				filename = path.Base(action.Resultado.DownloadURL)
			}
			result.DownloadLink = &model.DownloadLink{
				URL:      action.Resultado.DownloadURL,
				Filename: filename,
			}
		}
	}

	result.Text = strings.Join(parts, "\n")
	if result.Text == "" && result.Table == nil {
		result.Text = fallbackText
	}
	return result
}

func actionLine(action agentAction) string {
	switch {
	case action.Accion == "" && action.Resumen == "":
		return ""
	case action.Resumen == "":
		return fmt.Sprintf("Executed: %s", action.Accion)
	case action.Accion == "":
		return action.Resumen
	default:
		return fmt.Sprintf("Executed %s: %s", action.Accion, action.Resumen)
	}
}

// synthesizeTable turns a list of row objects into {headers, rows}: the first
// row's keys, in document order, become the headers; every row contributes its
// values in that key order. Rows beyond maxRows are dropped, not summarized.
func synthesizeTable(ctx context.Context, data []json.RawMessage, maxRows int) *model.Table {
	headers, err := objectKeys(data[0])
	if err != nil || len(headers) == 0 {
		slog.DebugContext(ctx, "recovered from non-object table row, dropping table", "error", err)
		return nil
	}

	capped := data
	if len(capped) > maxRows {
		slog.DebugContext(ctx, "table rows capped", "rows", len(data), "cap", maxRows)
		capped = capped[:maxRows]
	}

	rows := make([][]any, 0, len(capped))
	for _, rawRow := range capped {
		var obj map[string]any
		if err := json.Unmarshal(rawRow, &obj); err != nil {
			continue
		}
		row := make([]any, len(headers))
		for i, h := range headers {
			row[i] = obj[h]
		}
		rows = append(rows, row)
	}

	return &model.Table{Headers: headers, Rows: rows}
}

// objectKeys returns a JSON object's keys in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("row is not an object")
	}

	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", keyTok)
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
