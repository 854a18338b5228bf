package assistant

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedResponse means the model answered with JSON that could not be
// decoded. Tool calls from such a response are never executed.
var ErrMalformedResponse = errors.New("assistant: malformed model response")

var (
	codeFenceRe   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	jsonObjectRe  = regexp.MustCompile(`(?s)\{.*\}`)
	validTypesSet = map[string]bool{"showcase": true, "mention": true, "none": true}
)

type modelResponse struct {
	Response      string        `json:"response"`
	Type          string        `json:"type"`
	ProductIDs    []string      `json:"product_ids"`
	FunctionCalls []rawToolCall `json:"function_calls"`
	// some models answer in camelCase
	FunctionCallsCamel []rawToolCall `json:"functionCalls"`
}

type parsed struct {
	Text           string
	Recommendation string
	ProductIDs     []string
	ToolCalls      []ToolCall
}

// parseResponse decodes the model's JSON answer. Code fences and leading or
// trailing prose are tolerated. Plain text that does not look like JSON is
// taken as the reply with no tool calls.
func parseResponse(raw string) (parsed, error) {
	text := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return parsed{Recommendation: "none"}, nil
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		if strings.HasPrefix(text, "{") {
			return parsed{}, errors.Wrap(ErrMalformedResponse, err.Error())
		}
		block := jsonObjectRe.FindString(text)
		if block == "" || json.Unmarshal([]byte(block), &resp) != nil {
			return parsed{Text: text, Recommendation: "none"}, nil
		}
	}

	calls := resp.FunctionCalls
	if len(calls) == 0 {
		calls = resp.FunctionCallsCamel
	}
	out := parsed{
		Text:           strings.TrimSpace(resp.Response),
		Recommendation: resp.Type,
		ProductIDs:     resp.ProductIDs,
	}
	if !validTypesSet[out.Recommendation] {
		out.Recommendation = "none"
	}
	for _, c := range calls {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, decodeToolCall(c))
	}
	return out, nil
}
