package aiassistant

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fencedObject = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*\\})\\s*```")

// ExtractJSON recovers a JSON object from free-form model output. It tries
// the span from the first '{' to the last '}' and then a fenced code block.
// It returns nil when neither parses as an object.
func ExtractJSON(text string) map[string]any {
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if obj := parseObject(text[start : end+1]); obj != nil {
			return obj
		}
	}
	if m := fencedObject.FindStringSubmatch(text); m != nil {
		return parseObject(m[1])
	}
	return nil
}

func parseObject(s string) map[string]any {
	if !gjson.Valid(s) {
		return nil
	}
	obj, _ := gjson.Parse(s).Value().(map[string]any)
	return obj
}
