package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/internal/util"
)

// Reply is the structured turn an agent is asked to produce.
type Reply struct {
	To       string `json:"to" description:"participant name to address, or \"user\" to answer the requester"`
	Delegate string `json:"delegate,omitempty" description:"participant name who should speak next"`
	Message  string `json:"message" description:"your contribution to the discussion"`
	Remember bool   `json:"remember,omitempty" description:"true to keep this turn in long-term memory"`
	Final    bool   `json:"final,omitempty" description:"true when message is the final answer for the user"`
}

var replySchema = util.CreateSchema(Reply{})

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_\-]+)`)

// parseReply decodes a model turn. Replies that are not a valid JSON
// envelope are treated as plain text: the first @mention of a participant
// becomes the delegate and @user marks the answer final.
func parseReply(raw string, participants []string) Reply {
	raw = strings.TrimSpace(raw)
	if body, ok := util.ExtractJSON(raw); ok && strings.HasPrefix(body, "{") {
		var params map[string]any
		if err := json.Unmarshal([]byte(body), &params); err == nil {
			if err := util.ValidateParameters(params, replySchema); err == nil {
				var r Reply
				if err := json.Unmarshal([]byte(body), &r); err == nil && strings.TrimSpace(r.Message) != "" {
					r.Message = strings.TrimSpace(r.Message)
					if isCaller(r.To) {
						r.Final = true
					}
					return r
				}
			}
		}
	}

	r := Reply{Message: raw}
	known := make(map[string]string, len(participants))
	for _, p := range participants {
		known[normalizeName(p)] = p
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(raw, -1) {
		key := normalizeName(m[1])
		if isCaller(key) {
			r.To, r.Final = core.CallerTopic, true
			return r
		}
		if name, ok := known[key]; ok {
			r.To, r.Delegate = name, name
			return r
		}
	}
	return r
}

// replyFormat describes the envelope for the system prompt.
func replyFormat() string {
	return "Reply with a single JSON object with these fields:\n" + util.DescribeSchema(replySchema)
}

func isCaller(to string) bool {
	return normalizeName(to) == core.CallerTopic
}

// normalizeName lower cases a display name and drops everything but letters and digits.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
