package channels

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/openclaw-qq/qqbridge/pkg/onebot"
)

type messageSegment struct {
	Type     string
	Text     string
	AtQQ     string
	IsSelf   bool
	ImageURL string
	FileName string
	ReplyID  string
	Raw      string
}

type parseMessageResult struct {
	Text           string
	IsBotMentioned bool
	HasUnknown     bool
	Segments       []messageSegment
	MediaURLs      []string
}

var cqPattern = regexp.MustCompile(`\[CQ:([a-zA-Z0-9_]+)(?:,([^\]]*))?\]`)

// parseMessageContent decodes the "message" field, which gateways send either
// as a CQ-code string or as a segment array.
func parseMessageContent(raw json.RawMessage, rawMessage string, selfID int64) parseMessageResult {
	if len(raw) == 0 {
		return parseCQMessage(rawMessage, rawMessage, selfID)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseCQMessage(s, rawMessage, selfID)
	}

	var segments []map[string]interface{}
	if err := json.Unmarshal(raw, &segments); err != nil {
		trimmedRaw := strings.TrimSpace(rawMessage)
		if trimmedRaw == "" {
			return parseMessageResult{}
		}
		return parseMessageResult{
			Text:     trimmedRaw,
			Segments: []messageSegment{{Type: "text", Text: trimmedRaw}},
		}
	}

	var text strings.Builder
	result := parseMessageResult{Segments: make([]messageSegment, 0, len(segments))}
	for _, seg := range segments {
		segType, _ := seg["type"].(string)
		data, _ := seg["data"].(map[string]interface{})
		params := make(map[string]string, len(data))
		for k, v := range data {
			params[k] = dataString(v)
		}
		if segType == "text" {
			if t, ok := data["text"].(string); ok {
				text.WriteString(t)
				result.Segments = append(result.Segments, messageSegment{Type: "text", Text: t})
			}
			continue
		}
		segRaw := ""
		if segJSON, err := json.Marshal(seg); err == nil {
			segRaw = string(segJSON)
		}
		result.add(buildSegment(segType, params, segRaw, selfID))
	}

	result.finish(text.String(), rawMessage)
	return result
}

func parseCQMessage(content string, rawMessage string, selfID int64) parseMessageResult {
	matches := cqPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			return parseMessageResult{}
		}
		return parseMessageResult{
			Text:     trimmed,
			Segments: []messageSegment{{Type: "text", Text: content}},
		}
	}

	result := parseMessageResult{Segments: make([]messageSegment, 0, len(matches)+1)}
	var text strings.Builder
	cursor := 0
	for _, m := range matches {
		if m[0] > cursor {
			part := content[cursor:m[0]]
			result.Segments = append(result.Segments, messageSegment{Type: "text", Text: part})
			text.WriteString(part)
		}
		segType := content[m[2]:m[3]]
		paramsRaw := ""
		if m[4] >= 0 && m[5] >= 0 {
			paramsRaw = content[m[4]:m[5]]
		}
		result.add(buildSegment(segType, parseCQParams(paramsRaw), content[m[0]:m[1]], selfID))
		cursor = m[1]
	}
	if cursor < len(content) {
		part := content[cursor:]
		result.Segments = append(result.Segments, messageSegment{Type: "text", Text: part})
		text.WriteString(part)
	}

	if strings.TrimSpace(rawMessage) == "" {
		rawMessage = content
	}
	result.finish(text.String(), rawMessage)
	return result
}

func buildSegment(segType string, params map[string]string, raw string, selfID int64) messageSegment {
	switch segType {
	case "at":
		qq := strings.TrimSpace(params["qq"])
		return messageSegment{
			Type:   "at",
			AtQQ:   qq,
			IsSelf: selfID > 0 && (qq == strconv.FormatInt(selfID, 10) || qq == "all"),
		}
	case "image", "record", "video", "file":
		return messageSegment{
			Type:     segType,
			ImageURL: strings.TrimSpace(params["url"]),
			FileName: firstNonEmpty(params["name"], params["file"]),
			Raw:      raw,
		}
	case "reply":
		return messageSegment{Type: "reply", ReplyID: strings.TrimSpace(params["id"])}
	case "face":
		return messageSegment{Type: "face", Raw: raw}
	default:
		return messageSegment{Type: "unknown", Text: segType, Raw: raw}
	}
}

func (r *parseMessageResult) add(seg messageSegment) {
	switch seg.Type {
	case "at":
		if seg.IsSelf {
			r.IsBotMentioned = true
		}
	case "image", "record", "video", "file":
		if seg.ImageURL != "" {
			r.MediaURLs = appendUniqueString(r.MediaURLs, seg.ImageURL)
		}
	case "unknown":
		r.HasUnknown = true
	}
	r.Segments = append(r.Segments, seg)
}

// finish trims the text and, when unknown segments were dropped, keeps the
// raw message so the agent still sees what was sent.
func (r *parseMessageResult) finish(text, rawMessage string) {
	r.Text = strings.TrimSpace(text)
	trimmedRaw := strings.TrimSpace(rawMessage)
	if r.HasUnknown && trimmedRaw != "" && trimmedRaw != r.Text {
		r.Segments = append(r.Segments, messageSegment{Type: "raw_message", Raw: trimmedRaw})
	}
}

// mediaPlaceholder describes a text-less message, e.g. "[图片] [语音]".
func mediaPlaceholder(segments []messageSegment) string {
	var parts []string
	for _, seg := range segments {
		switch seg.Type {
		case "text", "at", "reply", "raw_message":
			continue
		case "image":
			parts = append(parts, "[图片]")
		case "file":
			parts = append(parts, "[文件]")
		case "video":
			parts = append(parts, "[视频]")
		case "record":
			parts = append(parts, "[语音]")
		case "unknown":
			parts = append(parts, "["+seg.Text+"]")
		default:
			parts = append(parts, "["+seg.Type+"]")
		}
	}
	return strings.Join(parts, " ")
}

func extractReplyIDs(segments []messageSegment) []string {
	var ids []string
	for _, seg := range segments {
		if seg.Type == "reply" && seg.ReplyID != "" {
			ids = appendUniqueString(ids, seg.ReplyID)
		}
	}
	return ids
}

func parseCQParams(params string) map[string]string {
	result := make(map[string]string)
	if params == "" {
		return result
	}
	for _, item := range strings.Split(params, ",") {
		parts := strings.SplitN(strings.TrimSpace(item), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		result[key] = strings.TrimSpace(parts[1])
	}
	return result
}

func dataString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func appendUniqueString(items []string, value string) []string {
	for _, item := range items {
		if item == value {
			return items
		}
	}
	return append(items, value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// buildOutboundMessage turns agent text and media into segments. Media kind
// is guessed from the file extension; anything unrecognised goes as an image.
func buildOutboundMessage(content, replyTo string, media []string) onebot.Message {
	var msg onebot.Message
	if replyTo != "" {
		msg = append(msg, onebot.Reply(replyTo))
	}
	if content != "" {
		msg = append(msg, onebot.Text(content))
	}
	for _, m := range media {
		if m = strings.TrimSpace(m); m == "" {
			continue
		}
		switch strings.ToLower(path.Ext(stripQuery(m))) {
		case ".mp3", ".amr", ".silk", ".wav", ".ogg", ".m4a":
			msg = append(msg, onebot.Record(m))
		case ".mp4", ".mov", ".avi", ".mkv":
			msg = append(msg, onebot.Video(m))
		default:
			msg = append(msg, onebot.Image(m))
		}
	}
	if len(msg) == 0 {
		msg = onebot.TextMessage("")
	}
	return msg
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
