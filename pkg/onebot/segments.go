package onebot

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one element of an array-form OneBot message.
type Segment struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// DataString returns a data field as text. Numbers are rendered without a
// fractional part when they are whole.
func (s Segment) DataString(key string) string {
	if s.Data == nil {
		return ""
	}
	switch v := s.Data[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// Message is an array-form message body.
type Message []Segment

func Text(text string) Segment {
	return Segment{Type: "text", Data: map[string]interface{}{"text": text}}
}

func At(userID int64) Segment {
	return Segment{Type: "at", Data: map[string]interface{}{"qq": strconv.FormatInt(userID, 10)}}
}

func AtAll() Segment {
	return Segment{Type: "at", Data: map[string]interface{}{"qq": "all"}}
}

// Image accepts a URL, a file:// path or base64:// data.
func Image(file string) Segment {
	return Segment{Type: "image", Data: map[string]interface{}{"file": file}}
}

func Reply(messageID string) Segment {
	return Segment{Type: "reply", Data: map[string]interface{}{"id": messageID}}
}

func Record(file string) Segment {
	return Segment{Type: "record", Data: map[string]interface{}{"file": file}}
}

func Video(file string) Segment {
	return Segment{Type: "video", Data: map[string]interface{}{"file": file}}
}

func Face(id int) Segment {
	return Segment{Type: "face", Data: map[string]interface{}{"id": strconv.Itoa(id)}}
}

// TextMessage wraps plain text into a single-segment message.
func TextMessage(text string) Message {
	return Message{Text(text)}
}
