package onebot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Post types carried by push frames.
const (
	PostMessage   = "message"
	PostNotice    = "notice"
	PostRequest   = "request"
	PostMetaEvent = "meta_event"
)

// Notice types, including the "notify" umbrella used for pokes and honors.
const (
	NoticeGroupIncrease = "group_increase"
	NoticeGroupDecrease = "group_decrease"
	NoticeGroupRecall   = "group_recall"
	NoticeFriendRecall  = "friend_recall"
	NoticeGroupAdmin    = "group_admin"
	NoticeGroupBan      = "group_ban"
	NoticeGroupUpload   = "group_upload"
	NoticeNotify        = "notify"
)

const (
	NotifyPoke      = "poke"
	NotifyHonor     = "honor"
	NotifyLuckyKing = "lucky_king"
)

const (
	RequestFriend = "friend"
	RequestGroup  = "group"
)

// FlexInt64 decodes ids that gateways send either as numbers or as numeric strings.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		*f = 0
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexInt64(n)
		return nil
	}

	var fl float64
	if err := json.Unmarshal(data, &fl); err == nil {
		*f = FlexInt64(int64(fl))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %q as int64: %w", s, err)
		}
		*f = FlexInt64(n)
		return nil
	}
	return fmt.Errorf("cannot parse as int64: %s", trimmed)
}

func (f FlexInt64) Int64() int64 { return int64(f) }

// FlexString decodes message ids, which some gateways send as numbers and others as strings.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	*f = FlexString(trimmed)
	return nil
}

func (f FlexString) String() string { return string(f) }

// Status is the heartbeat/get_status payload. Response frames reuse the
// "status" key for "ok"/"failed", which lands in Text.
type Status struct {
	Online bool `json:"online"`
	Good   bool `json:"good"`
	Text   string
}

func (s *Status) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = Status{}
		return nil
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = Status{Text: strings.TrimSpace(text)}
		return nil
	}

	var obj struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = Status{Online: obj.Online, Good: obj.Good}
	return nil
}

type Sender struct {
	UserID   FlexInt64 `json:"user_id"`
	Nickname string    `json:"nickname"`
	Card     string    `json:"card"`
	Role     string    `json:"role"`
}

// DisplayName prefers the group card over the nickname.
func (s Sender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

// FileInfo is attached to group_upload notices.
type FileInfo struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Size  FlexInt64 `json:"size"`
	BusID FlexInt64 `json:"busid"`
}

// Event is a decoded push frame. Fields not relevant to a post type stay zero.
type Event struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	NoticeType    string          `json:"notice_type"`
	RequestType   string          `json:"request_type"`
	MetaEventType string          `json:"meta_event_type"`
	SubType       string          `json:"sub_type"`
	Time          FlexInt64       `json:"time"`
	SelfID        FlexInt64       `json:"self_id"`
	MessageID     FlexString      `json:"message_id"`
	UserID        FlexInt64       `json:"user_id"`
	GroupID       FlexInt64       `json:"group_id"`
	OperatorID    FlexInt64       `json:"operator_id"`
	TargetID      FlexInt64       `json:"target_id"`
	Duration      FlexInt64       `json:"duration"`
	RawMessage    string          `json:"raw_message"`
	Message       json.RawMessage `json:"message"`
	Sender        Sender          `json:"sender"`
	Comment       string          `json:"comment"`
	Flag          string          `json:"flag"`
	HonorType     string          `json:"honor_type"`
	File          *FileInfo       `json:"file,omitempty"`
	Status        Status          `json:"status"`

	// Raw holds the original frame for logging and pass-through.
	Raw json.RawMessage `json:"-"`
}

// IsHeartbeat reports whether the event is a heartbeat meta-event.
func (e *Event) IsHeartbeat() bool {
	return e.PostType == PostMetaEvent && e.MetaEventType == "heartbeat"
}

// IsNotify reports whether the event is a poke/honor/lucky_king notice.
func (e *Event) IsNotify() bool {
	return e.PostType == PostNotice && e.NoticeType == NoticeNotify
}

// Text returns the plain message text: raw_message when present, otherwise
// the concatenated text segments.
func (e *Event) Text() string {
	if strings.TrimSpace(e.RawMessage) != "" {
		return e.RawMessage
	}
	if len(e.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return s
	}
	var segs []Segment
	if err := json.Unmarshal(e.Message, &segs); err != nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range segs {
		// Untrimmed: the text is cached for recall lookups and must stay verbatim.
		if text, ok := seg.Data["text"].(string); seg.Type == "text" && ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

// Kind is a short discriminant for logging, e.g. "notice.group_recall".
func (e *Event) Kind() string {
	switch e.PostType {
	case PostMessage:
		return "message." + e.MessageType
	case PostNotice:
		if e.NoticeType == NoticeNotify {
			return "notify." + e.SubType
		}
		return "notice." + e.NoticeType
	case PostRequest:
		return "request." + e.RequestType
	case PostMetaEvent:
		return "meta_event." + e.MetaEventType
	default:
		return e.PostType
	}
}

// ParseEvent decodes a push frame.
func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, err
	}
	evt.Raw = append(json.RawMessage(nil), payload...)
	return &evt, nil
}

// Request is the outbound call frame.
type Request struct {
	Action string      `json:"action"`
	Params interface{} `json:"params"`
	Echo   string      `json:"echo"`
}

// Response is the reply frame matched by Echo.
type Response struct {
	Status  string          `json:"status"`
	RetCode FlexInt64       `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

// frame is the first-pass decode of every inbound message. Echo decides
// whether it is a response or a push event.
type frame struct {
	Echo json.RawMessage `json:"echo"`
}

func (f frame) echo() string {
	if len(f.Echo) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Echo, &s); err == nil {
		return s
	}
	trimmed := strings.TrimSpace(string(f.Echo))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}

// LoginInfo is the get_login_info payload and the login signal value.
type LoginInfo struct {
	SelfID   FlexInt64 `json:"user_id"`
	Nickname string    `json:"nickname"`
}

type StrangerInfo struct {
	UserID   FlexInt64 `json:"user_id"`
	Nickname string    `json:"nickname"`
	Sex      string    `json:"sex"`
	Age      int       `json:"age"`
}

type FriendInfo struct {
	UserID   FlexInt64 `json:"user_id"`
	Nickname string    `json:"nickname"`
	Remark   string    `json:"remark"`
}

type GroupInfo struct {
	GroupID        FlexInt64 `json:"group_id"`
	GroupName      string    `json:"group_name"`
	MemberCount    int       `json:"member_count"`
	MaxMemberCount int       `json:"max_member_count"`
}

type GroupMemberInfo struct {
	GroupID  FlexInt64 `json:"group_id"`
	UserID   FlexInt64 `json:"user_id"`
	Nickname string    `json:"nickname"`
	Card     string    `json:"card"`
	Role     string    `json:"role"`
	Title    string    `json:"title"`
	JoinTime FlexInt64 `json:"join_time"`
}

type MessageInfo struct {
	MessageID   FlexString      `json:"message_id"`
	MessageType string          `json:"message_type"`
	Time        FlexInt64       `json:"time"`
	Sender      Sender          `json:"sender"`
	Message     json.RawMessage `json:"message"`
	RawMessage  string          `json:"raw_message"`
}

type SendResult struct {
	MessageID FlexString `json:"message_id"`
}

type VersionInfo struct {
	AppName         string `json:"app_name"`
	AppVersion      string `json:"app_version"`
	ProtocolVersion string `json:"protocol_version"`
}
