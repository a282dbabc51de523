// Package eventlog keeps a bounded in-memory history of gateway events and
// the bridge's own actions for the owner console.
package eventlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
	"github.com/openclaw-qq/qqbridge/pkg/utils"
)

const DefaultMaxEntries = 2000

const (
	SourceSystem = "system"
	SourceBridge = "bridge"
)

type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Type    string    `json:"type"`
	Summary string    `json:"summary"`
	Detail  string    `json:"detail,omitempty"`
}

type Query struct {
	Limit  int
	Offset int
	Source string
	Search string
}

type Log struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	now     func() time.Time
	onAdd   []func(Entry)
}

func New(max int) *Log {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Log{max: max, now: time.Now}
}

// OnAdd registers a listener called after each append.
func (l *Log) OnAdd(fn func(Entry)) {
	l.mu.Lock()
	l.onAdd = append(l.onAdd, fn)
	l.mu.Unlock()
}

func (l *Log) Add(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = l.now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
	listeners := append(([]func(Entry))(nil), l.onAdd...)
	l.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorCF("eventlog", "Listener panicked", map[string]interface{}{
						"entry": e.ID,
						"panic": fmt.Sprint(rec),
					})
				}
			}()
			fn(e)
		}()
	}
	return e
}

// AddEvent records a push event from the named source. Meta events are skipped.
func (l *Log) AddEvent(source string, evt *onebot.Event) (Entry, bool) {
	if evt == nil || evt.PostType == onebot.PostMetaEvent {
		return Entry{}, false
	}

	e := Entry{Source: source, Type: evt.Kind()}
	if evt.Time > 0 {
		e.Time = time.Unix(evt.Time.Int64(), 0)
	}

	switch evt.PostType {
	case onebot.PostMessage:
		name := evt.Sender.DisplayName()
		if name == "" {
			name = fmt.Sprintf("%d", evt.UserID)
		}
		target := "私聊"
		if evt.MessageType == "group" {
			target = fmt.Sprintf("群%d", evt.GroupID)
		}
		text := evt.Text()
		e.Summary = fmt.Sprintf("[收信] %s(%d) @ %s: %s", name, evt.UserID, target, utils.Truncate(text, 200))
		e.Detail = text
	case onebot.PostNotice:
		e.Summary = formatNotice(evt)
	case onebot.PostRequest:
		kind := "入群申请"
		if evt.RequestType == onebot.RequestFriend {
			kind = "好友申请"
		}
		e.Summary = fmt.Sprintf("[请求] %s from %d", kind, evt.UserID)
		e.Detail = evt.Comment
	default:
		e.Summary = fmt.Sprintf("[%s] %s", source, utils.Truncate(string(evt.Raw), 150))
	}
	return l.Add(e), true
}

// AddOutbound records an action the bridge performed.
func (l *Log) AddOutbound(source, action, detail string) Entry {
	return l.Add(Entry{
		Source:  source,
		Type:    "outbound." + action,
		Summary: "[Bot操作] " + detail,
	})
}

func (l *Log) AddSystem(summary, detail string) Entry {
	return l.Add(Entry{
		Source:  SourceSystem,
		Type:    "system",
		Summary: "[系统] " + summary,
		Detail:  detail,
	})
}

// Entries returns matching entries newest first, plus the total match count.
func (l *Log) Entries(q Query) ([]Entry, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	search := strings.ToLower(q.Search)
	matched := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if q.Source != "" && e.Source != q.Source {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Summary), search) &&
			!strings.Contains(strings.ToLower(e.Detail), search) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if q.Offset >= total {
		return []Entry{}, total
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

func formatNotice(evt *onebot.Event) string {
	switch evt.NoticeType {
	case onebot.NoticeGroupIncrease:
		return fmt.Sprintf("[通知] %d 加入群 %d", evt.UserID, evt.GroupID)
	case onebot.NoticeGroupDecrease:
		return fmt.Sprintf("[通知] %d 离开群 %d (%s)", evt.UserID, evt.GroupID, evt.SubType)
	case onebot.NoticeGroupRecall:
		return fmt.Sprintf("[通知] 群 %d 消息撤回 by %d", evt.GroupID, evt.OperatorID)
	case onebot.NoticeFriendRecall:
		return fmt.Sprintf("[通知] 好友 %d 撤回消息", evt.UserID)
	case onebot.NoticeGroupAdmin:
		action := "取消管理员"
		if evt.SubType == "set" {
			action = "成为管理员"
		}
		return fmt.Sprintf("[通知] 群 %d: %d %s", evt.GroupID, evt.UserID, action)
	case onebot.NoticeGroupBan:
		action := "解禁"
		if evt.SubType == "ban" {
			action = "禁言"
		}
		return fmt.Sprintf("[通知] 群 %d: %d 被 %d %s", evt.GroupID, evt.UserID, evt.OperatorID, action)
	case onebot.NoticeGroupUpload:
		name := ""
		if evt.File != nil {
			name = evt.File.Name
		}
		return fmt.Sprintf("[通知] 群 %d: %d 上传文件 %s", evt.GroupID, evt.UserID, name)
	case onebot.NoticeNotify:
		switch evt.SubType {
		case onebot.NotifyPoke:
			return fmt.Sprintf("[通知] %d 戳了 %d", evt.UserID, evt.TargetID)
		case onebot.NotifyHonor:
			return fmt.Sprintf("[通知] 群 %d 荣誉变更", evt.GroupID)
		case onebot.NotifyLuckyKing:
			return fmt.Sprintf("[通知] 群 %d 运气王 %d", evt.GroupID, evt.TargetID)
		}
		return "[通知] " + evt.SubType
	}
	where := "private"
	if evt.GroupID != 0 {
		where = fmt.Sprintf("%d", evt.GroupID)
	}
	return fmt.Sprintf("[通知] %s.%s in %s", evt.NoticeType, evt.SubType, where)
}
