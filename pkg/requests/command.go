package requests

import (
	"regexp"
	"strings"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Decision is a parsed owner command such as "同意入群 <flag>" or
// "reject friend <flag> spam".
type Decision struct {
	Action Action
	Kind   Kind
	Flag   string
	Reason string
}

func (d Decision) Approve() bool { return d.Action == ActionApprove }

// Chinese keywords may be written together ("同意入群"); English ones need a
// space between action and kind.
var commandPattern = regexp.MustCompile(`(?i)^(?:(同意|拒绝)\s*(入群|好友)|(approve|reject)\s+(group|friend))\s+(\S+)(?:\s+(.+))?$`)

// ParseCommand recognises approve/reject commands in Chinese or English.
// It returns false for any other text.
func ParseCommand(text string) (Decision, bool) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Decision{}, false
	}

	action, kind := m[1]+m[3], m[2]+m[4]
	d := Decision{
		Action: ActionReject,
		Kind:   KindFriend,
		Flag:   m[5],
		Reason: strings.TrimSpace(m[6]),
	}
	switch strings.ToLower(action) {
	case "同意", "approve":
		d.Action = ActionApprove
	}
	switch strings.ToLower(kind) {
	case "入群", "group":
		d.Kind = KindGroup
	}
	return d, true
}
