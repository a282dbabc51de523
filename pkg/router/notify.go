package router

import (
	"context"

	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
)

var honorNames = map[string]string{
	"talkative":     "龙王 🐉",
	"performer":     "群聊之火 🔥",
	"legend":        "群聊炽焰 🌟",
	"strong_newbie": "冒尖小春笋 🌱",
	"emotion":       "快乐源泉 😄",
}

// HonorName maps an honor_type code to its display name. Unknown codes are
// returned as-is.
func HonorName(code string) string {
	if name, ok := honorNames[code]; ok {
		return name
	}
	if code == "" {
		return "未知荣誉"
	}
	return code
}

func (r *Router) handleNotify(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	switch evt.SubType {
	case onebot.NotifyPoke:
		r.handlePoke(ctx, p, evt)
	case onebot.NotifyHonor:
		r.handleHonor(ctx, p, evt)
	case onebot.NotifyLuckyKing:
		r.handleLuckyKing(ctx, p, evt)
	default:
		logger.DebugCF("router", "Unhandled notify", map[string]interface{}{
			"account":  r.name,
			"sub_type": evt.SubType,
		})
	}
}

func (r *Router) handlePoke(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyPokeReply) || !p.Poke.Enabled {
		return
	}
	if evt.TargetID.Int64() != r.self(evt) {
		return
	}

	replies := p.Poke.Replies
	if len(replies) == 0 {
		replies = config.DefaultPokeReplies
	}
	reply := replies[r.rand(len(replies))]

	if groupID := evt.GroupID.Int64(); groupID != 0 {
		r.sendGroup(ctx, groupID, onebot.TextMessage(reply), "戳一戳回复")
	} else if userID := evt.UserID.Int64(); userID != 0 {
		r.sendPrivate(ctx, userID, onebot.TextMessage(reply), "戳一戳回复")
	}
}

func (r *Router) handleHonor(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyHonorNotice) {
		return
	}
	groupID, userID := evt.GroupID.Int64(), evt.UserID.Int64()
	if groupID == 0 || userID == 0 {
		return
	}
	msg := onebot.Message{
		onebot.At(userID),
		onebot.Text(" 恭喜获得「" + HonorName(evt.HonorType) + "」荣誉！🎉"),
	}
	r.sendGroup(ctx, groupID, msg, "荣誉祝贺")
}

func (r *Router) handleLuckyKing(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyLuckyKing) {
		return
	}
	groupID, winner := evt.GroupID.Int64(), evt.TargetID.Int64()
	if groupID == 0 || winner == 0 {
		return
	}
	msg := onebot.Message{onebot.At(winner), onebot.Text(" 恭喜成为运气王！🧧")}
	r.sendGroup(ctx, groupID, msg, "运气王祝贺")
}
