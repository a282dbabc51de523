package router

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
	"github.com/openclaw-qq/qqbridge/pkg/utils"
)

const notCachedText = "(消息内容未缓存)"

func (r *Router) handleNotice(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	switch evt.NoticeType {
	case onebot.NoticeGroupIncrease:
		r.handleGroupIncrease(ctx, p, evt)
	case onebot.NoticeGroupDecrease:
		r.handleGroupDecrease(ctx, p, evt)
	case onebot.NoticeGroupRecall, onebot.NoticeFriendRecall:
		r.handleRecall(ctx, p, evt)
	case onebot.NoticeGroupAdmin:
		r.handleGroupAdmin(ctx, p, evt)
	case onebot.NoticeGroupBan:
		r.handleGroupBan(ctx, p, evt)
	case onebot.NoticeGroupUpload:
		r.handleGroupUpload(ctx, p, evt)
	default:
		logger.DebugCF("router", "Unhandled notice", map[string]interface{}{
			"account":     r.name,
			"notice_type": evt.NoticeType,
			"sub_type":    evt.SubType,
		})
	}
}

func (r *Router) handleGroupIncrease(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	groupID, userID := evt.GroupID.Int64(), evt.UserID.Int64()
	if groupID == 0 || userID == 0 {
		return
	}

	if userID == r.self(evt) {
		r.notifyOwner(ctx, p, fmt.Sprintf("🤖 机器人已加入群 %d", groupID))
		return
	}

	if p.Welcome.Enabled {
		r.welcome(ctx, p, groupID, userID)
	}

	if p.Notify(config.NotifyMemberChange) {
		action := "加入了"
		if evt.SubType == "invite" {
			action = "被邀请加入"
		}
		r.notifyOwner(ctx, p, fmt.Sprintf("👋 %d %s群 %d", userID, action, groupID))
	}
}

func (r *Router) welcome(ctx context.Context, p config.PolicyConfig, groupID, userID int64) {
	tmpl := p.Welcome.Template
	if rule, ok := p.AutoApprove.Group.Rule(groupID); ok && rule.WelcomeMessage != "" {
		tmpl = rule.WelcomeMessage
	}
	if tmpl == "" {
		tmpl = config.DefaultWelcomeTemplate
	}

	nickname := strconv.FormatInt(userID, 10)
	if info, err := r.api.GetStrangerInfo(ctx, userID); err == nil && info.Nickname != "" {
		nickname = info.Nickname
	} else if err != nil {
		logger.DebugCF("router", "Stranger info lookup failed, using id", map[string]interface{}{
			"account": r.name,
			"user_id": userID,
			"error":   err.Error(),
		})
	}

	text := utils.FillTemplate(tmpl, map[string]string{
		"nickname": nickname,
		"user_id":  strconv.FormatInt(userID, 10),
	})
	msg := onebot.Message{onebot.At(userID), onebot.Text(" " + text)}

	delay := p.Welcome.Delay()
	if delay <= 0 {
		r.sendGroup(ctx, groupID, msg, "欢迎消息")
		return
	}
	r.afterFunc(delay, func() {
		sendCtx, cancel := detached(ctx)
		defer cancel()
		r.sendGroup(sendCtx, groupID, msg, "欢迎消息")
	})
}

func (r *Router) handleGroupDecrease(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyMemberChange) {
		return
	}
	groupID, userID, operatorID := evt.GroupID.Int64(), evt.UserID.Int64(), evt.OperatorID.Int64()

	var text string
	switch evt.SubType {
	case "kick_me":
		text = fmt.Sprintf("⚠️ 机器人被踢出群 %d，操作者: %d", groupID, operatorID)
	case "kick":
		text = fmt.Sprintf("🚫 %d 被 %d 踢出群 %d", userID, operatorID, groupID)
	default:
		text = fmt.Sprintf("👤 %d 退出了群 %d", userID, groupID)
	}
	r.notifyOwner(ctx, p, text)
}

func (r *Router) handleRecall(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyAntiRecall) {
		return
	}
	messageID := evt.MessageID.String()
	if messageID == "" {
		return
	}

	userID := evt.UserID.Int64()
	operatorID := evt.OperatorID.Int64()
	if operatorID == 0 {
		operatorID = userID
	}
	if operatorID == r.self(evt) {
		return
	}

	content := notCachedText
	if cached, ok := r.cache.Get(messageID); ok {
		content = cached.Text
	}

	var text string
	if evt.NoticeType == onebot.NoticeFriendRecall {
		text = fmt.Sprintf("🔄 好友 %d 撤回了消息\n内容: %s", userID, content)
	} else {
		opInfo := ""
		if operatorID != userID {
			opInfo = fmt.Sprintf("\n操作者: %d", operatorID)
		}
		text = fmt.Sprintf("🔄 群 %d 消息撤回\n发送者: %d%s\n内容: %s", evt.GroupID.Int64(), userID, opInfo, content)
	}
	r.notifyOwner(ctx, p, text)
}

func (r *Router) handleGroupAdmin(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyAdminChange) {
		return
	}
	action := "被取消管理员"
	if evt.SubType == "set" {
		action = "被设为管理员 👑"
	}
	r.notifyOwner(ctx, p, fmt.Sprintf("群 %d: %d %s", evt.GroupID.Int64(), evt.UserID.Int64(), action))
}

func (r *Router) handleGroupBan(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyBanNotice) {
		return
	}
	groupID, userID, operatorID := evt.GroupID.Int64(), evt.UserID.Int64(), evt.OperatorID.Int64()

	switch evt.SubType {
	case "ban":
		duration := "未知时长"
		if evt.Duration > 0 {
			duration = fmt.Sprintf("%d秒", evt.Duration.Int64())
		}
		if userID == r.self(evt) {
			r.notifyOwner(ctx, p, fmt.Sprintf("⚠️ 机器人在群 %d 被 %d 禁言 %s", groupID, operatorID, duration))
			return
		}
		r.notifyOwner(ctx, p, fmt.Sprintf("🔇 群 %d: %d 被 %d 禁言 %s", groupID, userID, operatorID, duration))
	case "lift_ban":
		r.notifyOwner(ctx, p, fmt.Sprintf("🔊 群 %d: %d 被 %d 解除禁言", groupID, userID, operatorID))
	}
}

func (r *Router) handleGroupUpload(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if !p.Notify(config.NotifyFileUpload) || evt.File == nil {
		return
	}
	r.notifyOwner(ctx, p, fmt.Sprintf("📁 群 %d: %d 上传了文件\n文件名: %s\n大小: %s",
		evt.GroupID.Int64(), evt.UserID.Int64(), evt.File.Name, utils.HumanSize(evt.File.Size.Int64())))
}
