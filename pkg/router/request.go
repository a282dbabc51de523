package router

import (
	"context"
	"fmt"

	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
	"github.com/openclaw-qq/qqbridge/pkg/requests"
)

const emptyComment = "(空)"

func (r *Router) handleRequest(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	if evt.Flag == "" {
		return
	}
	switch evt.RequestType {
	case onebot.RequestGroup:
		r.handleGroupRequest(ctx, p, evt)
	case onebot.RequestFriend:
		r.handleFriendRequest(ctx, p, evt)
	}
}

func (r *Router) handleGroupRequest(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	flag, userID, groupID := evt.Flag, evt.UserID.Int64(), evt.GroupID.Int64()

	if evt.SubType == "invite" {
		r.pending.Add(r.pendingFrom(evt, requests.KindGroup, "invite"))
		r.notifyOwner(ctx, p, fmt.Sprintf("📨 收到入群邀请\n邀请人: %d\n群号: %d\n\n回复「同意入群 %s」或「拒绝入群 %s」",
			userID, groupID, flag, flag))
		return
	}

	cfg := p.AutoApprove.Group
	pattern := cfg.Pattern
	if rule, ok := cfg.Rule(groupID); ok && rule.AutoApprovePattern != "" {
		pattern = rule.AutoApprovePattern
	}

	if cfg.Enabled && r.matches(pattern, evt.Comment) {
		err := r.api.SetGroupAddRequest(ctx, flag, "add", true, "")
		if err == nil {
			logger.InfoCF("router", "Group join request auto-approved", map[string]interface{}{
				"account":  r.name,
				"user_id":  userID,
				"group_id": groupID,
			})
			r.logOutbound("set_group_add_request", fmt.Sprintf("自动同意入群 %d → 群%d", userID, groupID))
			r.notifyOwner(ctx, p, fmt.Sprintf("✅ 已自动同意入群申请\n申请人: %d\n群号: %d\n验证信息: %s",
				userID, groupID, evt.Comment))
			return
		}
		logger.WarnCF("router", "Auto-approve failed, escalating to owner", map[string]interface{}{
			"account": r.name,
			"flag":    flag,
			"error":   err.Error(),
		})
	}

	r.pending.Add(r.pendingFrom(evt, requests.KindGroup, "add"))
	r.notifyOwner(ctx, p, fmt.Sprintf("📋 入群申请待审核\n申请人: %d\n群号: %d\n验证信息: %s\n\n回复「同意入群 %s」或「拒绝入群 %s 理由」",
		userID, groupID, commentOrEmpty(evt.Comment), flag, flag))
}

func (r *Router) handleFriendRequest(ctx context.Context, p config.PolicyConfig, evt *onebot.Event) {
	flag, userID := evt.Flag, evt.UserID.Int64()

	cfg := p.AutoApprove.Friend
	if cfg.Enabled && r.matches(cfg.Pattern, evt.Comment) {
		err := r.api.SetFriendAddRequest(ctx, flag, true, "")
		if err == nil {
			logger.InfoCF("router", "Friend request auto-approved", map[string]interface{}{
				"account": r.name,
				"user_id": userID,
			})
			r.logOutbound("set_friend_add_request", fmt.Sprintf("自动同意好友 %d", userID))
			r.notifyOwner(ctx, p, fmt.Sprintf("✅ 已自动同意好友申请\n申请人: %d\n验证信息: %s", userID, evt.Comment))
			return
		}
		logger.WarnCF("router", "Auto-approve failed, escalating to owner", map[string]interface{}{
			"account": r.name,
			"flag":    flag,
			"error":   err.Error(),
		})
	}

	r.pending.Add(r.pendingFrom(evt, requests.KindFriend, ""))
	r.notifyOwner(ctx, p, fmt.Sprintf("📋 好友申请待审核\n申请人: %d\n验证信息: %s\n\n回复「同意好友 %s」或「拒绝好友 %s」",
		userID, commentOrEmpty(evt.Comment), flag, flag))
}

func (r *Router) pendingFrom(evt *onebot.Event, kind requests.Kind, subType string) requests.Request {
	return requests.Request{
		Flag:    evt.Flag,
		Kind:    kind,
		SubType: subType,
		UserID:  evt.UserID.Int64(),
		GroupID: evt.GroupID.Int64(),
		Comment: evt.Comment,
		Account: r.name,
	}
}

func commentOrEmpty(comment string) string {
	if comment == "" {
		return emptyComment
	}
	return comment
}
