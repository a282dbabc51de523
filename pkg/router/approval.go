package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
	"github.com/openclaw-qq/qqbridge/pkg/requests"
)

var (
	ErrRequestNotFound = errors.New("no pending request with that flag")
	ErrKindMismatch    = errors.New("request kind does not match command")
	ErrWrongAccount    = errors.New("request belongs to another account")
)

// Resolve applies an owner decision to a pending request. The request is
// claimed before the gateway call so concurrent resolvers cannot both act on
// it. If the call fails for a reason other than a gateway rejection the
// request is put back for another attempt.
func (r *Router) Resolve(ctx context.Context, d requests.Decision) (requests.Request, error) {
	req, ok := r.pending.Claim(d.Flag)
	if !ok {
		return requests.Request{}, ErrRequestNotFound
	}
	if req.Account != "" && req.Account != r.name {
		r.pending.Restore(req)
		return req, fmt.Errorf("%w: %s received it, not %s", ErrWrongAccount, req.Account, r.name)
	}
	if req.Kind != d.Kind {
		r.pending.Restore(req)
		return req, fmt.Errorf("%w: pending %s, command %s", ErrKindMismatch, req.Kind, d.Kind)
	}

	var err error
	switch req.Kind {
	case requests.KindGroup:
		err = r.api.SetGroupAddRequest(ctx, req.Flag, req.SubType, d.Approve(), d.Reason)
	default:
		err = r.api.SetFriendAddRequest(ctx, req.Flag, d.Approve(), "")
	}
	if err != nil {
		var gwErr *onebot.GatewayError
		if !errors.As(err, &gwErr) {
			r.pending.Restore(req)
		}
		logger.WarnCF("router", "Resolving request failed", map[string]interface{}{
			"account": r.name,
			"flag":    req.Flag,
			"action":  string(d.Action),
			"error":   err.Error(),
		})
		return req, err
	}

	logger.InfoCF("router", "Request resolved", map[string]interface{}{
		"account": r.name,
		"flag":    req.Flag,
		"kind":    string(req.Kind),
		"action":  string(d.Action),
	})
	r.logOutbound("resolve_request", fmt.Sprintf("%s %s %s", d.Action, req.Kind, req.Flag))
	return req, nil
}

// HandleOwnerCommand interprets text from the owner as an approval command.
// It reports false when the text is not a command for a known pending
// request, in which case the caller should treat it as a normal message.
func (r *Router) HandleOwnerCommand(ctx context.Context, text string) bool {
	d, ok := requests.ParseCommand(text)
	if !ok {
		return false
	}
	if _, ok := r.pending.Get(d.Flag); !ok {
		return false
	}

	policy := r.policy.Policy()
	if _, err := r.resolver(ctx, d); err != nil {
		r.notifyOwner(ctx, policy, fmt.Sprintf("❌ 处理请求失败: %v", err))
		return true
	}
	r.notifyOwner(ctx, policy, "✅ 已"+DecisionText(d)+"请求")
	return true
}

// DecisionText renders a decision as e.g. "同意入群".
func DecisionText(d requests.Decision) string {
	action := "拒绝"
	if d.Approve() {
		action = "同意"
	}
	kind := "好友"
	if d.Kind == requests.KindGroup {
		kind = "入群"
	}
	return action + kind
}
