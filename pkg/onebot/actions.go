package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// API wraps a Caller with typed OneBot v11 actions.
type API struct {
	caller Caller
}

func NewAPI(caller Caller) *API {
	return &API{caller: caller}
}

func (a *API) call(ctx context.Context, action string, params interface{}, out interface{}) error {
	data, err := a.caller.Call(ctx, action, params)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

// messageIDParam sends numeric ids as numbers, which most gateways expect.
func messageIDParam(id string) interface{} {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

type sendPrivateMsgParams struct {
	UserID  int64   `json:"user_id"`
	Message Message `json:"message"`
}

type sendGroupMsgParams struct {
	GroupID int64   `json:"group_id"`
	Message Message `json:"message"`
}

func (a *API) SendPrivateMsg(ctx context.Context, userID int64, msg Message) (SendResult, error) {
	var res SendResult
	err := a.call(ctx, "send_private_msg", sendPrivateMsgParams{UserID: userID, Message: msg}, &res)
	return res, err
}

func (a *API) SendGroupMsg(ctx context.Context, groupID int64, msg Message) (SendResult, error) {
	var res SendResult
	err := a.call(ctx, "send_group_msg", sendGroupMsgParams{GroupID: groupID, Message: msg}, &res)
	return res, err
}

func (a *API) DeleteMsg(ctx context.Context, messageID string) error {
	return a.call(ctx, "delete_msg", map[string]interface{}{"message_id": messageIDParam(messageID)}, nil)
}

func (a *API) GetMsg(ctx context.Context, messageID string) (MessageInfo, error) {
	var info MessageInfo
	err := a.call(ctx, "get_msg", map[string]interface{}{"message_id": messageIDParam(messageID)}, &info)
	return info, err
}

func (a *API) SendLike(ctx context.Context, userID int64, times int) error {
	if times <= 0 {
		times = 1
	}
	return a.call(ctx, "send_like", map[string]interface{}{"user_id": userID, "times": times}, nil)
}

func (a *API) GetLoginInfo(ctx context.Context) (LoginInfo, error) {
	var info LoginInfo
	err := a.call(ctx, "get_login_info", nil, &info)
	return info, err
}

func (a *API) GetStatus(ctx context.Context) (Status, error) {
	var st Status
	err := a.call(ctx, "get_status", nil, &st)
	return st, err
}

func (a *API) GetVersionInfo(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	err := a.call(ctx, "get_version_info", nil, &info)
	return info, err
}

func (a *API) GetStrangerInfo(ctx context.Context, userID int64) (StrangerInfo, error) {
	var info StrangerInfo
	err := a.call(ctx, "get_stranger_info", map[string]interface{}{"user_id": userID}, &info)
	return info, err
}

func (a *API) GetFriendList(ctx context.Context) ([]FriendInfo, error) {
	var list []FriendInfo
	err := a.call(ctx, "get_friend_list", nil, &list)
	return list, err
}

func (a *API) SetFriendAddRequest(ctx context.Context, flag string, approve bool, remark string) error {
	params := map[string]interface{}{"flag": flag, "approve": approve}
	if remark != "" {
		params["remark"] = remark
	}
	return a.call(ctx, "set_friend_add_request", params, nil)
}

// SetGroupAddRequest answers a join request (subType "add") or an invitation ("invite").
func (a *API) SetGroupAddRequest(ctx context.Context, flag, subType string, approve bool, reason string) error {
	if subType == "" {
		subType = "add"
	}
	params := map[string]interface{}{"flag": flag, "sub_type": subType, "approve": approve}
	if reason != "" {
		params["reason"] = reason
	}
	return a.call(ctx, "set_group_add_request", params, nil)
}

func (a *API) SetGroupKick(ctx context.Context, groupID, userID int64, rejectAddRequest bool) error {
	return a.call(ctx, "set_group_kick", map[string]interface{}{
		"group_id":           groupID,
		"user_id":            userID,
		"reject_add_request": rejectAddRequest,
	}, nil)
}

// SetGroupBan mutes a member for duration seconds; 0 lifts the mute.
func (a *API) SetGroupBan(ctx context.Context, groupID, userID, duration int64) error {
	return a.call(ctx, "set_group_ban", map[string]interface{}{
		"group_id": groupID,
		"user_id":  userID,
		"duration": duration,
	}, nil)
}

func (a *API) GetGroupInfo(ctx context.Context, groupID int64) (GroupInfo, error) {
	var info GroupInfo
	err := a.call(ctx, "get_group_info", map[string]interface{}{"group_id": groupID}, &info)
	return info, err
}

func (a *API) GetGroupList(ctx context.Context) ([]GroupInfo, error) {
	var list []GroupInfo
	err := a.call(ctx, "get_group_list", nil, &list)
	return list, err
}

func (a *API) GetGroupMemberInfo(ctx context.Context, groupID, userID int64) (GroupMemberInfo, error) {
	var info GroupMemberInfo
	err := a.call(ctx, "get_group_member_info", map[string]interface{}{
		"group_id": groupID,
		"user_id":  userID,
	}, &info)
	return info, err
}

func (a *API) GetGroupMemberList(ctx context.Context, groupID int64) ([]GroupMemberInfo, error) {
	var list []GroupMemberInfo
	err := a.call(ctx, "get_group_member_list", map[string]interface{}{"group_id": groupID}, &list)
	return list, err
}

func (a *API) GroupPoke(ctx context.Context, groupID, userID int64) error {
	return a.call(ctx, "group_poke", map[string]interface{}{"group_id": groupID, "user_id": userID}, nil)
}

func (a *API) FriendPoke(ctx context.Context, userID int64) error {
	return a.call(ctx, "friend_poke", map[string]interface{}{"user_id": userID}, nil)
}
