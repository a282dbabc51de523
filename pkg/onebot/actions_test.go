package onebot

import (
	"context"
	"encoding/json"
	"testing"
)

type recordedCall struct {
	action string
	params map[string]interface{}
}

type recordingCaller struct {
	calls    []recordedCall
	response json.RawMessage
	err      error
}

func (r *recordingCaller) Call(_ context.Context, action string, params interface{}) (json.RawMessage, error) {
	var decoded map[string]interface{}
	if params != nil {
		raw, _ := json.Marshal(params)
		_ = json.Unmarshal(raw, &decoded)
	}
	r.calls = append(r.calls, recordedCall{action: action, params: decoded})
	return r.response, r.err
}

func TestAPI_SendGroupMsgEncodesSegments(t *testing.T) {
	caller := &recordingCaller{response: json.RawMessage(`{"message_id":321}`)}
	api := NewAPI(caller)

	res, err := api.SendGroupMsg(context.Background(), 1001, Message{At(5), Text(" hi")})
	if err != nil {
		t.Fatalf("SendGroupMsg: %v", err)
	}
	if res.MessageID != "321" {
		t.Fatalf("message id = %q", res.MessageID)
	}
	if len(caller.calls) != 1 || caller.calls[0].action != "send_group_msg" {
		t.Fatalf("calls = %+v", caller.calls)
	}
	params := caller.calls[0].params
	if params["group_id"].(float64) != 1001 {
		t.Fatalf("group_id = %v", params["group_id"])
	}
	segs := params["message"].([]interface{})
	if len(segs) != 2 {
		t.Fatalf("segments = %v", segs)
	}
}

func TestAPI_SetGroupAddRequestDefaultsSubType(t *testing.T) {
	caller := &recordingCaller{}
	api := NewAPI(caller)

	if err := api.SetGroupAddRequest(context.Background(), "flag-1", "", false, "spam"); err != nil {
		t.Fatalf("SetGroupAddRequest: %v", err)
	}
	params := caller.calls[0].params
	if params["sub_type"] != "add" || params["approve"] != false || params["reason"] != "spam" {
		t.Fatalf("params = %v", params)
	}
}

func TestAPI_DeleteMsgSendsNumericID(t *testing.T) {
	caller := &recordingCaller{}
	api := NewAPI(caller)

	if err := api.DeleteMsg(context.Background(), "12345"); err != nil {
		t.Fatalf("DeleteMsg: %v", err)
	}
	if _, ok := caller.calls[0].params["message_id"].(float64); !ok {
		t.Fatalf("message_id = %#v, want number", caller.calls[0].params["message_id"])
	}
}

func TestAPI_GetStrangerInfoDecodes(t *testing.T) {
	caller := &recordingCaller{response: json.RawMessage(`{"user_id":"77","nickname":"alice"}`)}
	info, err := NewAPI(caller).GetStrangerInfo(context.Background(), 77)
	if err != nil {
		t.Fatalf("GetStrangerInfo: %v", err)
	}
	if info.UserID != 77 || info.Nickname != "alice" {
		t.Fatalf("info = %+v", info)
	}
}
