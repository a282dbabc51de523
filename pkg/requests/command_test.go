package requests

import "testing"

func TestParseCommand(t *testing.T) {
	tests := map[string]Decision{
		"同意入群 abc123":              {Action: ActionApprove, Kind: KindGroup, Flag: "abc123"},
		"拒绝入群 abc123 广告号":          {Action: ActionReject, Kind: KindGroup, Flag: "abc123", Reason: "广告号"},
		"同意好友 f-1":                 {Action: ActionApprove, Kind: KindFriend, Flag: "f-1"},
		"  拒绝好友   f-2  ":           {Action: ActionReject, Kind: KindFriend, Flag: "f-2"},
		"approve group g1":          {Action: ActionApprove, Kind: KindGroup, Flag: "g1"},
		"REJECT Friend f3 not now":  {Action: ActionReject, Kind: KindFriend, Flag: "f3", Reason: "not now"},
		"同意 好友 f4":                {Action: ActionApprove, Kind: KindFriend, Flag: "f4"},
		"reject group g5 multi word": {Action: ActionReject, Kind: KindGroup, Flag: "g5", Reason: "multi word"},
	}
	for in, want := range tests {
		got, ok := ParseCommand(in)
		if !ok {
			t.Fatalf("ParseCommand(%q) did not match", in)
		}
		if got != want {
			t.Fatalf("ParseCommand(%q) = %+v, want %+v", in, got, want)
		}
	}
}

func TestParseCommand_RejectsOtherText(t *testing.T) {
	for _, in := range []string{
		"",
		"同意入群",
		"hello there",
		"approve group",
		"please approve group g1",
		"同意 加群 x",
		"approvefriend f4",
		"rejectgroup g5",
		"同意 group g6",
	} {
		if d, ok := ParseCommand(in); ok {
			t.Fatalf("ParseCommand(%q) matched: %+v", in, d)
		}
	}
}
