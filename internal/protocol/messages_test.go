package protocol

import "testing"

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{name: "load", cmd: CommandLoad{ID: "gen_20240101_120000_abcd1234"}, want: "LOAD:gen_20240101_120000_abcd1234"},
		{name: "default", cmd: CommandDefault{}, want: "default"},
		{name: "upright", cmd: CommandStartUprightMonitoring{}, want: "START_UPRIGHT_MONITORING"},
		{name: "asset", cmd: CommandLoadAsset{Name: "fallAndGetUp2_subject2"}, want: "fallAndGetUp2_subject2"},
	}
	for _, tt := range tests {
		got, err := EncodeCommand(tt.cmd)
		if err != nil {
			t.Fatalf("EncodeCommand(%s) error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("EncodeCommand(%s)=%q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEncodeCommandEmptyLoadID(t *testing.T) {
	if _, err := EncodeCommand(CommandLoad{}); err == nil {
		t.Fatal("EncodeCommand(empty load) error=nil, want non-nil")
	}
}

func TestParseEvent(t *testing.T) {
	event, ok := ParseEvent("MOTION_COMPLETE")
	if !ok {
		t.Fatal("ParseEvent(MOTION_COMPLETE) ok=false, want true")
	}
	if _, isComplete := event.(EventMotionComplete); !isComplete {
		t.Fatalf("ParseEvent(MOTION_COMPLETE)=%T, want EventMotionComplete", event)
	}

	event, ok = ParseEvent(" UPRIGHT_SUCCESS \n")
	if !ok {
		t.Fatal("ParseEvent(UPRIGHT_SUCCESS) ok=false, want true")
	}
	if _, isUpright := event.(EventUprightSuccess); !isUpright {
		t.Fatalf("ParseEvent(UPRIGHT_SUCCESS)=%T, want EventUprightSuccess", event)
	}
}

func TestParseEventUnknown(t *testing.T) {
	if _, ok := ParseEvent("SOMETHING_ELSE"); ok {
		t.Fatal("ParseEvent(SOMETHING_ELSE) ok=true, want false")
	}
	if _, ok := ParseEvent(""); ok {
		t.Fatal("ParseEvent(empty) ok=true, want false")
	}
}
