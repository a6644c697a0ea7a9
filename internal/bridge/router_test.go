package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

func TestRouterDispatch(t *testing.T) {
	r := NewRouter()
	var got json.RawMessage
	r.Register("didReceiveMessage", func(params json.RawMessage) (interface{}, error) {
		got = params
		return "ok", nil
	})

	result, err := r.Dispatch("didReceiveMessage", json.RawMessage(`{"message":"aGk="}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %v", result)
	}
	if string(got) != `{"message":"aGk="}` {
		t.Fatalf("params = %s", got)
	}
}

func TestRouterUnknownMethod(t *testing.T) {
	r := NewRouter()
	if _, err := r.Dispatch("nope", nil); !errors.Is(err, ErrUnhandled) {
		t.Fatalf("err = %v, want ErrUnhandled", err)
	}
}

func TestRouterMethodsSorted(t *testing.T) {
	r := NewRouter()
	noop := func(json.RawMessage) (interface{}, error) { return nil, nil }
	r.Register("userDidPickPeripheral", noop)
	r.Register("didDiscoverPeripheral", noop)
	r.Register("didReceiveMessage", noop)

	want := []string{"didDiscoverPeripheral", "didReceiveMessage", "userDidPickPeripheral"}
	got := r.Methods()
	if len(got) != len(want) {
		t.Fatalf("Methods = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Methods = %v, want %v", got, want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrUnhandled, protocol.ErrCodeMethodNotFound},
		{fmt.Errorf("decode: %w", ErrInvalidParams), protocol.ErrCodeInvalidParams},
		{errors.New("boom"), protocol.ErrCodeInternal},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
