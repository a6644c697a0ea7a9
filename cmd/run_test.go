package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/blelink/internal/config"
	"github.com/nextlevelbuilder/blelink/internal/pairing"
	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

// fakeBridge answers discover/connect/send and records what it was asked.
type fakeBridge struct {
	discovered  []string // didDiscoverPeripheral params sent after discover
	discoverErr *protocol.Error
	// dropOnSend closes the socket without answering the first send
	dropOnSend bool

	mu       sync.Mutex
	connects []protocol.ConnectParams
	sends    chan json.RawMessage
}

func (b *fakeBridge) serve(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		b.loop(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (b *fakeBridge) loop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil || len(req.ID) == 0 {
			continue
		}

		var resp *protocol.ResponseFrame
		var after []string
		switch req.Method {
		case protocol.MethodDiscover:
			if b.discoverErr != nil {
				resp = protocol.NewErrorResponse(req.ID, b.discoverErr.Code, b.discoverErr.Message)
				break
			}
			for _, p := range b.discovered {
				after = append(after, `{"jsonrpc":"2.0","method":"didDiscoverPeripheral","params":`+p+`}`)
			}
		case protocol.MethodConnect:
			var params protocol.ConnectParams
			json.Unmarshal(req.Params, &params)
			b.mu.Lock()
			b.connects = append(b.connects, params)
			b.mu.Unlock()
		case protocol.MethodSend:
			if b.sends != nil {
				b.sends <- req.Params
			}
			if b.dropOnSend {
				return
			}
		}
		if resp == nil {
			resp, _ = protocol.NewResultResponse(req.ID, nil)
		}
		out, _ := json.Marshal(resp)
		if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
		for _, frame := range after {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Bridge.URL = url
	cfg.Pairing.StorePath = filepath.Join(t.TempDir(), "paired.json")
	return cfg
}

func TestRunScan_TimesOutWithNothingFound(t *testing.T) {
	b := &fakeBridge{}
	cfg := testConfig(t, b.serve(t))
	cfg.Discovery.TimeoutSeconds = 1

	done := make(chan error, 1)
	go func() { done <- runScan(context.Background(), cfg, false) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runScan: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not stop after the scan window")
	}
}

func TestRunScan_DiscoverError(t *testing.T) {
	b := &fakeBridge{discoverErr: &protocol.Error{Code: protocol.ErrCodeInternal, Message: "bluetooth is off"}}
	cfg := testConfig(t, b.serve(t))

	err := runScan(context.Background(), cfg, false)
	if err == nil || !strings.Contains(err.Error(), "bluetooth is off") {
		t.Fatalf("err = %v, want bridge error", err)
	}
}

func TestRunConnect_DerivesPINAndRelaysStdin(t *testing.T) {
	b := &fakeBridge{
		discovered: []string{`{"peripheralId":"p1","name":"iCOBOT-42","rssi":-40}`},
		sends:      make(chan json.RawMessage, 1),
	}
	cfg := testConfig(t, b.serve(t))

	stdin, stdinW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- runConnect(context.Background(), cfg, connectOptions{peripheralID: "p1", remember: true}, stdin)
	}()

	if _, err := io.WriteString(stdinW, "hello\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	select {
	case params := <-b.sends:
		if string(params) != `"hello"` {
			t.Errorf("send params = %s", params)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stdin line was not sent")
	}
	stdinW.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runConnect: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not finish after stdin closed")
	}

	b.mu.Lock()
	connects := b.connects
	b.mu.Unlock()
	if len(connects) != 1 {
		t.Fatalf("connect requests = %d, want 1", len(connects))
	}
	if connects[0].PIN != "4242" || string(connects[0].PeripheralID) != `"p1"` {
		t.Errorf("connect params = %+v", connects[0])
	}

	list := pairing.NewService(cfg.Pairing.StorePath, nil).List()
	if len(list) != 1 || list[0].Name != "iCOBOT-42" || list[0].PeripheralID != "p1" {
		t.Errorf("remembered = %+v", list)
	}
}

func TestRunConnect_UsesRememberedPIN(t *testing.T) {
	b := &fakeBridge{
		discovered: []string{`{"peripheralId":"p9","name":"Lab Robot"}`},
		sends:      make(chan json.RawMessage, 1),
	}
	cfg := testConfig(t, b.serve(t))
	if err := pairing.NewService(cfg.Pairing.StorePath, nil).Remember(cfg.Extension.ID, "Lab Robot", "p9", "1234"); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	err := runConnect(context.Background(), cfg, connectOptions{peripheralID: "p9", remember: true}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("runConnect: %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.connects) != 1 || b.connects[0].PIN != "1234" {
		t.Fatalf("connect params = %+v, want remembered pin 1234", b.connects)
	}

	// the remembered pin survives the reconnect
	rec, ok := pairing.NewService(cfg.Pairing.StorePath, nil).Lookup(cfg.Extension.ID, "Lab Robot")
	if !ok || rec.PIN != "1234" {
		t.Errorf("lookup = %+v, %v", rec, ok)
	}
}

func TestRunConnect_UnresolvablePIN(t *testing.T) {
	b := &fakeBridge{discovered: []string{`{"peripheralId":"p9","name":"Lab Robot"}`}}
	cfg := testConfig(t, b.serve(t))

	err := runConnect(context.Background(), cfg, connectOptions{peripheralID: "p9"}, strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), protocol.EventPairingUnresolved) {
		t.Fatalf("err = %v, want pairing unresolved", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.connects) != 0 {
		t.Fatalf("connect requests = %d, want none", len(b.connects))
	}
}

func TestRunConnect_LinkDropReportsConnectionLost(t *testing.T) {
	b := &fakeBridge{
		discovered: []string{`{"peripheralId":"p1","name":"iCOBOT-42"}`},
		sends:      make(chan json.RawMessage, 1),
		dropOnSend: true,
	}
	cfg := testConfig(t, b.serve(t))

	stdin, stdinW := io.Pipe()
	defer stdinW.Close()
	done := make(chan error, 1)
	go func() {
		done <- runConnect(context.Background(), cfg, connectOptions{peripheralID: "p1"}, stdin)
	}()

	if _, err := io.WriteString(stdinW, "hello\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), protocol.EventConnectionLost) {
			t.Fatalf("err = %v, want %s", err, protocol.EventConnectionLost)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not finish after the link dropped")
	}
}
