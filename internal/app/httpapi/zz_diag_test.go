package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestZZDiagWebsocketHandshake(t *testing.T) {
	clock := &testClock{now: t0}
	api, _ := newTestAPI(t, clock, nil)
	pubHex, _, _ := guardianIdentity(t)

	deployed := deployVault(t, api, pubHex, nil)
	vaultAddr := deployed.Vault.Address

	srv := httptest.NewServer(api)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?vault=" + vaultAddr
	header := http.Header{}
	header.Set("X-Caller", addrOwner)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			t.Logf("handshake status=%d body=%q", resp.StatusCode, string(body))
		}
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}
