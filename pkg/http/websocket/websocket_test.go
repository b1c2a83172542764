package websocket

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestByteStream(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	upgrade := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer wg.Done()
		ws, err := Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		for _, msg := range []string{"hey", " there", " champ"} {
			if _, err := ws.Write([]byte(msg)); err != nil {
				t.Error(err)
				return
			}
		}
		ws.Close()
	})

	srv := httptest.NewServer(upgrade)
	defer srv.Close()

	url, _ := url.Parse(srv.URL)
	url.Scheme = "ws"

	conn, _, err := websocket.DefaultDialer.Dial(url.String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var got strings.Builder
	for i := 0; i < 3; i++ {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if msgType != websocket.TextMessage {
			t.Fatalf("expected text message, got type %d", msgType)
		}
		got.Write(msg)
	}
	if got.String() != "hey there champ" {
		t.Fatalf("did not collect message as expected, got %s", got.String())
	}

	wg.Wait()
}

func TestExpectedClose(t *testing.T) {
	readErr := make(chan error)
	upgrade := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		buf := make([]byte, 1)
		_, err = ws.Read(buf)
		readErr <- err
	})

	srv := httptest.NewServer(upgrade)
	defer srv.Close()

	url, _ := url.Parse(srv.URL)
	url.Scheme = "ws"

	conn, _, err := websocket.DefaultDialer.Dial(url.String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()

	if err := <-readErr; !IsExpectedWSCloseError(err) {
		t.Fatalf("expected a clean close error, got %v", err)
	}
}
