package huebridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dokzlo13/wledsync/internal/show"
)

func hueController(host string) *show.Controller {
	return &show.Controller{
		ID:       "hallway",
		Type:     show.ControllerTypeHue,
		URLs:     []string{host},
		Token:    "testtoken",
		HueGroup: "Hallway",
	}
}

func sceneAction(on bool, bri uint8) show.Action {
	return show.Action{Scene: &show.Scene{On: &on, Bri: &bri}}
}

func TestApplyResolvesGroupAndSendsState(t *testing.T) {
	var groupGets int32
	var gotPath string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/groups"):
			atomic.AddInt32(&groupGets, 1)
			fmt.Fprint(w, `{"3": {"name": "Hallway", "type": "Room"}}`)
		case r.Method == http.MethodPut:
			gotPath = r.URL.Path
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			fmt.Fprint(w, `[{"success":{"/groups/3/action/on":true}}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	ctrl := hueController(srv.URL)

	if err := c.Apply(context.Background(), srv.URL, ctrl, sceneAction(true, 128)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(gotPath, "/groups/3/action") {
		t.Errorf("state went to %q, want group 3 action", gotPath)
	}
	if !strings.Contains(gotBody, `"on":true`) || !strings.Contains(gotBody, `"bri":128`) {
		t.Errorf("state body = %s, want on and bri", gotBody)
	}

	// second apply must reuse the cached group ID
	if err := c.Apply(context.Background(), srv.URL, ctrl, sceneAction(false, 1)); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if n := atomic.LoadInt32(&groupGets); n != 1 {
		t.Errorf("group list fetched %d times, want 1", n)
	}
}

func TestApplyUnknownGroupFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"1": {"name": "Kitchen"}}`)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	err := c.Apply(context.Background(), srv.URL, hueController(srv.URL), sceneAction(true, 10))
	if err == nil || !strings.Contains(err.Error(), "Hallway") {
		t.Errorf("err = %v, want unknown group error", err)
	}
}

func TestApplyRejectsNonSceneAction(t *testing.T) {
	c := NewClient(time.Second)
	preset := 1
	err := c.Apply(context.Background(), "http://bridge", hueController("http://bridge"), show.Action{Preset: &preset})
	if err == nil {
		t.Error("preset action against a hue bridge should fail")
	}
}
