package devices

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeController serves the XML protocol over a websocket
type fakeController struct {
	mu    sync.Mutex
	units map[int64]map[string]string
	names map[int64]string
	sets  []map[string]string
	srv   *httptest.Server
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	f := &fakeController{
		units: map[int64]map[string]string{
			12: {"Drive": "ON", "FanSpeed": "LOW", "InletTemp": "21.5", "Mode": ""},
			13: {"Drive": "OFF", "FanSpeed": "HIGH", "InletTemp": "19.0"},
		},
		names: map[int64]string{12: "Kitchen ERV", 13: "Bathroom ERV"},
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{controllerSubprotocol}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req packet
		if err := xml.Unmarshal(msg, &req); err != nil {
			return
		}
		if reply, ok := f.handle(req); ok {
			body, _ := xml.Marshal(reply)
			_ = conn.WriteMessage(websocket.TextMessage, body)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeController) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/b_xmlproc/"
}

func (f *fakeController) handle(req packet) (packet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reply := packet{Command: req.Command + "Reply"}
	if req.DatabaseManager.ControlGroup != nil {
		cg := &controlGroup{}
		for _, id := range []int64{12, 13} {
			cg.MnetList.Records = append(cg.MnetList.Records, mnetRecord{Group: strconv.FormatInt(id, 10), Name: f.names[id]})
		}
		reply.DatabaseManager.ControlGroup = cg
		return reply, true
	}

	for _, m := range req.DatabaseManager.Mnet {
		attrs := map[string]string{}
		var group int64
		for _, a := range m.Attrs {
			if a.Name.Local == "Group" {
				group, _ = strconv.ParseInt(a.Value, 10, 64)
				continue
			}
			attrs[a.Name.Local] = a.Value
		}
		unit, ok := f.units[group]
		if req.Command == "setRequest" {
			f.sets = append(f.sets, attrs)
			for k, v := range attrs {
				if ok {
					unit[k] = v
				}
			}
			return packet{}, false
		}
		if ok {
			reply.DatabaseManager.Mnet = append(reply.DatabaseManager.Mnet, newMnet(group, unit))
		}
	}
	return reply, true
}

func (f *fakeController) setRequests() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.sets...)
}

// stubClient is an in-memory Client
type stubClient struct {
	units   []Unit
	info    map[int64]map[string]string
	infoErr map[int64]error
	listErr error
}

func (s *stubClient) ListDevices(context.Context) ([]Unit, error) { return s.units, s.listErr }

func (s *stubClient) GetDeviceInfo(_ context.Context, id int64) (map[string]string, error) {
	if err := s.infoErr[id]; err != nil {
		return nil, err
	}
	return s.info[id], nil
}

func (s *stubClient) SetAttributes(context.Context, int64, map[string]string) error { return nil }
