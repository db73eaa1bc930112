package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/server"
	"github.com/hvacdash/hvacdash/pkg/server/monitor"
)

// startServer builds a server the way main does, from environment configuration.
func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HVACDASH_SERVER_DATA_DIR", dir)
	t.Setenv("HVACDASH_RETENTION_ENABLED", "false")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.DSN != filepath.Join(dir, config.DefaultDBFile) {
		t.Fatalf("Expected DSN under data dir, got %q", cfg.Database.DSN)
	}

	log, _ := test.NewNullLogger()
	metrics := monitor.NewMetrics()
	store, err := server.InitializeStorage(cfg, metrics, log)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := server.New(cfg, store, metrics, log)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

// TestE2E_IngestAndQuery tests the full ingestion and device log flow
func TestE2E_IngestAndQuery(t *testing.T) {
	ts := startServer(t)

	payload := map[string]interface{}{
		"readings": []map[string]interface{}{
			{"device": "dev1", "time": 100, "temperature": 20.0},
			{"device": "dev1", "time": 112, "temperature": 20.0},
			{"device": "dev2", "time": 100, "temperature": 20.0},
			{"device": "dev2", "time": 110, "temperature": 21.0},
			{"device": "dev2", "time": 112, "temperature": 22.0},
		},
	}
	body, _ := json.Marshal(payload)
	resp := post(t, ts.URL+"/api/v1/readings", "application/json", string(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET devices failed: %v", err)
	}
	var devices ingest.DevicesResponse
	json.NewDecoder(resp.Body).Decode(&devices)
	resp.Body.Close()
	if len(devices.Devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices.Devices))
	}

	dev1 := devices.Devices[0].ID
	resp, err = http.Get(ts.URL + "/api/v1/devices/" + strconv.FormatInt(dev1, 10) + "/log?start=0&end=1000")
	if err != nil {
		t.Fatalf("GET device log failed: %v", err)
	}
	var log ingest.DeviceLogResponse
	json.NewDecoder(resp.Body).Decode(&log)
	resp.Body.Close()

	if len(log.Entries) != 1 {
		t.Fatalf("Expected 1 entry for dev1, got %d", len(log.Entries))
	}
	if log.Entries[0].Logtime != 100 || log.Entries[0].Duration != 13 {
		t.Errorf("Expected entry 100/13, got %d/%d", log.Entries[0].Logtime, log.Entries[0].Duration)
	}
}

// TestE2E_ExportImport moves a log from one server to another through CSV
func TestE2E_ExportImport(t *testing.T) {
	src := startServer(t)
	resp := post(t, src.URL+"/api/v1/readings", "application/json", `{"readings":[
		{"device":"attic","time":1000,"temperature":30.0},
		{"device":"attic","time":1300,"temperature":30.0},
		{"device":"attic","time":1400,"status":{"Fan":"ON"}}
	]}`)
	resp.Body.Close()

	resp, err := http.Get(src.URL + "/api/v1/export?start=0&end=100000")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	exported, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Export returned %d: %s", resp.StatusCode, exported)
	}

	dst := startServer(t)
	resp = post(t, dst.URL+"/api/v1/import", "text/csv", string(exported))
	imported, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Import returned %d: %s", resp.StatusCode, imported)
	}

	resp, err = http.Get(dst.URL + "/api/v1/export?start=0&end=100000")
	if err != nil {
		t.Fatalf("Second export failed: %v", err)
	}
	again, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !bytes.Equal(exported, again) {
		t.Errorf("Round trip changed the log:\n%s\nvs\n%s", exported, again)
	}
}

// TestE2E_InvalidRequests tests error handling
func TestE2E_InvalidRequests(t *testing.T) {
	ts := startServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"invalid JSON", "POST", "/api/v1/readings", "{invalid json}", http.StatusBadRequest},
		{"empty reading", "POST", "/api/v1/readings", `{"readings":[{"device":"x"}]}`, http.StatusBadRequest},
		{"unknown device", "GET", "/api/v1/devices/999/log", "", http.StatusNotFound},
		{"bad device id", "GET", "/api/v1/devices/abc/log", "", http.StatusBadRequest},
		{"bad export format", "GET", "/api/v1/export?format=xml", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, bytes.NewBufferString(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}
