// Package main implements a mock remote tool server for local development
// and e2e testing. It serves POST /tools/{name} responses from JSON fixture
// files, routing by tool name. This eliminates the need for a real tool
// service during workflow wiring tests, making them fast, deterministic,
// and offline-capable.
//
// Usage:
//
//	mock-tools -fixtures /path/to/fixtures -port 9000
//
// Fixture files are JSON named by tool (e.g., "web_search.json" is returned
// for tool "web_search"). A fixture named "<tool>.status" holding a bare
// HTTP status code (e.g., "429") makes the tool fail with that status,
// which is useful for exercising retry and classification paths.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

type server struct {
	fixtureDir string
	calls      atomic.Int64
}

func (s *server) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/tools/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "Tool name required", http.StatusBadRequest)
		return
	}

	var body struct {
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n := s.calls.Add(1)
	log.Printf("call %d: tool=%s params=%d", n, name, len(body.Parameters))

	// A status fixture forces an error response for this tool.
	if data, err := os.ReadFile(filepath.Join(s.fixtureDir, name+".status")); err == nil {
		if code, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			http.Error(w, fmt.Sprintf("mock failure for %s", name), code)
			return
		}
	}

	data, err := os.ReadFile(filepath.Join(s.fixtureDir, name+".json"))
	if err != nil {
		http.Error(w, "Tool not found: "+name, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) handleCalls(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"calls":%d}`, s.calls.Load())
}

func main() {
	fixtures := flag.String("fixtures", "fixtures", "Directory holding tool fixture files")
	port := flag.Int("port", 9000, "Listen port")
	flag.Parse()

	if _, err := os.Stat(*fixtures); err != nil {
		log.Fatalf("fixtures directory not usable: %v", err)
	}

	s := &server{fixtureDir: *fixtures}
	mux := http.NewServeMux()
	mux.HandleFunc("/tools/", s.handleTool)
	mux.HandleFunc("/calls", s.handleCalls)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock-tools listening on %s, fixtures=%s", addr, *fixtures)
	log.Fatal(http.ListenAndServe(addr, mux))
}
