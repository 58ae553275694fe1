package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/ptpgo/ptpengine"
)

// statusPayload is what GET /status returns, a snapshot of the engine's
// session bookkeeping for an operator watching a long-running dump.
type statusPayload struct {
	Session       uint32 `json:"session"`
	TransactionID uint32 `json:"transactionId"`
	DeviceType    string `json:"deviceType"`
}

// serveStatus starts a go-chi router with a single /status endpoint and
// blocks serving it; intended to be run in its own goroutine from main.
func serveStatus(addr string, e *ptpengine.Engine) {
	r := chi.NewRouter()
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		p := statusPayload{
			Session:       e.Session(),
			TransactionID: e.TransactionID(),
			DeviceType:    e.DeviceType().String(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	})
	log.Printf("ptpdump: status endpoint listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Printf("ptpdump: status server exited: %v", err)
	}
}
