package app

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	battle "real-pet/battle"
	"real-pet/battle/internal/net/ws"
	"real-pet/battle/logging"
)

// BattleSnapshot is the scene state exposed on /diagnostics.
type BattleSnapshot struct {
	Frame      int64  `json:"frame"`
	SyncedTime int64  `json:"syncedTime"`
	Phase      string `json:"phase"`
	Exited     bool   `json:"exited"`
	Hits       int    `json:"hits"`
	Faults     int    `json:"scriptFaults"`
}

// diagnostics carries the latest snapshot from the tick loop to HTTP
// handlers. The scene itself never leaves the tick goroutine.
type diagnostics struct {
	latest atomic.Pointer[BattleSnapshot]
}

func (d *diagnostics) record(scene *battle.Scene) {
	if d == nil {
		return
	}
	stats := scene.Stats()
	d.latest.Store(&BattleSnapshot{
		Frame:      int64(scene.Time()),
		SyncedTime: int64(scene.SyncedTime()),
		Phase:      scene.Phase(),
		Exited:     scene.Exited(),
		Hits:       stats.Hits,
		Faults:     stats.ScriptFaults,
	})
}

func (d *diagnostics) snapshot() *BattleSnapshot {
	if d == nil {
		return nil
	}
	return d.latest.Load()
}

type httpHandlerConfig struct {
	Acceptor    *ws.Acceptor
	Diagnostics *diagnostics
	Metrics     *logging.Metrics
	Router      *logging.Router
	TickRate    int
}

func newHTTPHandler(cfg httpHandlerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		payload := struct {
			Status     string              `json:"status"`
			ServerTime int64               `json:"serverTime"`
			TickRate   int                 `json:"tickRate"`
			Battle     *BattleSnapshot     `json:"battle,omitempty"`
			Telemetry  map[string]uint64   `json:"telemetry"`
			Logging    logging.RouterStats `json:"logging"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Battle:     cfg.Diagnostics.snapshot(),
			Telemetry:  cfg.Metrics.Snapshot(),
		}
		if cfg.Router != nil {
			payload.Logging = cfg.Router.Stats()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if cfg.Acceptor != nil {
		mux.HandleFunc(battlePath, cfg.Acceptor.Handle)
	}
	return mux
}

func httpError(w http.ResponseWriter, msg string, code int) {
	http.Error(w, msg, code)
}
