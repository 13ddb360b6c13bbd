package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/logger"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warningf("response encode failed: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type broadcastRequest struct {
	Text     string `json:"text"`
	MediaRef string `json:"media_ref"`
	Caption  string `json:"caption"`
	Spoiler  bool   `json:"spoiler"`
}

func broadcastHandler(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req broadcastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST")
			return
		}
		if req.Text == "" && req.MediaRef == "" {
			writeJSONError(w, http.StatusBadRequest, "EMPTY_PAYLOAD")
			return
		}
		jobID, err := d.Start(r.Context(), Payload{
			Text:     req.Text,
			MediaRef: req.MediaRef,
			Caption:  req.Caption,
			Spoiler:  req.Spoiler,
		})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "STORAGE_UNAVAILABLE")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
	}
}

func broadcastStatusHandler(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("id")
		if jobID == "" {
			writeJSONError(w, http.StatusBadRequest, "MISSING_ID")
			return
		}
		if r.Method == http.MethodDelete {
			if !d.Cancel(jobID) {
				writeJSONError(w, http.StatusNotFound, "NOT_FOUND")
				return
			}
		}
		job, ok := d.Status(jobID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "NOT_FOUND")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func leaderboardHandler(lb *Leaderboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		entries, err := lb.Top(r.Context(), limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "STORAGE_UNAVAILABLE")
			return
		}
		type row struct {
			AccountID string `json:"account_id"`
			FirstName string `json:"first_name"`
			Owned     int64  `json:"owned"`
		}
		out := make([]row, 0, len(entries))
		for _, e := range entries {
			out = append(out, row{AccountID: e.AccountID, FirstName: e.FirstName, Owned: e.Owned})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type uploadRequest struct {
	Name     string `json:"name"`
	Series   string `json:"series"`
	Rarity   int    `json:"rarity"`
	MediaRef string `json:"media_ref"`
	Uploader string `json:"uploader"`
}

func catalogUploadHandler(c *Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req uploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST")
			return
		}
		col, err := c.Upload(r.Context(), UploadInput{
			Name:     req.Name,
			Series:   req.Series,
			Rarity:   Rarity(req.Rarity),
			MediaRef: req.MediaRef,
			Uploader: req.Uploader,
		})
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_OPERAND")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"collectible_id": col.CollectibleID,
			"name":           col.Name,
			"rarity":         int(col.Rarity),
			"price":          col.Price,
		})
	}
}

func newAPIMux(gw *WSGateway, d *Dispatcher, lb *Leaderboard, c *Catalog) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/health", healthHandler())
	mux.HandleFunc("/broadcast", broadcastHandler(d))
	mux.HandleFunc("/broadcast/status", broadcastStatusHandler(d))
	mux.HandleFunc("/leaderboard", leaderboardHandler(lb))
	mux.HandleFunc("/catalog/upload", catalogUploadHandler(c))
	return mux
}
