package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ferris-cabinet/internal/input"
	"ferris-cabinet/internal/nfc"

	"github.com/go-chi/chi/v5"
)

const (
	maxTagLength      = 64
	defaultEventLimit = 20
	maxEventLimit     = 256
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetSnapshot())
}

func (h *routerHandlers) handleGetDisplay(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	writeJSON(w, map[string]interface{}{
		"text": snap.Display,
		"tick": snap.TickNumber,
	})
}

func (h *routerHandlers) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	if h.renderer == nil {
		writeError(w, "Frame rendering disabled", http.StatusNotFound)
		return
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := h.renderer.WritePNG(&buf, h.engine.GetSnapshot()); err != nil {
		log.Printf("⚠️ Frame render failed: %v", err)
		writeError(w, "Render failed", http.StatusInternalServerError)
		return
	}
	RecordRender(time.Since(start))

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	stats := map[string]interface{}{
		"tick":      snap.TickNumber,
		"eventLog":  h.engine.GetEventLogStats(),
		"rateLimit": h.limiter.Stats(),
	}
	if h.dirStats != nil {
		stats["directoryCache"] = h.dirStats()
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleNFCStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.GetSnapshot()
	if snap.NFC == nil {
		writeJSON(w, map[string]interface{}{
			"state":   "disabled",
			"display": snap.Display,
		})
		return
	}
	writeJSON(w, snap.NFC)
}

func (h *routerHandlers) handleNFCEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}
	writeJSON(w, h.engine.RecentEvents(limit))
}

func (h *routerHandlers) handleNFCTap(w http.ResponseWriter, r *http.Request) {
	if h.tapper == nil {
		writeError(w, "Tag taps are only accepted by the manual reader", http.StatusConflict)
		return
	}

	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	tag, err := normalizeTag(req.Tag)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.tapper.Tap(tag)
	log.Printf("🏷️ Manual tap: %s", tag)

	writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"tag":     tag,
	})
}

func (h *routerHandlers) handleInput(w http.ResponseWriter, r *http.Request) {
	var msg inputMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if _, _, err := applyInput(h.engine.Controls(), msg); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success":  true,
		"controls": h.engine.Controls().Snapshot().Held(),
	})
}

func (h *routerHandlers) handleReleaseAll(w http.ResponseWriter, r *http.Request) {
	h.engine.Controls().ReleaseAll()
	writeJSON(w, map[string]interface{}{"success": true})
}

func (h *routerHandlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireUsers(w) {
		return
	}
	regs, err := h.users.List()
	if err != nil {
		log.Printf("⚠️ List users failed: %v", err)
		writeError(w, "Directory unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, regs)
}

func (h *routerHandlers) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireUsers(w) {
		return
	}

	var req struct {
		Tag       string `json:"tag"`
		Username  string `json:"username"`
		AvatarURL string `json:"avatarUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	tag, err := normalizeTag(req.Tag)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, "Username is required", http.StatusBadRequest)
		return
	}

	reg, err := h.users.Register(string(tag), req.Username, req.AvatarURL)
	if err != nil {
		log.Printf("⚠️ Register %s failed: %v", tag, err)
		writeError(w, "Directory unavailable", http.StatusInternalServerError)
		return
	}
	h.userChanged(tag)
	log.Printf("👤 Registered tag %s → %s", tag, reg.Username)

	writeJSONStatus(w, http.StatusCreated, reg)
}

func (h *routerHandlers) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireUsers(w) {
		return
	}
	tag, err := normalizeTag(chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	reg, err := h.users.Get(string(tag))
	if errors.Is(err, nfc.ErrUnknownTag) {
		writeError(w, "Tag not registered", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("⚠️ Get user failed: %v", err)
		writeError(w, "Directory unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, reg)
}

func (h *routerHandlers) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireUsers(w) {
		return
	}
	tag, err := normalizeTag(chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.users.Remove(string(tag))
	if errors.Is(err, nfc.ErrUnknownTag) {
		writeError(w, "Tag not registered", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("⚠️ Remove %s failed: %v", tag, err)
		writeError(w, "Directory unavailable", http.StatusInternalServerError)
		return
	}
	h.userChanged(tag)
	log.Printf("👤 Removed tag %s", tag)

	w.WriteHeader(http.StatusNoContent)
}

func (h *routerHandlers) requireUsers(w http.ResponseWriter) bool {
	if h.users == nil {
		writeError(w, "Local directory not enabled", http.StatusConflict)
		return false
	}
	return true
}

func (h *routerHandlers) userChanged(tag nfc.TagID) {
	if h.onUserChange != nil {
		h.onUserChange(tag)
	}
}

// inputMessage is one button edge from the admin panel or a WebSocket client
type inputMessage struct {
	Player  int    `json:"player"`
	Button  string `json:"button"`
	Pressed bool   `json:"pressed"`
}

// applyInput validates msg and writes it to controls
func applyInput(controls *input.Controls, msg inputMessage) (input.Player, input.Button, error) {
	player, err := input.ParsePlayer(strconv.Itoa(msg.Player))
	if err != nil {
		return 0, 0, err
	}
	button, err := input.ParseButton(msg.Button)
	if err != nil {
		return 0, 0, err
	}
	if err := controls.Set(player, button, msg.Pressed); err != nil {
		return 0, 0, err
	}
	return player, button, nil
}

func normalizeTag(raw string) (nfc.TagID, error) {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if tag == "" {
		return "", errors.New("tag is required")
	}
	if len(tag) > maxTagLength {
		return "", fmt.Errorf("tag longer than %d characters", maxTagLength)
	}
	return nfc.TagID(tag), nil
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
