package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/dispatch"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// deviceView is a registry record with its kind spelled out.
type deviceView struct {
	device.Record
	KindName string `json:"kind_name"`
	HexID    string `json:"hex_id"`
}

func newDeviceView(rec device.Record) deviceView {
	return deviceView{Record: rec, KindName: rec.Kind.String(), HexID: rec.HexID()}
}

// handleListDevices returns every known device, optionally filtered by
// ?kind=smartlock|box|opener|smartdoor.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")

	records := s.registry.List()
	out := make([]deviceView, 0, len(records))
	for _, rec := range records {
		if kind != "" && !strings.EqualFold(rec.Kind.String(), kind) {
			continue
		}
		out = append(out, newDeviceView(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device with the state nodes below its path.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device": newDeviceView(*rec),
		"states": s.store.List(rec.Path),
	})
}

// actionRequest names the action by code or by button name.
type actionRequest struct {
	Action int    `json:"action"`
	Button string `json:"button"`
}

// handleDeviceAction queues an action and answers 202 with the request ID.
// The outcome arrives as an action_result event.
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "action dispatch not available")
		return
	}

	var body actionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	action := body.Action
	if body.Button != "" {
		code, err := nuki.ActionByButton(rec.Kind, strings.ToUpper(body.Button))
		if err != nil {
			writeDomainError(w, err, "resolving button")
			return
		}
		action = code
	}
	name, err := nuki.ActionName(rec.Kind, action)
	if err != nil || action <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unsupported action for "+rec.Kind.String())
		return
	}

	req := dispatch.NewRequest(rec, action)
	id := s.dispatcher.Submit(req)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": id,
		"device":     rec.HexID(),
		"action":     action,
		"name":       name,
		"transport":  s.dispatcher.Preferred(),
	})
}

func (s *Server) resolveDevice(w http.ResponseWriter, r *http.Request) (*device.Record, bool) {
	hexID := strings.ToLower(chi.URLParam(r, "hex"))
	rec, err := s.registry.Resolve(hexID)
	if err != nil {
		writeDomainError(w, err, "resolving device")
		return nil, false
	}
	return rec, true
}

// handleListStates returns the nodes at or below ?prefix=.
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	values := s.store.List(r.URL.Query().Get("prefix"))
	writeJSON(w, http.StatusOK, map[string]any{
		"states": values,
		"count":  len(values),
	})
}

// handleGetState returns one node.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	v, ok := s.store.Get(p)
	if !ok {
		writeDomainError(w, state.ErrNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type setStateRequest struct {
	Val any `json:"val"`
}

// handleSetState writes an unacknowledged value, exactly like a command
// arriving over MQTT.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")

	var body setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.Command(r.Context(), p, body.Val); err != nil {
		writeDomainError(w, err, "writing state")
		return
	}

	v, _ := s.store.Get(p)
	writeJSON(w, http.StatusAccepted, v)
}
