package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devmesh/meshnode"
)

// dapiBody is the optional JSON body accepted by PUT and POST /dapi
// requests. Key names the metric or event for the "metrics"/"events"
// POST special cases; Value and Params carry the operation's argument(s).
type dapiBody struct {
	Key    string `json:"key,omitempty"`
	Value  any    `json:"value,omitempty"`
	Params []any  `json:"params,omitempty"`
}

// withDevice connects to id, runs fn against the resulting Proxy, and
// disconnects regardless of outcome.
func (s *Server) withDevice(w http.ResponseWriter, r *http.Request, fn func(meshnode.Proxy) (any, error)) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	proxy, err := s.node.Connect(ctx, id)
	if err != nil {
		if errors.Is(err, meshnode.ErrDeviceNotConnected) {
			writeNotFound(w, err.Error())
			return
		}
		writeBadRequest(w, err.Error())
		return
	}
	defer s.node.Disconnect(ctx, proxy)

	result, err := fn(proxy)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleGet implements GET /dapi/{id}/{ident} -> GET, or DESCRIBE when
// ident is ".schema" or ".config".
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")
	s.withDevice(w, r, func(p meshnode.Proxy) (any, error) {
		ctx := r.Context()
		if ident == ".schema" || ident == ".config" {
			return p.Describe(ctx, ident)
		}
		return p.Get(ctx, ident)
	})
}

// handlePut implements PUT /dapi/{id}/{ident} -> SET, or CONFIG when
// ident is ".config".
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	s.withDevice(w, r, func(p meshnode.Proxy) (any, error) {
		ctx := r.Context()
		if ident == ".config" {
			return p.Config(ctx, ident, body.Value)
		}
		return p.Set(ctx, ident, body.Value)
	})
}

// handlePost implements POST /dapi/{id}/{ident} -> INVOKE, or PUT/NOTIFY
// when ident is "metrics"/"events", extracting a single key/value from
// the body.
//
// The metrics/events cases inject an upstream request directly — they
// simulate the device itself emitting a PUT/NOTIFY, so they run through
// DispatchUpstream's middleware chain and fan out to every attached
// proxy, exactly as a native device's OnPut/OnNotify callback would.
// This only makes sense for a device this node is authoritative for.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	switch ident {
	case "metrics":
		if body.Key == "" {
			writeBadRequest(w, "metrics post requires a \"key\"")
			return
		}
		s.dispatchUpstream(w, r, meshnode.Put, body.Key, body.Value, nil)
	case "events":
		if body.Key == "" {
			writeBadRequest(w, "events post requires a \"key\"")
			return
		}
		params := body.Params
		if params == nil && body.Value != nil {
			params = []any{body.Value}
		}
		s.dispatchUpstream(w, r, meshnode.Notify, body.Key, nil, params)
	default:
		s.withDevice(w, r, func(p meshnode.Proxy) (any, error) {
			return p.Invoke(r.Context(), ident, body.Params)
		})
	}
}

func (s *Server) dispatchUpstream(w http.ResponseWriter, r *http.Request, verb meshnode.Verb, identifier string, value any, params []any) {
	id := chi.URLParam(r, "id")
	rec := s.node.Resolver.Resolve(id)
	if !rec.IsValid {
		writeBadRequest(w, rec.Err)
		return
	}
	if !rec.IsLocal {
		writeBadRequest(w, "device is not authoritative on this node")
		return
	}

	s.node.Dispatcher.DispatchUpstream(r.Context(), &meshnode.Request{
		DeviceID:   rec.ID,
		Method:     verb,
		Identifier: identifier,
		Value:      value,
		Params:     params,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func readBody(r *http.Request) (dapiBody, error) {
	if r.ContentLength == 0 {
		return dapiBody{}, nil
	}
	var body dapiBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return dapiBody{}, errors.New("invalid JSON body")
	}
	return body, nil
}
