package api

import (
	stdErrors "errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"SwarmQuarry/internal/auth"
	xerrors "SwarmQuarry/internal/errors"
	"SwarmQuarry/internal/swarm"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, response{Success: s.svc.ListSwarms(r.Context())})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarmid")
	view, err := s.svc.GetSwarm(r.Context(), swarmID)
	if err != nil {
		if stdErrors.Is(err, swarm.ErrSwarmNotFound) {
			writeJSON(w, response{Error: infoError{Message: msgInvalidSwarm}, Code: xerrors.CodeNotFound})
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, response{Success: map[string]swarm.View{swarmID: view}})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context(), r.PathValue("swarmid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, response{Success: stats})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, response{Success: map[string]any{
		"status": "ok",
		"swarms": len(s.svc.ListSwarms(r.Context())),
	}})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	swarmID := r.PathValue("swarmid")
	command := r.PathValue("command")
	caller, _ := auth.CallerFromContext(r.Context())
	query := r.URL.Query()

	switch command {
	case "create":
		s.handleCreate(w, r, swarmID, caller, query)
		return
	case "claimshaft", "finishedshaft", "travel", "traveldone":
	default:
		writeJSON(w, response{Error: msgUnrecognized, Code: ClientCodeUnrecognizedCommand})
		return
	}

	if err := s.checkAccess(swarmID, caller); err != nil {
		s.fail(w, r, err)
		return
	}

	switch command {
	case "claimshaft":
		s.handleClaim(w, r, swarmID, query)
	case "finishedshaft":
		s.handleFinished(w, r, swarmID, query)
	case "travel":
		s.handleTravel(w, r, swarmID, query)
	case "traveldone":
		s.handleTravelDone(w, r, swarmID, query)
	}
}

// checkAccess 依次校验口令、swarm 是否存在以及调用方是否为创建者。
func (s *Server) checkAccess(swarmID string, caller auth.Caller) error {
	if err := s.gate.Authorize(caller); err != nil {
		return err
	}
	owner, err := s.svc.Owner(swarmID)
	if err != nil {
		return err
	}
	return s.gate.OwnsSwarm(swarmID, owner, caller)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, swarmID string, caller auth.Caller, query url.Values) {
	if err := s.gate.Authorize(caller); err != nil {
		s.fail(w, r, err)
		return
	}
	width, okW := parseCount(query.Get("width"))
	length, okL := parseCount(query.Get("length"))
	if !okW || !okL {
		s.fail(w, r, swarm.ErrInvalidParameters)
		return
	}
	result, err := s.svc.CreateSwarm(r.Context(), swarmID, width, length, caller.Address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, response{Success: "swarm created", Shafts: intPtr(result.ShaftCount)})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, swarmID string, query url.Values) {
	workerID, ok := requiredParam(query, "id")
	if !ok {
		s.fail(w, r, swarm.ErrInvalidParameters)
		return
	}
	result, err := s.svc.ClaimShaft(r.Context(), swarmID, workerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if result.Exhausted {
		writeJSON(w, response{Error: msgNoRemaining, Remaining: intPtr(0)})
		return
	}
	writeJSON(w, response{Success: result.Shaft, Remaining: intPtr(result.Remaining)})
}

func (s *Server) handleFinished(w http.ResponseWriter, r *http.Request, swarmID string, query url.Values) {
	x, okX := swarm.ParseCoordinate(query.Get("x"))
	z, okZ := swarm.ParseCoordinate(query.Get("z"))
	if !okX || !okZ {
		s.fail(w, r, swarm.ErrInvalidParameters)
		return
	}
	if _, err := s.svc.CompleteShaft(r.Context(), swarmID, x, z); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, response{Success: true})
}

func (s *Server) handleTravel(w http.ResponseWriter, r *http.Request, swarmID string, query url.Values) {
	workerID, ok := requiredParam(query, "id")
	if !ok {
		s.fail(w, r, swarm.ErrInvalidParameters)
		return
	}
	start, okStart := parsePoint(query, "start", "from")
	dest, okDest := parsePoint(query, "dest")
	if !okStart || !okDest {
		s.fail(w, r, swarm.ErrInvalidParameters)
		return
	}
	admission, err := s.svc.Reserve(r.Context(), swarmID, workerID, start, dest)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !admission.Admitted {
		writeJSON(w, errorResponse(swarm.ErrPathConflict))
		return
	}
	writeJSON(w, response{Success: true})
}

func (s *Server) handleTravelDone(w http.ResponseWriter, r *http.Request, swarmID string, query url.Values) {
	workerID, ok := requiredParam(query, "id")
	if !ok {
		s.fail(w, r, swarm.ErrInvalidParameters)
		return
	}
	released, err := s.svc.ReleaseReservation(r.Context(), swarmID, workerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !released {
		writeJSON(w, response{Success: true, Error: msgTravelIDNotExist})
		return
	}
	writeJSON(w, response{Success: true})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if isInternal(err) {
		s.logger.ErrorContext(r.Context(), "请求处理失败",
			slog.Any("error", err),
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
		)
	}
	writeJSON(w, errorResponse(err))
}

func requiredParam(query url.Values, key string) (string, bool) {
	if !query.Has(key) {
		return "", false
	}
	value := strings.TrimSpace(query.Get(key))
	return value, value != ""
}

// parsePoint 读取 <prefix>X 与 <prefix>Z，多个前缀按顺序作为别名尝试。Y 坐标不参与计算。
func parsePoint(query url.Values, prefixes ...string) (swarm.Point, bool) {
	for _, prefix := range prefixes {
		rawX, rawZ := query.Get(prefix+"X"), query.Get(prefix+"Z")
		if rawX == "" && rawZ == "" {
			continue
		}
		x, okX := swarm.ParseCoordinate(rawX)
		z, okZ := swarm.ParseCoordinate(rawZ)
		if !okX || !okZ {
			return swarm.Point{}, false
		}
		return swarm.Point{X: x, Z: z}, true
	}
	return swarm.Point{}, false
}

func parseCount(raw string) (int, bool) {
	v, ok := swarm.ParseCoordinate(raw)
	return v, ok && v > 0
}
