package server

import (
	"net/http"

	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/rewards"
	"liquiditybook/services/lbpaird/middleware"
)

func (s *Server) auditAdmin(r *http.Request, operation string) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	s.logger.Info("admin operation",
		"operation", operation,
		"pair", pairParam(r),
		"subject", principal.Subject,
		"request_id", r.Header.Get(middleware.RequestIDHeader),
	)
}

func (s *Server) handleSetStaticFees(w http.ResponseWriter, r *http.Request) {
	var params fees.StaticFeeParameters
	if err := decodeBody(w, r, &params); err != nil {
		writeError(w, err)
		return
	}
	r = requestContext(r)
	if err := s.manager.SetStaticFees(r.Context(), pairParam(r), params); err != nil {
		writeError(w, err)
		return
	}
	s.auditAdmin(r, "set_static_fees")
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleForceDecay(w http.ResponseWriter, r *http.Request) {
	r = requestContext(r)
	if err := s.manager.ForceDecay(r.Context(), pairParam(r)); err != nil {
		writeError(w, err)
		return
	}
	s.auditAdmin(r, "force_decay")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCollectProtocolFees(w http.ResponseWriter, r *http.Request) {
	r = requestContext(r)
	x, y, err := s.manager.CollectProtocolFees(r.Context(), pairParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	s.auditAdmin(r, "collect_protocol_fees")
	writeJSON(w, http.StatusOK, protocolFeesResponse{AmountX: fixed.String(x), AmountY: fixed.String(y)})
}

func (s *Server) handleIncreaseOracleLength(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Length int `json:"length"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	r = requestContext(r)
	if err := s.manager.IncreaseOracleLength(r.Context(), pairParam(r), body.Length); err != nil {
		writeError(w, err)
		return
	}
	s.auditAdmin(r, "increase_oracle_length")
	pair, err := s.manager.Pair(pairParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair.OracleParameters())
}

func (s *Server) handleCloseEpoch(w http.ResponseWriter, r *http.Request) {
	r = requestContext(r)
	epoch, err := s.manager.CloseEpoch(r.Context(), pairParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	s.auditAdmin(r, "close_epoch")
	writeJSON(w, http.StatusOK, epoch)
}

func (s *Server) handleSetRewardsAlgorithm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Algorithm string `json:"algorithm"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	algorithm, err := rewards.ParseAlgorithm(body.Algorithm)
	if err != nil {
		writeError(w, err)
		return
	}
	r = requestContext(r)
	if err := s.manager.SetRewardsAlgorithm(r.Context(), pairParam(r), algorithm); err != nil {
		writeError(w, err)
		return
	}
	s.auditAdmin(r, "set_rewards_algorithm")
	pair, err := s.manager.Pair(pairParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	epoch, current, pending := pair.RewardsAlgorithm()
	writeJSON(w, http.StatusOK, rewardsAlgorithmResponse{Epoch: epoch, Current: string(current), Pending: string(pending)})
}
