package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/pricing"
	"liquiditybook/services/lbpaird/manager"
	"liquiditybook/services/lbpaird/middleware"
)

func requestContext(r *http.Request) *http.Request {
	ctx := manager.WithRequestID(r.Context(), r.Header.Get(middleware.RequestIDHeader))
	return r.WithContext(ctx)
}

func (s *Server) handleListPairs(w http.ResponseWriter, _ *http.Request) {
	names := s.manager.Names()
	out := make([]pairSummary, 0, len(names))
	for _, name := range names {
		pair, err := s.manager.Pair(name)
		if err != nil {
			continue
		}
		summary := pairSummary{
			Name:     name,
			TokenX:   pair.TokenX().Hex(),
			TokenY:   pair.TokenY().Hex(),
			BinStep:  pair.BinStep(),
			ActiveID: pair.ActiveID(),
		}
		if price, err := pair.PriceFromID(summary.ActiveID); err == nil {
			if rendered, err := pricing.Render(price); err == nil {
				summary.Price = rendered.String()
			}
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var body swapRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.toEngine()
	if err != nil {
		writeError(w, err)
		return
	}
	r = requestContext(r)
	res, err := s.manager.Swap(r.Context(), pairParam(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapResponse(res))
}

func (s *Server) handleSwapExactOut(w http.ResponseWriter, r *http.Request) {
	var body exactOutRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.toEngine()
	if err != nil {
		writeError(w, err)
		return
	}
	r = requestContext(r)
	res, err := s.manager.SwapExactOut(r.Context(), pairParam(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapResponse(res))
}

func (s *Server) handleQuoteOut(w http.ResponseWriter, r *http.Request) {
	pair, err := s.manager.Pair(pairParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	amountIn, err := parseAmount("amount_in", q.Get("amount_in"))
	if err != nil {
		writeError(w, err)
		return
	}
	swapForY, err := parseBool("swap_for_y", q.Get("swap_for_y"))
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := pair.GetSwapOut(amountIn, swapForY)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outQuoteResponse{
		AmountInLeft: fixed.String(quote.AmountInLeft),
		AmountOut:    fixed.String(quote.AmountOut),
		LPFee:        fixed.String(quote.LPFee),
		ProtocolFee:  fixed.String(quote.ProtocolFee),
		TotalFee:     fixed.String(quote.TotalFee),
	})
}

func (s *Server) handleQuoteIn(w http.ResponseWriter, r *http.Request) {
	pair, err := s.manager.Pair(pairParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	amountOut, err := parseAmount("amount_out", q.Get("amount_out"))
	if err != nil {
		writeError(w, err)
		return
	}
	swapForY, err := parseBool("swap_for_y", q.Get("swap_for_y"))
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := pair.GetSwapIn(amountOut, swapForY)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inQuoteResponse{
		AmountIn:      fixed.String(quote.AmountIn),
		AmountOutLeft: fixed.String(quote.AmountOutLeft),
		Fee:           fixed.String(quote.Fee),
	})
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var body addLiquidityRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := body.toEngine()
	if err != nil {
		writeError(w, err)
		return
	}
	r = requestContext(r)
	res, err := s.manager.AddLiquidity(r.Context(), pairParam(r), owner, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAddLiquidityResponse(res))
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var body removeLiquidityRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := body.toEngine()
	if err != nil {
		writeError(w, err)
		return
	}
	r = requestContext(r)
	res, err := s.manager.RemoveLiquidity(r.Context(), pairParam(r), owner, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRemoveLiquidityResponse(res))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	positions, err := s.manager.Positions(pairParam(r), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]positionResponse, len(positions))
	for i, p := range positions {
		out[i] = positionResponse{ID: p.ID, Shares: fixed.String(p.Shares)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSwapHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, badRequest("limit %q must be a positive integer", raw))
			return
		}
		limit = parsed
	}
	records, err := s.manager.SwapHistory(r.Context(), pairParam(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleLiquidityHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.manager.LiquidityHistory(r.Context(), pairParam(r), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
