package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"liquiditybook/integrations/exports"
	"liquiditybook/native/lb"
	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/pricing"
)

// withPair resolves the {pair} parameter before calling fn.
func (s *Server) withPair(w http.ResponseWriter, r *http.Request, fn func(*lb.Pair)) {
	pair, err := s.manager.Pair(pairParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	fn(pair)
}

func binIDParam(r *http.Request) (uint32, error) {
	id, err := parseUint("id", chi.URLParam(r, "id"), 32)
	if err != nil {
		return 0, err
	}
	if err := pricing.ValidateID(int64(id)); err != nil {
		return 0, err
	}
	return uint32(id), nil
}

func (s *Server) handleGetStaticFees(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		writeJSON(w, http.StatusOK, p.StaticFeeParameters())
	})
}

func (s *Server) handleGetVariableFees(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		writeJSON(w, http.StatusOK, variableFeesResponse{
			VariableFeeState: p.VariableFeeParameters(),
			Fee:              fixed.String(p.Fee()),
		})
	})
}

func (s *Server) handleGetProtocolFees(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		x, y := p.ProtocolFees()
		writeJSON(w, http.StatusOK, protocolFeesResponse{AmountX: fixed.String(x), AmountY: fixed.String(y)})
	})
}

func (s *Server) handlePriceFromID(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		id, err := binIDParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		price, err := p.PriceFromID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		rendered, err := pricing.Render(price)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, priceResponse{ID: id, Price: rendered.String(), PriceX128: price.Dec()})
	})
}

func (s *Server) handleIDFromPrice(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		raw := r.URL.Query().Get("price")
		if raw == "" {
			writeError(w, badRequest("price is required"))
			return
		}
		price, err := pricing.Parse(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		id, err := p.IDFromPrice(price)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint32{"id": id})
	})
}

func (s *Server) handleReserves(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		x, y := p.Reserves()
		writeJSON(w, http.StatusOK, reservesResponse{ReserveX: fixed.String(x), ReserveY: fixed.String(y)})
	})
}

func (s *Server) handleActiveID(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		writeJSON(w, http.StatusOK, map[string]uint32{"activeId": p.ActiveID()})
	})
}

func (s *Server) handleBin(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		id, err := binIDParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := p.Bin(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, binResponse{
			ID:          id,
			ReserveX:    b.ReserveX.Dec(),
			ReserveY:    b.ReserveY.Dec(),
			TotalSupply: b.TotalSupply.Dec(),
		})
	})
}

func (s *Server) handleNextBin(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		id, err := binIDParam(r)
		if err != nil {
			writeError(w, err)
			return
		}
		swapForY, err := parseBool("swap_for_y", r.URL.Query().Get("swap_for_y"))
		if err != nil {
			writeError(w, err)
			return
		}
		next, ok, err := p.NextNonEmptyBin(id, swapForY)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": next, "found": ok})
	})
}

func (s *Server) handleOracleParameters(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		writeJSON(w, http.StatusOK, p.OracleParameters())
	})
}

func (s *Server) handleOracleSample(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		ts, err := parseUint("timestamp", r.URL.Query().Get("timestamp"), 64)
		if err != nil {
			writeError(w, err)
			return
		}
		sample, err := p.OracleSampleAt(ts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sample)
	})
}

func (s *Server) handleRewardsDistribution(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		var index *uint64
		if raw := r.URL.Query().Get("epoch"); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				writeError(w, badRequest("epoch %q is not an unsigned integer", raw))
				return
			}
			index = &v
		}
		epoch, err := p.RewardsDistribution(index)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, epoch)
	})
}

func (s *Server) handleGetRewardsAlgorithm(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, func(p *lb.Pair) {
		epoch, current, pending := p.RewardsAlgorithm()
		writeJSON(w, http.StatusOK, rewardsAlgorithmResponse{Epoch: epoch, Current: string(current), Pending: string(pending)})
	})
}

// handleExportEpoch serves a finalized epoch; "latest" selects the most recent.
func (s *Server) handleExportEpoch(w http.ResponseWriter, r *http.Request) {
	var index *uint64
	if raw := chi.URLParam(r, "epoch"); raw != "latest" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, badRequest("epoch %q is not an unsigned integer", raw))
			return
		}
		index = &v
	}
	format := exports.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = exports.FormatCSV
	}
	switch format {
	case exports.FormatCSV, exports.FormatJSONL, exports.FormatParquet:
	default:
		writeError(w, badRequest("format %q must be csv, jsonl or parquet", format))
		return
	}
	data, checksum, epoch, err := s.manager.ExportEpoch(pairParam(r), index, format)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=\""+pairParam(r)+"-epoch-"+strconv.FormatUint(epoch.Index, 10)+"."+string(format)+"\"")
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
