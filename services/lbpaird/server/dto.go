package server

import (
	"liquiditybook/native/lb"
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/fixed"
)

type swapRequest struct {
	OfferToken   string `json:"offerToken,omitempty"`
	SwapForY     bool   `json:"swapForY"`
	AmountIn     string `json:"amountIn"`
	AmountOutMin string `json:"amountOutMin,omitempty"`
	AllowPartial bool   `json:"allowPartial,omitempty"`
	Deadline     uint64 `json:"deadline,omitempty"`
}

func (req swapRequest) toEngine() (lb.SwapRequest, error) {
	offer, err := parseOptionalAddress("offerToken", req.OfferToken)
	if err != nil {
		return lb.SwapRequest{}, err
	}
	amountIn, err := parseAmount("amountIn", req.AmountIn)
	if err != nil {
		return lb.SwapRequest{}, err
	}
	minOut, err := parseOptionalAmount("amountOutMin", req.AmountOutMin)
	if err != nil {
		return lb.SwapRequest{}, err
	}
	return lb.SwapRequest{
		OfferToken:   offer,
		SwapForY:     req.SwapForY,
		AmountIn:     amountIn,
		AmountOutMin: minOut,
		AllowPartial: req.AllowPartial,
		Deadline:     req.Deadline,
	}, nil
}

type exactOutRequest struct {
	OfferToken  string `json:"offerToken,omitempty"`
	SwapForY    bool   `json:"swapForY"`
	AmountOut   string `json:"amountOut"`
	AmountInMax string `json:"amountInMax,omitempty"`
	Deadline    uint64 `json:"deadline,omitempty"`
}

func (req exactOutRequest) toEngine() (lb.ExactOutRequest, error) {
	offer, err := parseOptionalAddress("offerToken", req.OfferToken)
	if err != nil {
		return lb.ExactOutRequest{}, err
	}
	amountOut, err := parseAmount("amountOut", req.AmountOut)
	if err != nil {
		return lb.ExactOutRequest{}, err
	}
	maxIn, err := parseOptionalAmount("amountInMax", req.AmountInMax)
	if err != nil {
		return lb.ExactOutRequest{}, err
	}
	return lb.ExactOutRequest{
		OfferToken:  offer,
		SwapForY:    req.SwapForY,
		AmountOut:   amountOut,
		AmountInMax: maxIn,
		Deadline:    req.Deadline,
	}, nil
}

type swapResponse struct {
	AmountIn     string `json:"amountIn"`
	AmountInLeft string `json:"amountInLeft"`
	AmountOut    string `json:"amountOut"`
	Fee          string `json:"fee"`
	ProtocolFee  string `json:"protocolFee"`
	BinsCrossed  int    `json:"binsCrossed"`
	ActiveID     uint32 `json:"activeId"`
}

func newSwapResponse(res lb.SwapResult) swapResponse {
	return swapResponse{
		AmountIn:     fixed.String(res.AmountIn),
		AmountInLeft: fixed.String(res.AmountInLeft),
		AmountOut:    fixed.String(res.AmountOut),
		Fee:          fixed.String(res.Fee),
		ProtocolFee:  fixed.String(res.ProtocolFee),
		BinsCrossed:  res.BinsCrossed,
		ActiveID:     res.ActiveID,
	}
}

type outQuoteResponse struct {
	AmountInLeft string `json:"amountInLeft"`
	AmountOut    string `json:"amountOut"`
	LPFee        string `json:"lpFee"`
	ProtocolFee  string `json:"protocolFee"`
	TotalFee     string `json:"totalFee"`
}

type inQuoteResponse struct {
	AmountIn      string `json:"amountIn"`
	AmountOutLeft string `json:"amountOutLeft"`
	Fee           string `json:"fee"`
}

type addLiquidityRequest struct {
	Owner           string   `json:"owner"`
	TokenX          string   `json:"tokenX"`
	TokenY          string   `json:"tokenY"`
	BinStep         uint16   `json:"binStep"`
	AmountX         string   `json:"amountX"`
	AmountY         string   `json:"amountY"`
	AmountXMin      string   `json:"amountXMin,omitempty"`
	AmountYMin      string   `json:"amountYMin,omitempty"`
	ActiveIDDesired uint32   `json:"activeIdDesired"`
	IDSlippage      uint32   `json:"idSlippage"`
	DeltaIDs        []int64  `json:"deltaIds"`
	DistributionX   []string `json:"distributionX"`
	DistributionY   []string `json:"distributionY"`
	Deadline        uint64   `json:"deadline"`
}

func (req addLiquidityRequest) toEngine() (lb.LiquidityRequest, error) {
	var (
		out lb.LiquidityRequest
		err error
	)
	if out.TokenX, err = parseAddress("tokenX", req.TokenX); err != nil {
		return out, err
	}
	if out.TokenY, err = parseAddress("tokenY", req.TokenY); err != nil {
		return out, err
	}
	if out.AmountX, err = parseAmount("amountX", req.AmountX); err != nil {
		return out, err
	}
	if out.AmountY, err = parseAmount("amountY", req.AmountY); err != nil {
		return out, err
	}
	if out.AmountXMin, err = parseOptionalAmount("amountXMin", req.AmountXMin); err != nil {
		return out, err
	}
	if out.AmountYMin, err = parseOptionalAmount("amountYMin", req.AmountYMin); err != nil {
		return out, err
	}
	if out.DistributionX, err = parseAmounts("distributionX", req.DistributionX); err != nil {
		return out, err
	}
	if out.DistributionY, err = parseAmounts("distributionY", req.DistributionY); err != nil {
		return out, err
	}
	out.BinStep = req.BinStep
	out.ActiveIDDesired = req.ActiveIDDesired
	out.IDSlippage = req.IDSlippage
	out.DeltaIDs = req.DeltaIDs
	out.Deadline = req.Deadline
	return out, nil
}

type binDepositResponse struct {
	ID      uint32 `json:"id"`
	AmountX string `json:"amountX"`
	AmountY string `json:"amountY"`
	Shares  string `json:"shares"`
}

type addLiquidityResponse struct {
	AmountXAdded string               `json:"amountXAdded"`
	AmountYAdded string               `json:"amountYAdded"`
	AmountXLeft  string               `json:"amountXLeft"`
	AmountYLeft  string               `json:"amountYLeft"`
	DustX        string               `json:"dustX"`
	DustY        string               `json:"dustY"`
	Deposits     []binDepositResponse `json:"deposits"`
}

func newAddLiquidityResponse(res lb.AddLiquidityResult) addLiquidityResponse {
	out := addLiquidityResponse{
		AmountXAdded: fixed.String(res.AmountXAdded),
		AmountYAdded: fixed.String(res.AmountYAdded),
		AmountXLeft:  fixed.String(res.AmountXLeft),
		AmountYLeft:  fixed.String(res.AmountYLeft),
		DustX:        fixed.String(res.DustX),
		DustY:        fixed.String(res.DustY),
		Deposits:     make([]binDepositResponse, len(res.Deposits)),
	}
	for i, d := range res.Deposits {
		out.Deposits[i] = binDepositResponse{
			ID:      d.ID,
			AmountX: fixed.String(d.AmountX),
			AmountY: fixed.String(d.AmountY),
			Shares:  fixed.String(d.Shares),
		}
	}
	return out
}

type removeLiquidityRequest struct {
	Owner      string   `json:"owner"`
	TokenX     string   `json:"tokenX"`
	TokenY     string   `json:"tokenY"`
	BinStep    uint16   `json:"binStep"`
	IDs        []uint32 `json:"ids"`
	Amounts    []string `json:"amounts"`
	AmountXMin string   `json:"amountXMin,omitempty"`
	AmountYMin string   `json:"amountYMin,omitempty"`
	Deadline   uint64   `json:"deadline"`
}

func (req removeLiquidityRequest) toEngine() (lb.RemoveLiquidityRequest, error) {
	var (
		out lb.RemoveLiquidityRequest
		err error
	)
	if out.TokenX, err = parseAddress("tokenX", req.TokenX); err != nil {
		return out, err
	}
	if out.TokenY, err = parseAddress("tokenY", req.TokenY); err != nil {
		return out, err
	}
	if out.Amounts, err = parseShares("amounts", req.Amounts); err != nil {
		return out, err
	}
	if out.AmountXMin, err = parseOptionalAmount("amountXMin", req.AmountXMin); err != nil {
		return out, err
	}
	if out.AmountYMin, err = parseOptionalAmount("amountYMin", req.AmountYMin); err != nil {
		return out, err
	}
	out.BinStep = req.BinStep
	out.IDs = req.IDs
	out.Deadline = req.Deadline
	return out, nil
}

type binWithdrawalResponse struct {
	ID      uint32 `json:"id"`
	Shares  string `json:"shares"`
	AmountX string `json:"amountX"`
	AmountY string `json:"amountY"`
}

type removeLiquidityResponse struct {
	AmountX     string                  `json:"amountX"`
	AmountY     string                  `json:"amountY"`
	Withdrawals []binWithdrawalResponse `json:"withdrawals"`
}

func newRemoveLiquidityResponse(res lb.RemoveLiquidityResult) removeLiquidityResponse {
	out := removeLiquidityResponse{
		AmountX:     fixed.String(res.AmountX),
		AmountY:     fixed.String(res.AmountY),
		Withdrawals: make([]binWithdrawalResponse, len(res.Withdrawals)),
	}
	for i, wd := range res.Withdrawals {
		out.Withdrawals[i] = binWithdrawalResponse{
			ID:      wd.ID,
			Shares:  fixed.String(wd.Shares),
			AmountX: fixed.String(wd.AmountX),
			AmountY: fixed.String(wd.AmountY),
		}
	}
	return out
}

type variableFeesResponse struct {
	fees.VariableFeeState
	Fee string `json:"fee"`
}

type pairSummary struct {
	Name     string `json:"name"`
	TokenX   string `json:"tokenX"`
	TokenY   string `json:"tokenY"`
	BinStep  uint16 `json:"binStep"`
	ActiveID uint32 `json:"activeId"`
	Price    string `json:"price"`
}

type priceResponse struct {
	ID    uint32 `json:"id"`
	Price string `json:"price"`
	// PriceX128 is the raw 128.128 fixed-point price.
	PriceX128 string `json:"priceX128"`
}

type reservesResponse struct {
	ReserveX string `json:"reserveX"`
	ReserveY string `json:"reserveY"`
}

type binResponse struct {
	ID          uint32 `json:"id"`
	ReserveX    string `json:"reserveX"`
	ReserveY    string `json:"reserveY"`
	TotalSupply string `json:"totalSupply"`
}

type positionResponse struct {
	ID     uint32 `json:"id"`
	Shares string `json:"shares"`
}

type rewardsAlgorithmResponse struct {
	Epoch   uint64 `json:"epoch"`
	Current string `json:"current"`
	Pending string `json:"pending"`
}

type protocolFeesResponse struct {
	AmountX string `json:"amountX"`
	AmountY string `json:"amountY"`
}
