// Package httpserver exposes the admission service over HTTP. It is a thin
// transport: decoding requests, delegating to the service, and mapping
// errors to status codes.
package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/mempool"
	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/domain/primitive"
	"github.com/astriaorg/astria-sub003/domain/transaction"
	"github.com/astriaorg/astria-sub003/infra/logging"
	"github.com/astriaorg/astria-sub003/service"
)

type Server struct {
	admission *service.Admission
	state     orderbook.State
	log       *logrus.Entry
}

func New(admission *service.Admission, state orderbook.State) *Server {
	return &Server{
		admission: admission,
		state:     state,
		log:       logging.Module("http"),
	}
}

func (s *Server) InitRouter(r *gin.Engine) {
	r.POST("/tx", s.submitTransaction)
	r.GET("/account/:address/pending_nonce", s.getPendingNonce)
	r.GET("/mempool/builder_queue", s.getBuilderQueue)
	r.GET("/markets", s.getMarkets)
	r.GET("/orderbook/:market", s.getOrderBook)
}

type actionReq struct {
	Type string `json:"type"`

	// create_order
	Market      string `json:"market,omitempty"`
	Side        string `json:"side,omitempty"`
	OrderType   string `json:"order_type,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
	Price       string `json:"price,omitempty"`
	Quantity    string `json:"quantity,omitempty"`

	// cancel_order
	OrderID string `json:"order_id,omitempty"`

	// create_market / update_market
	BaseAsset  string `json:"base_asset,omitempty"`
	QuoteAsset string `json:"quote_asset,omitempty"`
	TickSize   string `json:"tick_size,omitempty"`
	LotSize    string `json:"lot_size,omitempty"`
	Paused     bool   `json:"paused,omitempty"`

	// transfer
	To     string `json:"to,omitempty"`
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount,omitempty"`
}

type submitReq struct {
	Address         string      `json:"address"`
	Nonce           uint32      `json:"nonce"`
	ChainID         string      `json:"chain_id"`
	VerificationKey string      `json:"verification_key,omitempty"`
	Actions         []actionReq `json:"actions"`
}

type matchResp struct {
	ID           string `json:"id"`
	Market       string `json:"market"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
	TakerSide    string `json:"taker_side"`
}

type submitResp struct {
	Hash        string      `json:"hash"`
	Destination string      `json:"destination"`
	OrderIDs    []string    `json:"order_ids,omitempty"`
	Matches     []matchResp `json:"matches,omitempty"`
}

func (s *Server) submitTransaction(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := decodeTransaction(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.admission.SubmitTransaction(c.Request.Context(), tx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := submitResp{
		Hash:        res.Hash.String(),
		Destination: res.Destination.String(),
		OrderIDs:    res.OrderIDs,
	}
	for _, m := range res.Matches {
		resp.Matches = append(resp.Matches, matchResp{
			ID:           m.ID,
			Market:       m.Market,
			Price:        m.Price.String(),
			Quantity:     m.Quantity.String(),
			MakerOrderID: m.MakerOrderID,
			TakerOrderID: m.TakerOrderID,
			TakerSide:    m.TakerSide.String(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getPendingNonce(c *gin.Context) {
	addr, err := primitive.AddressFromHex(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nonce, ok := s.admission.PendingNonce(addr)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending transactions for account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending_nonce": nonce})
}

func (s *Server) getBuilderQueue(c *gin.Context) {
	entries := s.admission.BuilderQueue(c.Request.Context())
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.Hash.String())
	}
	c.JSON(http.StatusOK, gin.H{"transactions": hashes})
}

func (s *Server) getMarkets(c *gin.Context) {
	names := s.state.Markets()
	markets := make([]gin.H, 0, len(names))
	for _, name := range names {
		params, ok := s.state.MarketParams(name)
		if !ok {
			continue
		}
		markets = append(markets, gin.H{
			"market":      name,
			"base_asset":  params.BaseAsset,
			"quote_asset": params.QuoteAsset,
			"tick_size":   params.TickSize.String(),
			"lot_size":    params.LotSize.String(),
			"paused":      params.Paused,
		})
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

type depthLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

func (s *Server) getOrderBook(c *gin.Context) {
	market := c.Param("market")
	if _, ok := s.state.MarketParams(market); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": orderbook.ErrMarketNotFound.Error()})
		return
	}
	book := orderbook.BuildOrderBook(s.state, market)

	levels := func(side *orderbook.BookSide) []depthLevel {
		out := make([]depthLevel, 0)
		side.Walk(func(lvl *orderbook.PriceLevel) bool {
			out = append(out, depthLevel{
				Price:    lvl.Price.String(),
				Quantity: lvl.TotalQty.String(),
				Orders:   lvl.OrderCount,
			})
			return true
		})
		return out
	}
	c.JSON(http.StatusOK, gin.H{
		"market": market,
		"bids":   levels(book.Bids),
		"asks":   levels(book.Asks),
	})
}

func decodeTransaction(body []byte) (*transaction.Transaction, error) {
	var req submitReq
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.Wrap(err, "decoding transaction")
	}
	addr, err := primitive.AddressFromHex(req.Address)
	if err != nil {
		return nil, errors.Wrap(err, "decoding address")
	}
	var key []byte
	if req.VerificationKey != "" {
		key, err = hex.DecodeString(req.VerificationKey)
		if err != nil {
			return nil, errors.Wrap(err, "decoding verification key")
		}
	}

	actions := make([]transaction.Action, 0, len(req.Actions))
	for _, a := range req.Actions {
		action, err := decodeAction(a)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return transaction.New(addr, req.Nonce, req.ChainID, key, actions, body), nil
}

func decodeAction(a actionReq) (transaction.Action, error) {
	switch a.Type {
	case "create_order":
		side, err := parseSide(a.Side)
		if err != nil {
			return nil, err
		}
		otype, err := parseOrderType(a.OrderType)
		if err != nil {
			return nil, err
		}
		tif, err := parseTimeInForce(a.TimeInForce)
		if err != nil {
			return nil, err
		}
		price := uint128.Zero
		if a.Price != "" {
			if price, err = uint128.FromString(a.Price); err != nil {
				return nil, errors.Wrap(err, "decoding price")
			}
		}
		qty, err := uint128.FromString(a.Quantity)
		if err != nil {
			return nil, errors.Wrap(err, "decoding quantity")
		}
		return orderbook.CreateOrderAction{
			Market:      a.Market,
			Side:        side,
			Type:        otype,
			TimeInForce: tif,
			Price:       price,
			Quantity:    qty,
		}, nil
	case "cancel_order":
		return orderbook.CancelOrderAction{OrderID: a.OrderID}, nil
	case "create_market", "update_market":
		params, err := parseMarketParams(a)
		if err != nil {
			return nil, err
		}
		if a.Type == "create_market" {
			return orderbook.CreateMarketAction{Market: a.Market, Params: params}, nil
		}
		return orderbook.UpdateMarketAction{Market: a.Market, Params: params}, nil
	case "transfer":
		to, err := primitive.AddressFromHex(a.To)
		if err != nil {
			return nil, errors.Wrap(err, "decoding transfer recipient")
		}
		return transaction.Transfer{To: to, Asset: a.Asset, Amount: a.Amount}, nil
	default:
		return nil, errors.Errorf("unknown action type %q", a.Type)
	}
}

func parseSide(s string) (orderbook.Side, error) {
	switch s {
	case "buy":
		return orderbook.Buy, nil
	case "sell":
		return orderbook.Sell, nil
	default:
		return 0, errors.Errorf("unknown side %q", s)
	}
}

func parseOrderType(s string) (orderbook.OrderType, error) {
	switch s {
	case "limit", "":
		return orderbook.Limit, nil
	case "market":
		return orderbook.Market, nil
	default:
		return 0, errors.Errorf("unknown order type %q", s)
	}
}

func parseTimeInForce(s string) (orderbook.TimeInForce, error) {
	switch s {
	case "GTC", "":
		return orderbook.GTC, nil
	case "IOC":
		return orderbook.IOC, nil
	case "FOK":
		return orderbook.FOK, nil
	default:
		return 0, errors.Errorf("unknown time in force %q", s)
	}
}

func parseMarketParams(a actionReq) (orderbook.MarketParams, error) {
	tick := uint128.From64(1)
	lot := uint128.From64(1)
	var err error
	if a.TickSize != "" {
		if tick, err = uint128.FromString(a.TickSize); err != nil {
			return orderbook.MarketParams{}, errors.Wrap(err, "decoding tick size")
		}
	}
	if a.LotSize != "" {
		if lot, err = uint128.FromString(a.LotSize); err != nil {
			return orderbook.MarketParams{}, errors.Wrap(err, "decoding lot size")
		}
	}
	return orderbook.MarketParams{
		BaseAsset:  a.BaseAsset,
		QuoteAsset: a.QuoteAsset,
		TickSize:   tick,
		LotSize:    lot,
		Paused:     a.Paused,
	}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mempool.ErrAlreadyPresent),
		errors.Is(err, mempool.ErrNonceTaken):
		return http.StatusConflict
	case errors.Is(err, mempool.ErrNonceTooLow),
		errors.Is(err, mempool.ErrAccountSizeLimit),
		errors.Is(err, orderbook.ErrInvalidOrderParameters),
		errors.Is(err, service.ErrChainIDMismatch),
		errors.Is(err, service.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, orderbook.ErrMarketNotFound),
		errors.Is(err, orderbook.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orderbook.ErrNotOrderOwner),
		errors.Is(err, orderbook.ErrMarketPaused):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
