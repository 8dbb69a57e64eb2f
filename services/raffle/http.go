package raffle

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/raffle_engine/internal/httputil"
	"github.com/R3E-Network/raffle_engine/internal/middleware"
	"github.com/R3E-Network/raffle_engine/pkg/logger"
)

// API exposes the engine over HTTP. Authentication is applied by the caller's
// router; handlers read the caller from the request context.
type API struct {
	svc *Service
	log *logger.Logger
}

// NewAPI creates the HTTP surface for svc.
func NewAPI(svc *Service, log *logger.Logger) *API {
	if log == nil {
		log = svc.Logger()
	}
	return &API{svc: svc, log: log}
}

// Register mounts the routes on r.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/games/current", a.handleCurrentGame).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}", a.handleGame).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}/ranges", a.handleRanges).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}/participants", a.handleParticipants).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}/holdings", a.handleHoldings).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}/settlement", a.handleSettlement).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}/claimable/{payee}", a.handleClaimable).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}/claim", a.handleClaim).Methods(http.MethodPost)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/tokens", a.handleTokens).Methods(http.MethodGet)
	r.HandleFunc("/fees", a.handleFees).Methods(http.MethodGet)
	r.HandleFunc("/upkeep", a.handleCheckUpkeep).Methods(http.MethodGet)
	r.HandleFunc("/upkeep", a.handlePerformUpkeep).Methods(http.MethodPost)

	deposits := r.NewRoute().Subrouter()
	deposits.Use(middleware.RequireRole(middleware.RoleDepositor, middleware.RoleOperator))
	deposits.HandleFunc("/deposits", a.handleDeposit).Methods(http.MethodPost)

	coordinator := r.NewRoute().Subrouter()
	coordinator.Use(middleware.RequireRole(middleware.RoleCoordinator))
	coordinator.HandleFunc("/randomness/fulfill", a.handleFulfill).Methods(http.MethodPost)

	operator := r.NewRoute().Subrouter()
	operator.Use(middleware.RequireRole(middleware.RoleOperator))
	operator.HandleFunc("/games", a.handleStartGame).Methods(http.MethodPost)
	operator.HandleFunc("/games/{id:[0-9]+}/finalize", a.handleFinalize).Methods(http.MethodPost)
	operator.HandleFunc("/tokens/{token}", a.handleRemoveToken).Methods(http.MethodDelete)
	operator.HandleFunc("/fees", a.handleSetFees).Methods(http.MethodPut)
	operator.HandleFunc("/fees/recipients", a.handleSetFeeRecipients).Methods(http.MethodPut)
}

// --- responses ---

type gameResponse struct {
	ID               uint64    `json:"id"`
	State            GameState `json:"state"`
	StartedAt        time.Time `json:"started_at"`
	DrawAt           time.Time `json:"draw_at"`
	PoolUSD          string    `json:"pool_usd"`
	Settled          bool      `json:"settled"`
	ParticipantCount int       `json:"participant_count"`
	DepositCount     int       `json:"deposit_count"`
	RequestID        RequestID `json:"request_id,omitempty"`
	Winner           Address   `json:"winner,omitempty"`
	TotalOut         string    `json:"total_out,omitempty"`
	SettledAt        time.Time `json:"settled_at,omitempty"`
}

func newGameResponse(v GameView) gameResponse {
	resp := gameResponse{
		ID:               v.ID,
		State:            v.State,
		StartedAt:        v.StartedAt,
		DrawAt:           v.StartedAt.Add(v.Duration),
		PoolUSD:          FormatUSD(v.PoolUSD),
		Settled:          v.Settled,
		ParticipantCount: v.ParticipantCount,
		DepositCount:     v.DepositCount,
		RequestID:        v.RequestID,
		Winner:           v.Winner,
		SettledAt:        v.SettledAt,
	}
	if v.Settled {
		resp.TotalOut = v.TotalOut.String()
	}
	return resp
}

type rangeResponse struct {
	Depositor Address `json:"depositor"`
	Token     Address `json:"token"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	ValueUSD  string  `json:"value_usd"`
}

type statsResponse struct {
	TotalGames        uint64 `json:"total_games"`
	SettledGames      uint64 `json:"settled_games"`
	CurrentGameID     uint64 `json:"current_game_id"`
	CurrentPoolUSD    string `json:"current_pool_usd"`
	TotalDepositedUSD string `json:"total_deposited_usd"`
	TotalPaidOut      string `json:"total_paid_out"`
}

// FormatUSD renders an 18-decimal USD value as a decimal string.
func FormatUSD(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -USDDecimals).String()
}

// --- requests ---

type depositRequest struct {
	Token  Address          `json:"token"`
	Amount string           `json:"amount"`
	Permit *PermitSignature `json:"permit,omitempty"`
}

type fulfillRequest struct {
	RequestID RequestID `json:"request_id"`
	Words     []string  `json:"words"`
}

type feesRequest struct {
	PlatformFeeBps uint32 `json:"platform_fee_bps"`
	FounderFeeBps  uint32 `json:"founder_fee_bps"`
}

type recipientsRequest struct {
	PlatformWallet Address `json:"platform_wallet"`
	FounderWallet  Address `json:"founder_wallet"`
}

// --- handlers ---

func (a *API) handleCurrentGame(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.CurrentGame()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newGameResponse(view))
}

func (a *API) handleGame(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	view, err := a.svc.Game(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newGameResponse(view))
}

func (a *API) handleRanges(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	ranges, err := a.svc.Ranges(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]rangeResponse, 0, len(ranges))
	for _, rg := range ranges {
		out = append(out, rangeResponse{
			Depositor: rg.Depositor,
			Token:     rg.Token,
			Start:     rg.Start.String(),
			End:       rg.End.String(),
			ValueUSD:  FormatUSD(rg.Width()),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (a *API) handleParticipants(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	participants, err := a.svc.Participants(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, participants)
}

func (a *API) handleHoldings(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	holdings, err := a.svc.Holdings(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]map[string]string, 0, len(holdings))
	for _, h := range holdings {
		entry := map[string]string{"token": string(h.Token), "amount": h.Amount.String()}
		if h.Swapped != nil {
			entry["swapped"] = h.Swapped.String()
		}
		out = append(out, entry)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (a *API) handleSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	settlement, err := a.svc.Settlement(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settlementResponse(settlement))
}

func (a *API) handleClaimable(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	payee := Address(mux.Vars(r)["payee"]).Normalize()
	owed, err := a.svc.Claimable(id, payee)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"payee": string(payee), "amount": owed.String()})
}

func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	payee := Address(middleware.GetCaller(r.Context()))
	if payee.IsZero() {
		httputil.Unauthorized(w, "")
		return
	}
	amount, err := a.svc.Claim(r.Context(), id, payee)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"payee": string(payee.Normalize()), "amount": amount.String()})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	s := a.svc.Stats()
	httputil.WriteJSON(w, http.StatusOK, statsResponse{
		TotalGames:        s.TotalGames,
		SettledGames:      s.SettledGames,
		CurrentGameID:     s.CurrentGameID,
		CurrentPoolUSD:    FormatUSD(s.CurrentPoolUSD),
		TotalDepositedUSD: FormatUSD(s.TotalDepositedUSD),
		TotalPaidOut:      s.TotalPaidOut.String(),
	})
}

func (a *API) handleTokens(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, a.svc.AllowedTokens())
}

func (a *API) handleFees(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, a.svc.Fees())
}

func (a *API) handleCheckUpkeep(w http.ResponseWriter, r *http.Request) {
	needed, reason := a.svc.CheckUpkeep(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"upkeep_needed": needed, "reason": reason})
}

func (a *API) handlePerformUpkeep(w http.ResponseWriter, r *http.Request) {
	id, err := a.svc.PerformUpkeep(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"request_id": id})
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		httputil.BadRequest(w, "amount must be a base-10 integer in token units")
		return
	}

	rg, err := a.svc.Deposit(r.Context(), DepositRequest{
		Depositor: Address(middleware.GetCaller(r.Context())),
		Token:     req.Token,
		Amount:    amount,
		Permit:    req.Permit,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rangeResponse{
		Depositor: rg.Depositor,
		Token:     rg.Token,
		Start:     rg.Start.String(),
		End:       rg.End.String(),
		ValueUSD:  FormatUSD(rg.Width()),
	})
}

func (a *API) handleFulfill(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	words := make([]*big.Int, 0, len(req.Words))
	for _, raw := range req.Words {
		word, ok := new(big.Int).SetString(raw, 0)
		if !ok || word.Sign() < 0 {
			httputil.BadRequest(w, "words must be non-negative integers")
			return
		}
		words = append(words, word)
	}

	caller := Address(middleware.GetCaller(r.Context()))
	if err := a.svc.FulfillRandomWords(r.Context(), caller, req.RequestID, words); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStartGame(w http.ResponseWriter, r *http.Request) {
	view, err := a.svc.StartNewGame(r.Context(), Address(middleware.GetCaller(r.Context())))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, newGameResponse(view))
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	settlement, err := a.svc.FinalizeGame(r.Context(), Address(middleware.GetCaller(r.Context())), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settlementResponse(settlement))
}

func (a *API) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	token := Address(mux.Vars(r)["token"])
	if err := a.svc.RemoveAllowedToken(r.Context(), Address(middleware.GetCaller(r.Context())), token); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	caller := Address(middleware.GetCaller(r.Context()))
	if err := a.svc.SetFees(r.Context(), caller, req.PlatformFeeBps, req.FounderFeeBps); err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a.svc.Fees())
}

func (a *API) handleSetFeeRecipients(w http.ResponseWriter, r *http.Request) {
	var req recipientsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	caller := Address(middleware.GetCaller(r.Context()))
	if err := a.svc.SetFeeRecipients(r.Context(), caller, req.PlatformWallet, req.FounderWallet); err != nil {
		a.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a.svc.Fees())
}

// --- helpers ---

func settlementResponse(s Settlement) map[string]any {
	return map[string]any{
		"game_id":         s.GameID,
		"winner":          s.Winner,
		"winning_point":   FormatUSD(s.WinningPoint),
		"total_out":       s.TotalOut.String(),
		"platform_amount": s.PlatformAmount.String(),
		"founder_amount":  s.FounderAmount.String(),
		"winner_amount":   s.WinnerAmount.String(),
		"settled_at":      s.SettledAt,
	}
}

func gameID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid game id")
		return 0, false
	}
	return id, true
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, ErrReentrantCall):
		return http.StatusConflict
	}
	switch KindOf(err) {
	case KindPrecondition:
		return http.StatusConflict
	case KindAuth:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	entry := a.log.WithContext(r.Context()).WithError(err).
		WithField("path", r.URL.Path).
		WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Warn("raffle request failed")
	} else {
		entry.Debug("raffle request rejected")
	}

	message := err.Error()
	if status == http.StatusInternalServerError && KindOf(err) != KindInvariant {
		message = "internal error"
	}
	httputil.WriteError(w, status, CodeOf(err), message, map[string]any{"kind": KindOf(err)})
}
