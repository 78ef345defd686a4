package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matrixise/portfolio-tracker/internal/storage"
	"github.com/matrixise/portfolio-tracker/internal/syncer"
)

const maxBodyBytes = 1 << 16

type createWalletRequest struct {
	Address string  `json:"address" validate:"required,max=128"`
	Chain   string  `json:"chain" validate:"required,chain"`
	Label   *string `json:"label" validate:"omitempty,max=255"`
}

type updateWalletRequest struct {
	Label *string `json:"label" validate:"omitempty,max=255"`
}

type fetchRequest struct {
	ForceRefresh bool `json:"force_refresh"`
}

type historyQuery struct {
	WalletID    string `validate:"omitempty,uuid"`
	TokenSymbol string `validate:"omitempty,max=100"`
	Limit       int    `validate:"gte=0"`
}

type fetchResponse struct {
	Wallet    storage.Wallet     `json:"wallet"`
	Balances  []storage.Snapshot `json:"balances"`
	FetchedAt time.Time          `json:"fetched_at"`
	Source    syncer.Source      `json:"source"`
}

// decode reads a JSON body. An empty body leaves dst untouched when
// allowEmpty is set.
func decode(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *handlers) createWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, r, err)
		return
	}

	wallet, err := h.wallets.Create(r.Context(), req.Address, req.Chain, req.Label)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, wallet)
}

func (h *handlers) listWallets(w http.ResponseWriter, r *http.Request) {
	list, err := h.wallets.List(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeList(w, list)
}

func (h *handlers) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, wallet)
}

func (h *handlers) updateWallet(w http.ResponseWriter, r *http.Request) {
	var req updateWalletRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, r, err)
		return
	}

	wallet, err := h.wallets.UpdateLabel(r.Context(), chi.URLParam(r, "id"), req.Label)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, wallet)
}

func (h *handlers) deleteWallet(w http.ResponseWriter, r *http.Request) {
	if err := h.wallets.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusSuccess, Message: "wallet deleted"})
}

func (h *handlers) fetchBalances(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := r.URL.Query().Get("force_refresh"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "force_refresh must be a boolean")
			return
		}
		req.ForceRefresh = force
	}

	id := chi.URLParam(r, "id")
	// reject malformed ids before they reach the engine
	if _, err := h.wallets.Get(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}

	res, err := h.syncer.Sync(r.Context(), id, req.ForceRefresh)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	balances := res.Balances
	if balances == nil {
		balances = []storage.Snapshot{}
	}
	n := len(balances)
	stale := res.Stale
	writeJSON(w, http.StatusOK, envelope{
		Status: statusSuccess,
		Data: fetchResponse{
			Wallet:    res.Wallet,
			Balances:  balances,
			FetchedAt: res.FetchedAt,
			Source:    res.Source,
		},
		Count: &n,
		Stale: &stale,
	})
}

func (h *handlers) walletBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.wallets.Balances(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeList(w, balances)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.portfolio.Summarize(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sum)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	q := historyQuery{
		WalletID:    r.URL.Query().Get("wallet_id"),
		TokenSymbol: r.URL.Query().Get("token_symbol"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	if err := h.validate.Struct(q); err != nil {
		writeErr(w, r, err)
		return
	}

	records, err := h.portfolio.History(r.Context(), q.WalletID, q.TokenSymbol, q.Limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeList(w, records)
}
