package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/provisioner/internal/api/response"
	"github.com/mcoot/provisioner/internal/dependencies/clock"
	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/services/oauth"
	"github.com/mcoot/provisioner/internal/storage"
)

// AccountHandler handles stored account endpoints
type AccountHandler struct {
	store storage.Storage
	oauth *oauth.Client
	clock clock.Clock
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(store storage.Storage, client *oauth.Client, clk clock.Clock) *AccountHandler {
	return &AccountHandler{store: store, oauth: client, clock: clk}
}

// List handles GET /api/v1/accounts?task_id=&authorized=&used=
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	accounts, err := h.store.ListAccounts(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.AccountListFromModel(accounts))
}

// Export handles GET /api/v1/accounts/export, one email|clientId|refreshToken line per
// authorized account. Used accounts are left out unless used is given.
func (h *AccountHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	authorized := true
	filter.Authorized = &authorized
	if filter.Used == nil {
		unused := false
		filter.Used = &unused
	}

	accounts, err := h.store.ListAccounts(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	lines := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if g, ok := a.Grant(); ok {
			lines = append(lines, g.Line())
		}
	}
	response.Lines(w, http.StatusOK, lines)
}

// Get handles GET /api/v1/accounts/{email}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.GetAccount(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.AccountFromModel(account))
}

// MarkUsed handles POST /api/v1/accounts/{email}/used
func (h *AccountHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]
	if err := h.store.MarkAccountUsed(r.Context(), email); err != nil {
		WriteError(w, err)
		return
	}
	account, err := h.store.GetAccount(r.Context(), email)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.AccountFromModel(account))
}

// Refresh handles POST /api/v1/accounts/{email}/refresh, exchanging the stored
// refresh token for a new one
func (h *AccountHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.GetAccount(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		WriteError(w, err)
		return
	}
	if !account.Authorized || account.RefreshToken == "" {
		WriteError(w, NewInvalidRequestError("Account has no refresh token"))
		return
	}

	grant, err := h.oauth.Refresh(r.Context(), account.ClientID, account.Email, account.RefreshToken)
	if err != nil {
		WriteError(w, err)
		return
	}
	grant.Method = account.Method
	account.ApplyGrant(*grant, h.clock.Now())
	if err := h.store.SaveAccount(r.Context(), account); err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.AccountFromModel(account))
}

// Delete handles DELETE /api/v1/accounts/{email}
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAccount(r.Context(), mux.Vars(r)["email"]); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

func parseFilter(r *http.Request) (storage.AccountFilter, error) {
	q := r.URL.Query()
	filter := storage.AccountFilter{TaskID: model.TaskID(q.Get("task_id"))}
	for name, dst := range map[string]**bool{"authorized": &filter.Authorized, "used": &filter.Used} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return storage.AccountFilter{}, NewInvalidRequestError(name + " must be true or false")
		}
		*dst = &v
	}
	return filter, nil
}
