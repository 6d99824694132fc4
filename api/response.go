package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/VanDung-dev/Consortium-Ledger/consensus"
	"github.com/VanDung-dev/Consortium-Ledger/engine"
	"github.com/VanDung-dev/Consortium-Ledger/ledger"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
	"github.com/VanDung-dev/Consortium-Ledger/node"
)

// ErrBadRequest marks malformed request bodies and parameters.
var ErrBadRequest = errors.New("bad request")

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WriteError writes a failed envelope.
func WriteError(w http.ResponseWriter, statusCode int, err error) {
	writeJSON(w, statusCode, Envelope{Success: false, Error: err.Error()})
}

// WriteSuccess writes a successful envelope around data.
func WriteSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, Envelope{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByError = []struct {
	target error
	status int
}{
	{ErrBadRequest, http.StatusBadRequest},
	{membership.ErrInvalidRole, http.StatusBadRequest},
	{membership.ErrInvalidName, http.StatusBadRequest},
	{membership.ErrInvalidAction, http.StatusBadRequest},
	{membership.ErrInvalidStatus, http.StatusBadRequest},
	{engine.ErrInvalidTx, http.StatusBadRequest},
	{node.ErrUnknownAddress, http.StatusBadRequest},

	{membership.ErrUnauthorizedVoter, http.StatusForbidden},
	{consensus.ErrUnauthorizedProposer, http.StatusForbidden},
	{consensus.ErrUnauthorizedVoter, http.StatusForbidden},

	{membership.ErrRequestNotFound, http.StatusNotFound},
	{consensus.ErrProposalNotFound, http.StatusNotFound},
	{ledger.ErrBlockNotFound, http.StatusNotFound},

	{membership.ErrAlreadyBootstrapped, http.StatusConflict},
	{consensus.ErrDuplicateVote, http.StatusConflict},
	{consensus.ErrProposalResolved, http.StatusConflict},
	{consensus.ErrProposalInFlight, http.StatusConflict},

	{engine.ErrPoolFull, http.StatusServiceUnavailable},

	{ledger.ErrChainIntegrity, http.StatusInternalServerError},
	{ledger.ErrLedgerHalted, http.StatusInternalServerError},
}

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	for _, e := range statusByError {
		if errors.Is(err, e.target) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
