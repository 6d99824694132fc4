package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/VanDung-dev/Consortium-Ledger/arrow"
)

type memberRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type membershipVote struct {
	RequestAddress string `json:"request_address"`
	VoterAddress   string `json:"voter_address"`
	Action         string `json:"action"`
}

type transactionRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

type proposeRequest struct {
	Proposer string `json:"proposer"`
}

type blockVote struct {
	Voter string `json:"voter"`
	// Approve defaults to true when omitted.
	Approve *bool `json:"approve,omitempty"`
}

// VerifyResult is the body of GET /chain/verify.
type VerifyResult struct {
	Valid  bool `json:"valid"`
	Length int  `json:"length"`
}

func (s *Server) addFirstMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	m, err := s.svc.AddFirstMember(req.Name, req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusCreated, m)
}

func (s *Server) requestMembership(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	out, err := s.svc.RequestMembership(req.Name, req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusCreated, out)
}

func (s *Server) voteOnMembership(w http.ResponseWriter, r *http.Request) {
	var req membershipVote
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	dec, err := s.svc.VoteOnMembership(req.RequestAddress, req.VoterAddress, req.Action)
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, dec)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListMembers(r.URL.Query().Get("status"))
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, entries)
}

func (s *Server) listAddresses(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, s.svc.ListMemberAddresses())
}

func (s *Server) requestStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.RequestStatus(mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, st)
}

func (s *Server) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	tx, err := s.svc.SubmitTransaction(req.Sender, req.Recipient, req.Amount)
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusCreated, tx)
}

func (s *Server) proposeBlock(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	b, err := s.svc.ProposeBlock(req.Proposer)
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusCreated, b)
}

func (s *Server) voteOnBlock(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req blockVote
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	approve := true
	if req.Approve != nil {
		approve = *req.Approve
	}
	b, err := s.svc.VoteOnBlock(idx, req.Voter, approve)
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, b)
}

func (s *Server) pendingBlocks(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, s.svc.ListPendingBlocks())
}

func (s *Server) chain(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, s.svc.GetChain())
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	b, err := s.svc.GetBlock(idx)
	if err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, b)
}

func (s *Server) verifyChain(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.VerifyChain(); err != nil {
		s.fail(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK, VerifyResult{Valid: true, Length: len(s.svc.GetChain())})
}

func (s *Server) chainArrow(w http.ResponseWriter, r *http.Request) {
	c, err := arrow.ParseCompression(r.URL.Query().Get("compress"))
	if err != nil {
		s.fail(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	data, err := s.exporter.Export(s.svc.GetChain(), c)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", ArrowContentType)
	if c == arrow.CompressZstd {
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, s.svc.Status())
}
