package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"carrierwave/internal/domain"
	"carrierwave/internal/settlement"
)

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerScientistRequest struct {
	InstitutionName     string `json:"institutionName"`
	InstitutionSplitBps uint32 `json:"institutionSplitBps"`
}

func (s *Server) postScientist(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req registerScientistRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.RegisterScientist(r.Context(), who, req.InstitutionName, req.InstitutionSplitBps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (s *Server) getScientist(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, ok, err := s.engine.GetScientist(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		// Unregistered scientists read as the zero profile.
		p = domain.ScientistProfile{WalletAddress: addr}
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getScientistClaims(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	claims, err := s.mirror.ListClaimsByScientist(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

type createBountyRequest struct {
	DiseaseTag string `json:"diseaseTag"`
	Criteria   string `json:"criteria"`
	Deadline   int64  `json:"deadline"`
	Amount     Amount `json:"amount"`
}

func (s *Server) postBounty(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createBountyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.CreateBounty(r.Context(), who, req.DiseaseTag, req.Criteria, req.Deadline, uint64(req.Amount))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rcpt)
}

func (s *Server) listBounties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.BountyFilter{Tag: q.Get("tag"), Status: domain.BountyStatus(q.Get("status"))}
	switch f.Status {
	case "", domain.BountyOpen, domain.BountyFinalized, domain.BountyCancelled:
	default:
		s.writeError(w, r, badRequestf("invalid status %q", f.Status))
		return
	}
	if v := q.Get("funder"); v != "" {
		addr, err := parseAddress(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		f.Funder = &addr
	}
	page, err := queryParam(r, "page", uint32(0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryParam(r, "limit", uint32(0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f.Page, f.Limit = int(page), int(limit)

	out, err := s.mirror.ListBounties(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBounty(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.engine.GetBounty(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type submitClaimRequest struct {
	ROID          string `json:"roId"`
	Justification string `json:"justification"`
}

func (s *Server) postClaim(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req submitClaimRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.SubmitClaim(r.Context(), id, who, req.ROID, req.Justification)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rcpt)
}

// listClaims serves the mirrored claim list, which may trail the ledger.
func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	claims, err := s.mirror.ListClaims(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	id, index, err := claimPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.engine.GetClaim(r.Context(), id, index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type approveClaimRequest struct {
	ShareBps uint32 `json:"shareBps"`
}

func (s *Server) postApprove(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, index, err := claimPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req approveClaimRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.ApproveClaim(r.Context(), who, id, index, req.ShareBps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (s *Server) postReject(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, index, err := claimPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.RejectClaim(r.Context(), who, id, index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (s *Server) postFinalize(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.FinalizeBounty(r.Context(), who, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (s *Server) postCancel(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.CancelBounty(r.Context(), who, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

func (s *Server) listEscrows(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.engine.GetBounty(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.engine.ListEscrowEntries(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.EscrowEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"escrows": entries})
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.engine.GetEscrowEntry(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type claimEscrowRequest struct {
	Payee string `json:"payee"`
}

func (s *Server) postEscrowClaim(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req claimEscrowRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payee, err := parseAddress(req.Payee)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rcpt, err := s.engine.ClaimEscrow(r.Context(), who, id, payee)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

type previewResponse struct {
	Amount         uint64 `json:"amount"`
	PlatformFeeBps uint32 `json:"platformFeeBps"`
	settlement.Split
}

func (s *Server) getSettlementPreview(w http.ResponseWriter, r *http.Request) {
	amount, err := queryParam(r, "amount", uint64(0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	share, err := queryParam(r, "shareBps", uint32(domain.MaxBps))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	split, err := queryParam(r, "splitBps", uint32(0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := settlement.Settle(amount, s.opts.PlatformFeeBps, share, split)
	if err != nil {
		s.writeError(w, r, badRequestf("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Amount: amount, PlatformFeeBps: s.opts.PlatformFeeBps, Split: res})
}

type accountResponse struct {
	Address domain.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.accounts.Balance(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Address: addr, Balance: bal})
}

type depositRequest struct {
	Amount Amount `json:"amount"`
}

func (s *Server) postDeposit(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req depositRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Amount == 0 {
		s.writeError(w, r, domain.ErrZeroAmount)
		return
	}
	if err := s.accounts.Deposit(r.Context(), addr, uint64(req.Amount)); err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.accounts.Balance(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Address: addr, Balance: bal})
}

func claimPath(r *http.Request) (uint64, uint32, error) {
	id, err := pathParam[uint64](r, "id")
	if err != nil {
		return 0, 0, err
	}
	index, err := pathParam[uint32](r, "index")
	if err != nil {
		return 0, 0, err
	}
	return id, index, nil
}
