// Package api exposes a trusted circle's query endpoints and inbound
// message taxonomy (spec.md §6) over HTTP, grounded on the teacher's
// gateway services that front a domain engine with a thin chi router.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustedcircle/circle"
	"trustedcircle/core/events"
	"trustedcircle/crypto"
	"trustedcircle/proposal"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Circle        *circle.Circle
	MetricsPrefix string
	Now           func() time.Time
}

// Server wraps one Circle behind an HTTP router.
type Server struct {
	circle *circle.Circle
	now    func() time.Time

	requests *prometheus.CounterVec
	registry *prometheus.Registry
	events   *eventLog
	router   http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	prefix := cfg.MetricsPrefix
	if prefix == "" {
		prefix = "trustedcircle"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: prefix,
		Name:      "api_requests_total",
		Help:      "Total HTTP requests processed by the trusted circle API.",
	}, []string{"route", "method", "status"})
	registry.MustRegister(requests)

	s := &Server{circle: cfg.Circle, now: now, requests: requests, registry: registry, events: newEventLog(256)}
	if cfg.Circle != nil {
		cfg.Circle.SetEmitter(events.FanOut{cfg.Circle.Emitter(), s.events})
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/member/{addr}", s.getMember)
		v1.Get("/members", s.listMembers)
		v1.Get("/members/by-weight", s.listMembersByWeight)
		v1.Get("/total-weight", s.getTotalWeight)
		v1.Get("/admin", s.getAdmin)
		v1.Get("/hooks", s.listHooks)
		v1.Get("/preauths", s.getPreauths)
		v1.Get("/config", s.getConfig)

		v1.Get("/proposals/{id}", s.getProposal)
		v1.Get("/proposals", s.listProposals)
		v1.Get("/proposals/{id}/votes", s.listVotes)
		v1.Get("/proposals/{id}/votes/{voter}", s.getVote)
		v1.Get("/votes/{voter}", s.listVotesByVoter)

		v1.Get("/escrow/{addr}", s.getEscrow)
		v1.Get("/escrows", s.listEscrows)
		v1.Get("/rewards/withdrawable/{addr}", s.getWithdrawable)
		v1.Get("/rewards/distributed", s.getDistributed)

		v1.Get("/validators/{operator}", s.getValidator)
		v1.Get("/validators", s.listValidators)
		v1.Get("/validators/active", s.listActiveValidators)
		v1.Get("/validators/simulate", s.simulateActiveValidators)
		v1.Get("/epoch", s.getEpoch)
		v1.Get("/events", s.listEvents)

		v1.Post("/admin", s.postUpdateAdmin)
		v1.Post("/members", s.postUpdateMembers)
		v1.Post("/hooks", s.postAddHook)
		v1.Delete("/hooks/{addr}", s.postRemoveHook)
		v1.Post("/distribute", s.postDistributeFunds)
		v1.Post("/withdraw", s.postWithdrawFunds)
		v1.Post("/escrow/deposit", s.postDepositEscrow)
		v1.Post("/escrow/return", s.postReturnEscrow)
		v1.Post("/leave", s.postLeave)
		v1.Post("/check-pending", s.postCheckPending)

		v1.Post("/proposals", s.postPropose)
		v1.Post("/proposals/{id}/vote", s.postVote)
		v1.Post("/proposals/{id}/execute", s.postExecute)
		v1.Post("/proposals/{id}/close", s.postClose)

		v1.Post("/validators/register", s.postRegisterValidator)
		v1.Post("/validators/{operator}/metadata", s.postUpdateMetadata)
		v1.Post("/validators/{operator}/jail", s.postJail)
		v1.Post("/validators/{operator}/unjail", s.postUnjail)
	})

	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		s.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, circle.ErrNotAdmin), errors.Is(err, circle.ErrUnauthorized), errors.Is(err, circle.ErrNoPreauth):
		return http.StatusForbidden
	case errors.Is(err, circle.ErrDeniedAddress), errors.Is(err, circle.ErrInvalidQuorum),
		errors.Is(err, circle.ErrInvalidThreshold), errors.Is(err, circle.ErrInvalidVotingPeriod),
		errors.Is(err, circle.ErrInvalidSlashingPercentage), errors.Is(err, circle.ErrInvalidEscrow),
		errors.Is(err, circle.ErrEmptyName), errors.Is(err, circle.ErrLongName), errors.Is(err, circle.ErrNoMembers):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeAddr(w http.ResponseWriter, s string) ([]byte, bool) {
	addr, err := crypto.DecodeAddress(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return addr.Bytes(), true
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func queryUint64(r *http.Request, key string) uint64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// getMember serves spec.md §6 query "Member{addr, height?}".
func (s *Server) getMember(w http.ResponseWriter, r *http.Request) {
	addr, ok := decodeAddr(w, chi.URLParam(r, "addr"))
	if !ok {
		return
	}
	var weight uint64
	var present bool
	var err error
	if h := r.URL.Query().Get("height"); h != "" {
		height, parseErr := strconv.ParseUint(h, 10, 64)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr)
			return
		}
		weight, present, err = s.circle.Group.Snapshot.LoadAt(addr, height)
	} else {
		weight, present, err = s.circle.Group.Snapshot.Load(addr)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"present": present, "weight": weight})
}

// listMembers serves spec.md §6 query "ListMembers{start_after?, limit?}".
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	var startAfter []byte
	if v := r.URL.Query().Get("start_after"); v != "" {
		addr, ok := decodeAddr(w, v)
		if !ok {
			return
		}
		startAfter = addr
	}
	members, err := s.circle.Group.Snapshot.Range(startAfter, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// listMembersByWeight serves spec.md §6 query
// "ListMembersByWeight{start_after?, limit?}".
func (s *Server) listMembersByWeight(w http.ResponseWriter, r *http.Request) {
	members, err := s.circle.Group.Snapshot.RangeByWeight(nil, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) getTotalWeight(w http.ResponseWriter, r *http.Request) {
	total, err := s.circle.Group.TotalWeight()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"total_weight": total})
}

func (s *Server) getAdmin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"admin": s.circle.Config().Admin})
}

func (s *Server) listHooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.circle.Group.Hooks.List()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (s *Server) getPreauths(w http.ResponseWriter, r *http.Request) {
	n, err := s.circle.Group.Hooks.Preauths()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"preauths": n})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.circle.Config())
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.circle.Proposals.Get(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	var proposals []proposal.Proposal
	var err error
	if v := r.URL.Query().Get("start_before"); v != "" {
		startBefore := queryUint64(r, "start_before")
		proposals, err = s.circle.Proposals.ReverseProposals(startBefore, queryLimit(r))
	} else {
		proposals, err = s.circle.Proposals.ListProposals(queryUint64(r, "start_after"), queryLimit(r))
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) listVotes(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	votes, err := s.circle.Proposals.ListVotes(id, nil, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

func (s *Server) getVote(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	voter, ok := decodeAddr(w, chi.URLParam(r, "voter"))
	if !ok {
		return
	}
	ballot, present, err := s.circle.Proposals.Ballot(id, voter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"present": present, "ballot": ballot})
}

func (s *Server) listVotesByVoter(w http.ResponseWriter, r *http.Request) {
	voter, ok := decodeAddr(w, chi.URLParam(r, "voter"))
	if !ok {
		return
	}
	votes, err := s.circle.Proposals.ListVotesByVoter(voter, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	addr, ok := decodeAddr(w, chi.URLParam(r, "addr"))
	if !ok {
		return
	}
	rec, present, err := s.circle.Lifecycle.Escrow(addr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"present": present, "escrow": rec})
}

func (s *Server) listEscrows(w http.ResponseWriter, r *http.Request) {
	entries, err := s.circle.Lifecycle.ListEscrows(nil, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getWithdrawable(w http.ResponseWriter, r *http.Request) {
	addr, ok := decodeAddr(w, chi.URLParam(r, "addr"))
	if !ok {
		return
	}
	weight, _, err := s.circle.Group.Snapshot.Load(addr)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	amount, err := s.circle.Rewards.Withdrawable(addr, weight)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawable": amount.String()})
}

func (s *Server) getDistributed(w http.ResponseWriter, r *http.Request) {
	distributed, withdrawable, err := s.circle.Rewards.Snapshot()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"distributed":  distributed.String(),
		"withdrawable": withdrawable.String(),
	})
}

func (s *Server) getValidator(w http.ResponseWriter, r *http.Request) {
	operator, ok := decodeAddr(w, chi.URLParam(r, "operator"))
	if !ok {
		return
	}
	reg, present, err := s.circle.Validators.Registration(operator)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"present": present, "registration": reg})
}

func (s *Server) listValidators(w http.ResponseWriter, r *http.Request) {
	regs, err := s.circle.Validators.ListValidators(nil, queryLimit(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

func (s *Server) listActiveValidators(w http.ResponseWriter, r *http.Request) {
	entries, err := s.circle.Validators.ListActiveValidators()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) simulateActiveValidators(w http.ResponseWriter, r *http.Request) {
	entries, err := s.circle.Validators.SimulateActiveValidators()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getEpoch(w http.ResponseWriter, r *http.Request) {
	epoch, err := s.circle.Validators.Epoch()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"epoch": epoch})
}

// --- message handlers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func senderFromHeader(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	sender := r.Header.Get("X-Circle-Sender")
	if sender == "" {
		writeError(w, http.StatusUnauthorized, errors.New("api: missing X-Circle-Sender header"))
		return nil, false
	}
	return decodeAddr(w, sender)
}

func (s *Server) postUpdateAdmin(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		NewAdmin string `json:"new_admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var newAdmin []byte
	if req.NewAdmin != "" {
		addr, ok := decodeAddr(w, req.NewAdmin)
		if !ok {
			return
		}
		newAdmin = addr
	}
	if err := s.circle.UpdateAdmin(sender, newAdmin); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postUpdateMembers(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Add []struct {
			Address string `json:"address"`
			Weight  uint64 `json:"weight"`
		} `json:"add"`
		Remove []string `json:"remove"`
		Height uint64   `json:"height"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	add := make([]circle.MemberWeight, 0, len(req.Add))
	for _, a := range req.Add {
		addr, ok := decodeAddr(w, a.Address)
		if !ok {
			return
		}
		add = append(add, circle.MemberWeight{Address: addr, Weight: a.Weight})
	}
	remove := make([][]byte, 0, len(req.Remove))
	for _, a := range req.Remove {
		addr, ok := decodeAddr(w, a)
		if !ok {
			return
		}
		remove = append(remove, addr)
	}
	if _, err := s.circle.UpdateMembers(sender, add, remove, req.Height); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postAddHook(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Hook string `json:"hook"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	hook, ok := decodeAddr(w, req.Hook)
	if !ok {
		return
	}
	if err := s.circle.AddHook(sender, hook); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postRemoveHook(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	hook, ok := decodeAddr(w, chi.URLParam(r, "addr"))
	if !ok {
		return
	}
	if err := s.circle.RemoveHook(sender, hook); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postDistributeFunds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Balance string `json:"balance"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	balance, err := uint256.FromDecimal(req.Balance)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.circle.DistributeFunds(balance); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postWithdrawFunds(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Receiver string `json:"receiver"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var receiver []byte
	if req.Receiver != "" {
		addr, ok := decodeAddr(w, req.Receiver)
		if !ok {
			return
		}
		receiver = addr
	}
	amount, err := s.circle.WithdrawFunds(sender, receiver)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) postDepositEscrow(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
		Height uint64 `json:"height"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.circle.DepositEscrow(sender, amount, req.Height); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postReturnEscrow(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	amount, err := s.circle.ReturnEscrow(sender)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) postLeave(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Height uint64 `json:"height"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.circle.Leave(sender, req.Height); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postCheckPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Height uint64 `json:"height"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.circle.CheckPending(req.Height); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func choiceFromString(s string) (proposal.Choice, error) {
	switch s {
	case "yes":
		return proposal.ChoiceYes, nil
	case "no":
		return proposal.ChoiceNo, nil
	case "abstain":
		return proposal.ChoiceAbstain, nil
	case "veto":
		return proposal.ChoiceVeto, nil
	default:
		return 0, errors.New("api: unknown vote choice")
	}
}

func (s *Server) postPropose(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Title       string                 `json:"title"`
		Description string                 `json:"description"`
		StartHeight uint64                 `json:"start_height"`
		Payload     circle.ProposalPayload `json:"payload"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.circle.Propose(sender, req.Title, req.Description, req.Payload, req.StartHeight)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"id": id})
}

func (s *Server) postVote(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Choice string `json:"choice"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	choice, err := choiceFromString(req.Choice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.circle.Vote(sender, id, choice); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postExecute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Height uint64 `json:"height"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.circle.Execute(id, req.Height); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postClose(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.circle.Close(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postRegisterValidator(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	var req struct {
		Pubkey   []byte `json:"pubkey"`
		Metadata string `json:"metadata"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.circle.RegisterValidatorKey(sender, req.Pubkey, req.Metadata); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	operator, ok := decodeAddr(w, chi.URLParam(r, "operator"))
	if !ok {
		return
	}
	var req struct {
		Metadata string `json:"metadata"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.circle.UpdateValidatorMetadata(operator, req.Metadata); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postJail(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	operator, ok := decodeAddr(w, chi.URLParam(r, "operator"))
	if !ok {
		return
	}
	var req struct {
		DurationSeconds uint64 `json:"duration_seconds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var duration *time.Duration
	if req.DurationSeconds > 0 {
		d := time.Duration(req.DurationSeconds) * time.Second
		duration = &d
	}
	if err := s.circle.Jail(sender, operator, duration); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) postUnjail(w http.ResponseWriter, r *http.Request) {
	sender, ok := senderFromHeader(w, r)
	if !ok {
		return
	}
	operator, ok := decodeAddr(w, chi.URLParam(r, "operator"))
	if !ok {
		return
	}
	if err := s.circle.Unjail(sender, operator); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
