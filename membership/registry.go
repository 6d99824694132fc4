// Package membership implements the consortium admission process. A request
// moves from pending to approved or rejected on the first vote cast by an
// approved member whose role carries the vote permission, or to rejected
// when its voting window expires.
package membership

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/address"
	"github.com/VanDung-dev/Consortium-Ledger/monitoring"
)

// Membership errors
var (
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidName         = errors.New("name is required")
	ErrInvalidAction       = errors.New("invalid action")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrAlreadyBootstrapped = errors.New("registry already has members")
	ErrUnauthorizedVoter   = errors.New("voter is not authorized")
	ErrRequestNotFound     = errors.New("membership request not found")
	ErrAddressCollision    = errors.New("generated address already registered")
)

// Options configures the voting window.
type Options struct {
	Timeout    time.Duration
	Reminder   time.Duration
	AutoReject bool
	// RequiredVotes and Threshold are reserved for a multi-vote tally.
	RequiredVotes int
	Threshold     float64
}

// Registry owns approved members, pending requests and rejected requests.
// An address is in at most one of the three collections.
type Registry struct {
	mu      sync.RWMutex
	roles   *RoleTable
	gen     address.Generator
	opts    Options
	now     func() time.Time
	logger  zerolog.Logger
	metrics *monitoring.Metrics

	members      []*Member
	memberIndex  map[string]*Member
	pending      map[string]*Request
	pendingOrder []string
	rejected     []*Request
	rejectedIdx  map[string]*Request
}

// NewRegistry creates an empty registry.
func NewRegistry(roles *RoleTable, gen address.Generator, opts Options, logger zerolog.Logger) *Registry {
	r := &Registry{
		roles:       roles,
		gen:         gen,
		opts:        opts,
		now:         time.Now,
		logger:      logger.With().Str("component", "membership").Logger(),
		memberIndex: make(map[string]*Member),
		pending:     make(map[string]*Request),
		rejectedIdx: make(map[string]*Request),
	}
	if opts.RequiredVotes > 1 {
		r.logger.Warn().
			Int("required_votes", opts.RequiredVotes).
			Float64("threshold", opts.Threshold).
			Msg("Membership requests resolve on the first eligible vote; required_votes and threshold are not applied")
	}
	return r
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetMetrics attaches metrics. m may be nil.
func (r *Registry) SetMetrics(m *monitoring.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Roles returns the role table.
func (r *Registry) Roles() *RoleTable {
	return r.roles
}

// AddFirstMember bootstraps the registry with a member of the first-member
// role. It is only allowed while there are no members.
func (r *Registry) AddFirstMember(name, role string) (Member, error) {
	if name == "" {
		return Member{}, ErrInvalidName
	}
	rl, err := r.roles.Parse(role)
	if err != nil {
		return Member{}, err
	}
	if rl != r.roles.First() {
		return Member{}, fmt.Errorf("%w: first member must have role %q", ErrInvalidRole, r.roles.First())
	}

	addr, err := r.gen.Generate()
	if err != nil {
		return Member{}, fmt.Errorf("generate address: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) > 0 {
		return Member{}, ErrAlreadyBootstrapped
	}
	if r.knownLocked(addr) {
		return Member{}, fmt.Errorf("%w: %s", ErrAddressCollision, addr)
	}

	m := &Member{
		Name:     name,
		Address:  addr,
		Role:     rl,
		Status:   StatusApproved,
		JoinedAt: r.now().UTC(),
	}
	r.members = append(r.members, m)
	r.memberIndex[addr] = m
	r.metrics.UpdateMembership(len(r.members), len(r.pending))

	r.logger.Info().Str("name", name).Str("address", addr).Str("role", string(rl)).Msg("First member added")
	return *m, nil
}

// RequestMembership opens a pending admission request.
func (r *Registry) RequestMembership(name, role string) (Request, error) {
	if name == "" {
		return Request{}, ErrInvalidName
	}
	rl, err := r.roles.Parse(role)
	if err != nil {
		return Request{}, err
	}

	addr, err := r.gen.Generate()
	if err != nil {
		return Request{}, fmt.Errorf("generate address: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.knownLocked(addr) {
		return Request{}, fmt.Errorf("%w: %s", ErrAddressCollision, addr)
	}

	now := r.now().UTC()
	req := &Request{
		ID:          uuid.New().String(),
		Name:        name,
		Address:     addr,
		Role:        rl,
		Status:      StatusPending,
		RequestedAt: now,
		Deadline:    now.Add(r.opts.Timeout),
		Votes:       map[string]Action{},
	}
	r.pending[addr] = req
	r.pendingOrder = append(r.pendingOrder, addr)
	r.metrics.RecordMembershipRequest()
	r.metrics.UpdateMembership(len(r.members), len(r.pending))

	r.logger.Info().
		Str("name", name).
		Str("address", addr).
		Str("role", string(rl)).
		Time("deadline", req.Deadline).
		Msg("Membership requested")
	return req.clone(), nil
}

// VoteOnRequest resolves a pending request with the voter's action.
func (r *Registry) VoteOnRequest(requestAddress, voterAddress, action string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasPermissionLocked(voterAddress, PermVote) {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnauthorizedVoter, voterAddress)
	}
	req, ok := r.pending[requestAddress]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestAddress)
	}
	act, err := ParseAction(action)
	if err != nil {
		return Decision{}, err
	}

	now := r.now().UTC()
	req.Votes[voterAddress] = act
	req.ResolvedAt = now
	req.ResolvedBy = voterAddress
	r.removePendingLocked(requestAddress)

	var d Decision
	switch act {
	case ActionApprove:
		req.Status = StatusApproved
		m := &Member{
			Name:     req.Name,
			Address:  req.Address,
			Role:     req.Role,
			Status:   StatusApproved,
			JoinedAt: now,
		}
		r.members = append(r.members, m)
		r.memberIndex[m.Address] = m
		mc := *m
		d = Decision{Request: req.clone(), Member: &mc}
	case ActionReject:
		req.Status = StatusRejected
		req.Reason = "rejected by vote"
		r.rejected = append(r.rejected, req)
		r.rejectedIdx[req.Address] = req
		d = Decision{Request: req.clone()}
	}

	r.metrics.RecordMembershipDecision(string(req.Status))
	r.metrics.UpdateMembership(len(r.members), len(r.pending))
	r.logger.Info().
		Str("address", requestAddress).
		Str("voter", voterAddress).
		Str("action", string(act)).
		Msg("Membership request resolved")
	return d, nil
}

// HasPermission reports whether address is an approved member whose role
// carries perm. Unknown addresses have no permissions.
func (r *Registry) HasPermission(address string, perm Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasPermissionLocked(address, perm)
}

// IsMember reports whether address is an approved member.
func (r *Registry) IsMember(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.memberIndex[address]
	return ok
}

// Member returns the approved member with address.
func (r *Registry) Member(address string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.memberIndex[address]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns approved members in admission order.
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, len(r.members))
	for i, m := range r.members {
		out[i] = *m
	}
	return out
}

// Pending returns pending requests in request order.
func (r *Registry) Pending() []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Request, 0, len(r.pendingOrder))
	for _, addr := range r.pendingOrder {
		out = append(out, r.pending[addr].clone())
	}
	return out
}

// Rejected returns rejected requests in rejection order.
func (r *Registry) Rejected() []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Request, len(r.rejected))
	for i, req := range r.rejected {
		out[i] = req.clone()
	}
	return out
}

// List returns the entries with the given status.
func (r *Registry) List(status Status) ([]Entry, error) {
	switch status {
	case StatusApproved:
		members := r.Members()
		out := make([]Entry, len(members))
		for i, m := range members {
			out[i] = Entry{Name: m.Name, Address: m.Address, Role: m.Role, Status: m.Status, Timestamp: m.JoinedAt}
		}
		return out, nil
	case StatusPending:
		return requestEntries(r.Pending()), nil
	case StatusRejected:
		return requestEntries(r.Rejected()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
}

func requestEntries(reqs []Request) []Entry {
	out := make([]Entry, len(reqs))
	for i, req := range reqs {
		ts := req.RequestedAt
		if !req.ResolvedAt.IsZero() {
			ts = req.ResolvedAt
		}
		out[i] = Entry{Name: req.Name, Address: req.Address, Role: req.Role, Status: req.Status, Timestamp: ts}
	}
	return out
}

// Addresses returns the addresses of all approved members.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.members))
	for i, m := range r.members {
		out[i] = m.Address
	}
	return out
}

// VoterAddresses returns the approved members allowed to vote.
func (r *Registry) VoterAddresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if r.roles.Allows(m.Role, PermVote) {
			out = append(out, m.Address)
		}
	}
	return out
}

// EligibleVoters counts approved members allowed to vote.
func (r *Registry) EligibleVoters() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.members {
		if r.roles.Allows(m.Role, PermVote) {
			n++
		}
	}
	return n
}

// RequestStatus reports the admission state of address.
func (r *Registry) RequestStatus(address string) (RequestStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.memberIndex[address]; ok {
		return RequestStatus{
			Address:           m.Address,
			Name:              m.Name,
			Role:              m.Role,
			Status:            StatusApproved,
			AutoRejectEnabled: r.opts.AutoReject,
		}, nil
	}

	req, ok := r.pending[address]
	if !ok {
		req, ok = r.rejectedIdx[address]
	}
	if !ok {
		return RequestStatus{}, fmt.Errorf("%w: %s", ErrRequestNotFound, address)
	}

	st := RequestStatus{
		Address:           req.Address,
		Name:              req.Name,
		Role:              req.Role,
		Status:            req.Status,
		RequestedAt:       req.RequestedAt,
		TimeoutAt:         req.Deadline,
		AutoRejectEnabled: r.opts.AutoReject,
		ReminderSent:      req.ReminderSent,
		ResolvedBy:        req.ResolvedBy,
		Reason:            req.Reason,
	}
	if req.Status == StatusPending {
		if remaining := req.Deadline.Sub(r.now()); remaining > 0 {
			st.TimeRemaining = remaining
		}
	}
	return st, nil
}

func (r *Registry) hasPermissionLocked(address string, perm Permission) bool {
	m, ok := r.memberIndex[address]
	if !ok {
		return false
	}
	return r.roles.Allows(m.Role, perm)
}

func (r *Registry) knownLocked(address string) bool {
	if _, ok := r.memberIndex[address]; ok {
		return true
	}
	if _, ok := r.pending[address]; ok {
		return true
	}
	_, ok := r.rejectedIdx[address]
	return ok
}

func (r *Registry) removePendingLocked(address string) {
	delete(r.pending, address)
	for i, a := range r.pendingOrder {
		if a == address {
			r.pendingOrder = append(r.pendingOrder[:i], r.pendingOrder[i+1:]...)
			return
		}
	}
}
