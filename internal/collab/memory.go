package collab

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	tableTeams       = "teams"
	tableMembers     = "team_members"
	tableInvitations = "invitations"
	tableAssignments = "assignments"
	tableApprovals   = "approvals"
)

// Memory is an in-process Store. Transactions read committed state without
// holding locks and stage their writes; commit validates every conditional
// write against the current versions and applies all of them or none.
type Memory struct {
	mu          sync.RWMutex
	teams       map[string]Team
	members     map[string]Membership
	invitations map[string]Invitation
	assignments map[string]Assignment
	approvals   map[string]Approval
	activity    []ActivityRecord
	seq         atomic.Int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		teams:       make(map[string]Team),
		members:     make(map[string]Membership),
		invitations: make(map[string]Invitation),
		assignments: make(map[string]Assignment),
		approvals:   make(map[string]Approval),
	}
}

func (s *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func memberKey(teamID, userID string) string { return teamID + "\x00" + userID }

type versionCheck struct {
	table   string
	key     string
	version int64 // zero means the row must not exist
}

type memTx struct {
	s            *Memory
	teams        map[string]*Team
	members      map[string]*Membership
	invitations  map[string]*Invitation
	assignments  map[string]*Assignment
	approvals    map[string]*Approval
	activity     []ActivityRecord
	checks       []versionCheck
	checked      map[string]bool
	deletedTeams []string
}

func (s *Memory) begin() *memTx {
	return &memTx{
		s:           s,
		teams:       make(map[string]*Team),
		members:     make(map[string]*Membership),
		invitations: make(map[string]*Invitation),
		assignments: make(map[string]*Assignment),
		approvals:   make(map[string]*Approval),
		checked:     make(map[string]bool),
	}
}

// expect records the committed version a staged write depends on. Only the
// first write to a row in a transaction records a check.
func (tx *memTx) expect(table, key string, version int64) {
	id := table + "/" + key
	if tx.checked[id] {
		return
	}
	tx.checked[id] = true
	tx.checks = append(tx.checks, versionCheck{table: table, key: key, version: version})
}

func (s *Memory) versionLocked(table, key string) int64 {
	switch table {
	case tableTeams:
		return s.teams[key].Version
	case tableMembers:
		return s.members[key].Version
	case tableInvitations:
		return s.invitations[key].Version
	case tableAssignments:
		return s.assignments[key].Version
	case tableApprovals:
		return s.approvals[key].Version
	}
	return -1
}

func (s *Memory) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range tx.checks {
		if s.versionLocked(c.table, c.key) != c.version {
			return conflictf("%s row was modified concurrently", c.table)
		}
	}
	if err := s.checkPendingUniqueLocked(tx); err != nil {
		return err
	}
	if err := s.checkTeamsExistLocked(tx); err != nil {
		return err
	}

	for id, t := range tx.teams {
		if t == nil {
			delete(s.teams, id)
			continue
		}
		s.teams[id] = *t
	}
	for k, m := range tx.members {
		if m == nil {
			delete(s.members, k)
			continue
		}
		s.members[k] = *m
	}
	for id, inv := range tx.invitations {
		s.invitations[id] = *inv
	}
	for id, a := range tx.assignments {
		s.assignments[id] = *a
	}
	for id, a := range tx.approvals {
		s.approvals[id] = *a
	}
	s.activity = append(s.activity, tx.activity...)

	for _, teamID := range tx.deletedTeams {
		s.cascadeLocked(teamID)
	}
	return nil
}

func (s *Memory) checkPendingUniqueLocked(tx *memTx) error {
	for _, a := range tx.approvals {
		if a.Status != ApprovalPending {
			continue
		}
		for id, other := range s.approvals {
			if id == a.ID || other.Status != ApprovalPending || other.TeamID != a.TeamID || other.PostID != a.PostID {
				continue
			}
			if staged, ok := tx.approvals[id]; ok && staged.Status != ApprovalPending {
				continue
			}
			return conflictf("post %s already has a pending approval", a.PostID)
		}
	}
	for _, inv := range tx.invitations {
		if inv.Status != InvitationPending {
			continue
		}
		for id, other := range s.invitations {
			if id == inv.ID || other.Status != InvitationPending || other.TeamID != inv.TeamID || other.Email != inv.Email {
				continue
			}
			if staged, ok := tx.invitations[id]; ok && staged.Status != InvitationPending {
				continue
			}
			return conflictf("%s already has a pending invitation", inv.Email)
		}
	}
	return nil
}

func (s *Memory) checkTeamsExistLocked(tx *memTx) error {
	exists := func(teamID string) bool {
		if t, ok := tx.teams[teamID]; ok {
			return t != nil
		}
		_, ok := s.teams[teamID]
		return ok
	}
	var owners []string
	for _, m := range tx.members {
		if m != nil {
			owners = append(owners, m.TeamID)
		}
	}
	for _, inv := range tx.invitations {
		owners = append(owners, inv.TeamID)
	}
	for _, a := range tx.assignments {
		owners = append(owners, a.TeamID)
	}
	for _, a := range tx.approvals {
		owners = append(owners, a.TeamID)
	}
	for _, rec := range tx.activity {
		owners = append(owners, rec.TeamID)
	}
	for _, teamID := range owners {
		if !exists(teamID) {
			return notFoundf("team %s", teamID)
		}
	}
	return nil
}

func (s *Memory) cascadeLocked(teamID string) {
	for k, m := range s.members {
		if m.TeamID == teamID {
			delete(s.members, k)
		}
	}
	for id, inv := range s.invitations {
		if inv.TeamID == teamID {
			delete(s.invitations, id)
		}
	}
	for id, a := range s.assignments {
		if a.TeamID == teamID {
			delete(s.assignments, id)
		}
	}
	for id, a := range s.approvals {
		if a.TeamID == teamID {
			delete(s.approvals, id)
		}
	}
	kept := s.activity[:0]
	for _, rec := range s.activity {
		if rec.TeamID != teamID {
			kept = append(kept, rec)
		}
	}
	s.activity = kept
}

// --- teams ---

func (tx *memTx) GetTeam(_ context.Context, id string) (Team, error) {
	if t, ok := tx.teams[id]; ok {
		if t == nil {
			return Team{}, notFoundf("team %s", id)
		}
		return *t, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	t, ok := tx.s.teams[id]
	if !ok {
		return Team{}, notFoundf("team %s", id)
	}
	return t, nil
}

func (tx *memTx) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	tx.s.mu.RLock()
	var teamIDs []string
	for _, m := range tx.s.members {
		if m.UserID == userID {
			teamIDs = append(teamIDs, m.TeamID)
		}
	}
	tx.s.mu.RUnlock()
	for _, m := range tx.members {
		if m != nil && m.UserID == userID {
			teamIDs = append(teamIDs, m.TeamID)
		}
	}

	seen := make(map[string]bool, len(teamIDs))
	var out []Team
	for _, id := range teamIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := tx.GetMembership(ctx, id, userID); err != nil {
			continue
		}
		t, err := tx.GetTeam(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *memTx) InsertTeam(ctx context.Context, t Team) error {
	if _, err := tx.GetTeam(ctx, t.ID); err == nil {
		return conflictf("team %s already exists", t.ID)
	}
	tx.expect(tableTeams, t.ID, 0)
	t.Version = 1
	tx.teams[t.ID] = &t
	return nil
}

func (tx *memTx) UpdateTeam(ctx context.Context, t Team) error {
	cur, err := tx.GetTeam(ctx, t.ID)
	if err != nil {
		return err
	}
	if cur.Version != t.Version {
		return conflictf("team %s was modified concurrently", t.ID)
	}
	tx.expect(tableTeams, t.ID, t.Version)
	t.Version++
	tx.teams[t.ID] = &t
	return nil
}

func (tx *memTx) TouchTeam(ctx context.Context, id string, version int64, at time.Time) error {
	cur, err := tx.GetTeam(ctx, id)
	if err != nil {
		return err
	}
	if cur.Version != version {
		return conflictf("team %s was modified concurrently", id)
	}
	cur.UpdatedAt = at
	return tx.UpdateTeam(ctx, cur)
}

func (tx *memTx) DeleteTeam(ctx context.Context, id string, version int64) error {
	cur, err := tx.GetTeam(ctx, id)
	if err != nil {
		return err
	}
	if cur.Version != version {
		return conflictf("team %s was modified concurrently", id)
	}
	tx.expect(tableTeams, id, version)
	tx.teams[id] = nil
	tx.deletedTeams = append(tx.deletedTeams, id)

	for k, m := range tx.members {
		if m != nil && m.TeamID == id {
			delete(tx.members, k)
		}
	}
	for k, inv := range tx.invitations {
		if inv.TeamID == id {
			delete(tx.invitations, k)
		}
	}
	for k, a := range tx.assignments {
		if a.TeamID == id {
			delete(tx.assignments, k)
		}
	}
	for k, a := range tx.approvals {
		if a.TeamID == id {
			delete(tx.approvals, k)
		}
	}
	kept := tx.activity[:0]
	for _, rec := range tx.activity {
		if rec.TeamID != id {
			kept = append(kept, rec)
		}
	}
	tx.activity = kept
	return nil
}

// --- memberships ---

func (tx *memTx) GetMembership(_ context.Context, teamID, userID string) (Membership, error) {
	key := memberKey(teamID, userID)
	if m, ok := tx.members[key]; ok {
		if m == nil {
			return Membership{}, notFoundf("user %s is not a member of team %s", userID, teamID)
		}
		return *m, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	m, ok := tx.s.members[key]
	if !ok {
		return Membership{}, notFoundf("user %s is not a member of team %s", userID, teamID)
	}
	return m, nil
}

func (tx *memTx) ListMemberships(_ context.Context, teamID string) ([]Membership, error) {
	tx.s.mu.RLock()
	out := mergeView(tx.s.members, tx.members, func(m Membership) bool { return m.TeamID == teamID })
	tx.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (tx *memTx) InsertMembership(ctx context.Context, m Membership) error {
	if _, err := tx.GetMembership(ctx, m.TeamID, m.UserID); err == nil {
		return conflictf("user %s is already a member of team %s", m.UserID, m.TeamID)
	}
	if _, err := tx.GetTeam(ctx, m.TeamID); err != nil {
		return err
	}
	key := memberKey(m.TeamID, m.UserID)
	tx.expect(tableMembers, key, 0)
	m.Version = 1
	tx.members[key] = &m
	return nil
}

func (tx *memTx) UpdateMembership(ctx context.Context, m Membership) error {
	cur, err := tx.GetMembership(ctx, m.TeamID, m.UserID)
	if err != nil {
		return err
	}
	if cur.Version != m.Version {
		return conflictf("membership of %s was modified concurrently", m.UserID)
	}
	key := memberKey(m.TeamID, m.UserID)
	tx.expect(tableMembers, key, m.Version)
	m.Version++
	tx.members[key] = &m
	return nil
}

func (tx *memTx) DeleteMembership(ctx context.Context, m Membership) error {
	cur, err := tx.GetMembership(ctx, m.TeamID, m.UserID)
	if err != nil {
		return err
	}
	if cur.Version != m.Version {
		return conflictf("membership of %s was modified concurrently", m.UserID)
	}
	key := memberKey(m.TeamID, m.UserID)
	tx.expect(tableMembers, key, m.Version)
	tx.members[key] = nil
	return nil
}

// --- invitations ---

func (tx *memTx) GetInvitation(_ context.Context, id string) (Invitation, error) {
	if inv, ok := tx.invitations[id]; ok {
		return *inv, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	inv, ok := tx.s.invitations[id]
	if !ok {
		return Invitation{}, notFoundf("invitation %s", id)
	}
	return inv, nil
}

func (tx *memTx) ListInvitations(_ context.Context, teamID string) ([]Invitation, error) {
	tx.s.mu.RLock()
	out := mergeView(tx.s.invitations, tx.invitations, func(inv Invitation) bool { return inv.TeamID == teamID })
	tx.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (tx *memTx) InsertInvitation(ctx context.Context, inv Invitation) error {
	if _, err := tx.GetInvitation(ctx, inv.ID); err == nil {
		return conflictf("invitation %s already exists", inv.ID)
	}
	if inv.Status == InvitationPending {
		existing, err := tx.ListInvitations(ctx, inv.TeamID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Status == InvitationPending && other.Email == inv.Email {
				return conflictf("%s already has a pending invitation", inv.Email)
			}
		}
	}
	tx.expect(tableInvitations, inv.ID, 0)
	inv.Version = 1
	tx.invitations[inv.ID] = &inv
	return nil
}

func (tx *memTx) UpdateInvitation(ctx context.Context, inv Invitation) error {
	cur, err := tx.GetInvitation(ctx, inv.ID)
	if err != nil {
		return err
	}
	if cur.Version != inv.Version {
		return conflictf("invitation %s was modified concurrently", inv.ID)
	}
	tx.expect(tableInvitations, inv.ID, inv.Version)
	inv.Version++
	tx.invitations[inv.ID] = &inv
	return nil
}

// --- assignments ---

func (tx *memTx) GetAssignment(_ context.Context, id string) (Assignment, error) {
	if a, ok := tx.assignments[id]; ok {
		return *a, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	a, ok := tx.s.assignments[id]
	if !ok {
		return Assignment{}, notFoundf("assignment %s", id)
	}
	return a, nil
}

func (tx *memTx) ListAssignments(_ context.Context, f AssignmentFilter) ([]Assignment, error) {
	tx.s.mu.RLock()
	out := mergeView(tx.s.assignments, tx.assignments, func(a Assignment) bool {
		return (f.TeamID == "" || a.TeamID == f.TeamID) &&
			(f.AssigneeID == "" || a.AssigneeID == f.AssigneeID) &&
			(f.PostID == "" || a.PostID == f.PostID)
	})
	tx.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (tx *memTx) InsertAssignment(ctx context.Context, a Assignment) error {
	if _, err := tx.GetAssignment(ctx, a.ID); err == nil {
		return conflictf("assignment %s already exists", a.ID)
	}
	tx.expect(tableAssignments, a.ID, 0)
	a.Version = 1
	tx.assignments[a.ID] = &a
	return nil
}

func (tx *memTx) UpdateAssignment(ctx context.Context, a Assignment) error {
	cur, err := tx.GetAssignment(ctx, a.ID)
	if err != nil {
		return err
	}
	if cur.Version != a.Version {
		return conflictf("assignment %s was modified concurrently", a.ID)
	}
	tx.expect(tableAssignments, a.ID, a.Version)
	a.Version++
	tx.assignments[a.ID] = &a
	return nil
}

// --- approvals ---

func (tx *memTx) GetApproval(_ context.Context, id string) (Approval, error) {
	if a, ok := tx.approvals[id]; ok {
		return *a, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	a, ok := tx.s.approvals[id]
	if !ok {
		return Approval{}, notFoundf("approval %s", id)
	}
	return a, nil
}

func (tx *memTx) ListApprovals(_ context.Context, f ApprovalFilter) ([]Approval, error) {
	tx.s.mu.RLock()
	out := mergeView(tx.s.approvals, tx.approvals, func(a Approval) bool {
		return (f.TeamID == "" || a.TeamID == f.TeamID) &&
			(f.PostID == "" || a.PostID == f.PostID) &&
			(f.Status == "" || a.Status == f.Status)
	})
	tx.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (tx *memTx) InsertApproval(ctx context.Context, a Approval) error {
	if _, err := tx.GetApproval(ctx, a.ID); err == nil {
		return conflictf("approval %s already exists", a.ID)
	}
	if a.Status == ApprovalPending {
		pending, err := tx.ListApprovals(ctx, ApprovalFilter{TeamID: a.TeamID, PostID: a.PostID, Status: ApprovalPending})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return conflictf("post %s already has a pending approval", a.PostID)
		}
	}
	tx.expect(tableApprovals, a.ID, 0)
	a.Version = 1
	tx.approvals[a.ID] = &a
	return nil
}

func (tx *memTx) UpdateApproval(ctx context.Context, a Approval) error {
	cur, err := tx.GetApproval(ctx, a.ID)
	if err != nil {
		return err
	}
	if cur.Version != a.Version {
		return conflictf("approval %s was modified concurrently", a.ID)
	}
	tx.expect(tableApprovals, a.ID, a.Version)
	a.Version++
	tx.approvals[a.ID] = &a
	return nil
}

// --- activity ---

func (tx *memTx) AppendActivity(_ context.Context, rec ActivityRecord) (ActivityRecord, error) {
	rec.Seq = tx.s.seq.Add(1)
	rec.Metadata = copyMetadata(rec.Metadata)
	tx.activity = append(tx.activity, rec)
	return rec, nil
}

func (tx *memTx) ListActivity(_ context.Context, teamID string, limit int, before *ActivityCursor) ([]ActivityRecord, error) {
	var out []ActivityRecord
	keep := func(rec ActivityRecord) {
		if rec.TeamID != teamID {
			return
		}
		if before != nil && !before.Older(rec) {
			return
		}
		rec.Metadata = copyMetadata(rec.Metadata)
		out = append(out, rec)
	}
	tx.s.mu.RLock()
	for _, rec := range tx.s.activity {
		keep(rec)
	}
	tx.s.mu.RUnlock()
	for _, rec := range tx.activity {
		keep(rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mergeView overlays staged rows on committed ones. A nil staged row hides
// the committed row. Callers hold the read lock.
func mergeView[T any](committed map[string]T, staged map[string]*T, keep func(T) bool) []T {
	var out []T
	for k, v := range committed {
		if _, ok := staged[k]; ok {
			continue
		}
		if keep(v) {
			out = append(out, v)
		}
	}
	for _, v := range staged {
		if v != nil && keep(*v) {
			out = append(out, *v)
		}
	}
	return out
}

func newerFirst(at time.Time, id string, bt time.Time, bid string) bool {
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return id > bid
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
