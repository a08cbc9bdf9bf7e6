// Package datatest provides in-memory repositories for exercising the workflow
// and the orchestrator without a database. They follow the error contracts of
// the PostgreSQL DAOs.
package datatest

import (
	"context"
	"manicure/lib/data"
	"manicure/lib/models"
	"sort"
	"sync"
	"time"
)

// Tasks is an in-memory data.TaskRepository. FinalizeTask debits Orgs and
// counts the task in Members when they are set.
type Tasks struct {
	mu      sync.Mutex
	tasks   map[int64]*models.Task
	nextID  int64
	Now     func() time.Time
	Orgs    *Orgs
	Members *Members
}

// NewTasks creates an empty store
func NewTasks() *Tasks {
	return &Tasks{tasks: map[int64]*models.Task{}, Now: time.Now}
}

// Put stores a copy of task as is, assigning an ID when it has none
func (s *Tasks) Put(task *models.Task) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.TaskID == 0 {
		s.nextID++
		task.TaskID = s.nextID
	} else if task.TaskID > s.nextID {
		s.nextID = task.TaskID
	}
	s.tasks[task.TaskID] = task.Clone()
	return task
}

// Peek returns a copy of the stored task without going through the repository contract
func (s *Tasks) Peek(taskID int64) (*models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

func (s *Tasks) CreateTask(ctx context.Context, memberID, orgID int64) (*models.Task, error) {
	now := s.Now()
	return s.Put(&models.Task{
		MemberID:          memberID,
		OrgID:             orgID,
		FirstGroupPhotos:  []string{},
		SecondGroupPhotos: []string{},
		Status:            models.TaskStatusStarted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}), nil
}

func (s *Tasks) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	task, ok := s.Peek(taskID)
	if !ok {
		return nil, data.ErrTaskNotFound
	}
	return task, nil
}

func (s *Tasks) MutateTask(ctx context.Context, taskID int64, fn func(task *models.Task) error) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tasks[taskID]
	if !ok {
		return nil, data.ErrTaskNotFound
	}
	task := stored.Clone()
	if err := fn(task); err != nil {
		return nil, err
	}
	task.UpdatedAt = s.Now()
	s.tasks[taskID] = task.Clone()
	return task, nil
}

func (s *Tasks) DeleteTask(ctx context.Context, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return data.ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *Tasks) FinalizeTask(ctx context.Context, taskID int64, finalizedAt time.Time, quotaDebit int) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, data.ErrTaskNotFound
	}
	if task.Status != models.TaskStatusAnalysisComplete {
		return nil, data.ErrTaskNotClaimable
	}
	if s.Members != nil && !s.Members.exists(task.MemberID) {
		return nil, data.ErrMemberNotFound
	}
	if s.Orgs != nil {
		if err := s.Orgs.debit(task.OrgID, quotaDebit); err != nil {
			return nil, err
		}
	}
	if s.Members != nil {
		s.Members.countCompleted(task.MemberID)
	}
	task.Status = models.TaskStatusFinalized
	task.FinalizedAt = &finalizedAt
	return task.Clone(), nil
}

func (s *Tasks) GetLatestTaskForMember(ctx context.Context, memberID int64, activeOnly bool) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Task
	for _, task := range s.tasks {
		if task.MemberID != memberID || (activeOnly && task.Status.IsTerminal()) {
			continue
		}
		if latest == nil || task.TaskID > latest.TaskID {
			latest = task
		}
	}
	if latest == nil {
		return nil, data.ErrTaskNotFound
	}
	return latest.Clone(), nil
}

func (s *Tasks) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := []models.Task{}
	for _, task := range s.tasks {
		if task.Status == status {
			tasks = append(tasks, *task.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
	return tasks, nil
}

// Orgs is an in-memory data.OrgRepository. Deactivation cascades to Members when set.
// A non-nil FailDebit makes every quota debit fail with it.
type Orgs struct {
	mu        sync.Mutex
	orgs      map[int64]*models.Organization
	Debits    int
	FailDebit error
	Members   *Members
}

// NewOrgs seeds the store with active organizations
func NewOrgs(orgs ...models.Organization) *Orgs {
	s := &Orgs{orgs: map[int64]*models.Organization{}}
	for i := range orgs {
		org := orgs[i]
		org.IsActive = true
		s.orgs[org.OrgID] = &org
	}
	return s
}

// Peek returns the stored organization, active or not
func (s *Orgs) Peek(orgID int64) models.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orgs[orgID]
}

// SetLimit overrides the limit the way an administrator would
func (s *Orgs) SetLimit(orgID int64, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[orgID].QuotaLimit = limit
}

func (s *Orgs) GetOrganization(ctx context.Context, orgID int64) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[orgID]
	if !ok || !org.IsActive {
		return nil, data.ErrOrganizationNotFound
	}
	c := *org
	return &c, nil
}

func (s *Orgs) debit(orgID int64, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDebit != nil {
		return s.FailDebit
	}
	org, ok := s.orgs[orgID]
	if !ok {
		return data.ErrOrganizationNotFound
	}
	org.QuotaUsed += amount
	s.Debits++
	return nil
}

func (s *Orgs) CreateOrganization(ctx context.Context, org *models.Organization) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *org
	c.OrgID = int64(len(s.orgs) + 1)
	for s.orgs[c.OrgID] != nil {
		c.OrgID++
	}
	c.QuotaUsed = 0
	c.IsActive = true
	s.orgs[c.OrgID] = &c
	created := c
	return &created, nil
}

func (s *Orgs) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orgs := []models.Organization{}
	for _, org := range s.orgs {
		if org.IsActive {
			orgs = append(orgs, *org)
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (s *Orgs) SetQuotaLimit(ctx context.Context, orgID int64, limit int) (*models.Organization, error) {
	return s.update(orgID, func(org *models.Organization) { org.QuotaLimit = limit })
}

func (s *Orgs) AddQuota(ctx context.Context, orgID int64, amount int) (*models.Organization, error) {
	return s.update(orgID, func(org *models.Organization) { org.QuotaLimit += amount })
}

func (s *Orgs) update(orgID int64, fn func(org *models.Organization)) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[orgID]
	if !ok || !org.IsActive {
		return nil, data.ErrOrganizationNotFound
	}
	fn(org)
	c := *org
	return &c, nil
}

func (s *Orgs) DeactivateOrganization(ctx context.Context, orgID int64) (int, error) {
	s.mu.Lock()
	org, ok := s.orgs[orgID]
	if !ok || !org.IsActive {
		s.mu.Unlock()
		return 0, data.ErrOrganizationNotFound
	}
	org.IsActive = false
	s.mu.Unlock()

	if s.Members == nil {
		return 0, nil
	}
	s.Members.mu.Lock()
	defer s.Members.mu.Unlock()
	deactivated := 0
	for _, m := range s.Members.members {
		if m.OrgID == orgID && m.IsActive {
			m.IsActive = false
			deactivated++
		}
	}
	return deactivated, nil
}

// Members is an in-memory data.MemberRepository. Stats are computed from Tasks.
type Members struct {
	mu      sync.Mutex
	members map[int64]*models.Member
	Tasks   *Tasks
	Orgs    *Orgs
}

// orgActive checks the target salon when Orgs is set
func (s *Members) orgActive(orgID int64) error {
	if s.Orgs == nil {
		return nil
	}
	_, err := s.Orgs.GetOrganization(context.Background(), orgID)
	return err
}

// NewMembers seeds the store with active members
func NewMembers(tasks *Tasks, members ...models.Member) *Members {
	s := &Members{members: map[int64]*models.Member{}, Tasks: tasks}
	for i := range members {
		member := members[i]
		member.IsActive = true
		s.members[member.MemberID] = &member
	}
	return s
}

// Peek returns the stored member
func (s *Members) Peek(memberID int64) models.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.members[memberID]
}

func (s *Members) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	if err := s.orgActive(member.OrgID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ExternalIdentity == member.ExternalIdentity {
			return nil, data.ErrDuplicateIdentity
		}
	}
	c := *member
	c.MemberID = int64(len(s.members) + 1)
	c.IsActive = true
	s.members[c.MemberID] = &c
	created := c
	return &created, nil
}

func (s *Members) GetMember(ctx context.Context, memberID int64) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || !m.IsActive {
		return nil, data.ErrMemberNotFound
	}
	c := *m
	return &c, nil
}

func (s *Members) GetMemberByExternalIdentity(ctx context.Context, identity string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ExternalIdentity == identity && m.IsActive {
			c := *m
			return &c, nil
		}
	}
	return nil, data.ErrMemberNotFound
}

func (s *Members) ReassignMember(ctx context.Context, memberID, orgID int64) (*models.Member, error) {
	if err := s.orgActive(orgID); err != nil {
		return nil, data.ErrMemberNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || !m.IsActive {
		return nil, data.ErrMemberNotFound
	}
	m.OrgID = orgID
	c := *m
	return &c, nil
}

func (s *Members) DeactivateMember(ctx context.Context, memberID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || !m.IsActive {
		return data.ErrMemberNotFound
	}
	m.IsActive = false
	return nil
}

func (s *Members) exists(memberID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[memberID]
	return ok
}

func (s *Members) countCompleted(memberID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[memberID]; ok {
		m.CompletedTaskCount++
	}
}

func (s *Members) GetMemberStats(ctx context.Context, memberID int64) (*models.MemberStats, error) {
	stats := &models.MemberStats{MemberID: memberID}
	s.Tasks.mu.Lock()
	defer s.Tasks.mu.Unlock()
	for _, task := range s.Tasks.tasks {
		if task.MemberID != memberID {
			continue
		}
		stats.TotalTasks++
		switch {
		case task.Status == models.TaskStatusFinalized:
			stats.FinalizedTasks++
		case task.Status == models.TaskStatusDisputed:
			stats.Disputed++
		case !task.Status.IsTerminal():
			stats.InProgress++
		}
	}
	return stats, nil
}

// StepLogs is an in-memory data.StepLogRepository
type StepLogs struct {
	mu      sync.Mutex
	entries []models.AnalysisStepLog
	Tasks   *Tasks
}

func (s *StepLogs) CreateStepLog(ctx context.Context, entry *models.AnalysisStepLog) (*models.AnalysisStepLog, error) {
	if s.Tasks != nil {
		if _, ok := s.Tasks.Peek(entry.TaskID); !ok {
			return nil, data.ErrTaskNotFound
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	c.ID = int64(len(s.entries) + 1)
	c.CreatedAt = time.Now()
	s.entries = append(s.entries, c)
	return &c, nil
}

func (s *StepLogs) ListStepLogs(ctx context.Context, taskID int64) ([]models.AnalysisStepLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := []models.AnalysisStepLog{}
	for _, e := range s.entries {
		if e.TaskID == taskID {
			logs = append(logs, e)
		}
	}
	return logs, nil
}

// Stats is an in-memory data.StatsRepository computed from the other stores
type Stats struct {
	Orgs    *Orgs
	Members *Members
	Tasks   *Tasks
}

func (s *Stats) snapshot() ([]models.Organization, []models.Member, []models.Task) {
	s.Orgs.mu.Lock()
	orgs := []models.Organization{}
	for _, org := range s.Orgs.orgs {
		orgs = append(orgs, *org)
	}
	s.Orgs.mu.Unlock()
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].OrgID < orgs[j].OrgID })

	s.Members.mu.Lock()
	members := []models.Member{}
	for _, m := range s.Members.members {
		members = append(members, *m)
	}
	s.Members.mu.Unlock()
	sort.Slice(members, func(i, j int) bool { return members[i].MemberID < members[j].MemberID })

	s.Tasks.mu.Lock()
	tasks := []models.Task{}
	for _, task := range s.Tasks.tasks {
		tasks = append(tasks, *task.Clone())
	}
	s.Tasks.mu.Unlock()

	return orgs, members, tasks
}

func activeOrgs(orgs []models.Organization) map[int64]models.Organization {
	active := map[int64]models.Organization{}
	for _, org := range orgs {
		if org.IsActive {
			active[org.OrgID] = org
		}
	}
	return active
}

func countAnalyses(tasks []models.Task, since time.Time) int {
	n := 0
	for _, task := range tasks {
		if task.AnalysisStartedAt != nil && !task.AnalysisStartedAt.Before(since) {
			n++
		}
	}
	return n
}

func (s *Stats) GetNetworkStats(ctx context.Context, now time.Time) (*models.NetworkStats, error) {
	orgs, members, tasks := s.snapshot()
	active := activeOrgs(orgs)
	today, _, _ := models.StatsWindows(now)

	stats := &models.NetworkStats{ActiveSalons: len(active), GeneratedAt: now}
	for _, org := range active {
		stats.QuotaLimit += org.QuotaLimit
		stats.QuotaUsed += org.QuotaUsed
	}
	for _, m := range members {
		if _, ok := active[m.OrgID]; ok && m.IsActive {
			stats.ActiveMasters++
		}
	}
	stats.TotalAnalyses = countAnalyses(tasks, time.Time{})
	stats.AnalysesToday = countAnalyses(tasks, today)
	stats.Summarize()
	return stats, nil
}

func (s *Stats) ListSalonUsage(ctx context.Context, limit int) ([]models.SalonUsage, int, error) {
	orgs, members, _ := s.snapshot()
	salons := []models.SalonUsage{}
	for _, org := range orgs {
		if !org.IsActive {
			continue
		}
		usage := models.SalonUsage{QuotaResponse: models.NewQuotaResponse(&org), Location: org.Location}
		for _, m := range members {
			if m.OrgID == org.OrgID && m.IsActive {
				usage.ActiveMasters++
			}
		}
		usage.UsageLevel = models.UsageLevel(usage.UsagePercent)
		salons = append(salons, usage)
	}
	sort.SliceStable(salons, func(i, j int) bool {
		if salons[i].QuotaUsed != salons[j].QuotaUsed {
			return salons[i].QuotaUsed > salons[j].QuotaUsed
		}
		return salons[i].Name < salons[j].Name
	})
	total := len(salons)
	if len(salons) > limit {
		salons = salons[:limit]
	}
	return salons, total, nil
}

func (s *Stats) ListMasterRanking(ctx context.Context, limit int) ([]models.MasterRanking, int, error) {
	orgs, members, _ := s.snapshot()
	active := activeOrgs(orgs)
	masters := []models.MasterRanking{}
	allCompleted := 0
	for _, m := range members {
		org, ok := active[m.OrgID]
		if !ok || !m.IsActive {
			continue
		}
		allCompleted += m.CompletedTaskCount
		masters = append(masters, models.MasterRanking{
			MemberID:           m.MemberID,
			DisplayName:        m.DisplayName,
			OrgID:              org.OrgID,
			SalonName:          org.Name,
			CompletedTaskCount: m.CompletedTaskCount,
		})
	}
	sort.SliceStable(masters, func(i, j int) bool { return masters[i].CompletedTaskCount > masters[j].CompletedTaskCount })
	total := len(masters)
	if len(masters) > limit {
		masters = masters[:limit]
	}
	for i := range masters {
		masters[i].Rank = i + 1
		if allCompleted > 0 {
			masters[i].SharePercent = float64(masters[i].CompletedTaskCount) / float64(allCompleted) * 100
		}
	}
	return masters, total, nil
}

func (s *Stats) GetPeriodStats(ctx context.Context, now time.Time) (*models.PeriodStats, error) {
	_, members, tasks := s.snapshot()
	today, week, month := models.StatsWindows(now)
	stats := &models.PeriodStats{
		AnalysesToday: countAnalyses(tasks, today),
		AnalysesWeek:  countAnalyses(tasks, week),
		AnalysesMonth: countAnalyses(tasks, month),
		GeneratedAt:   now,
	}
	for _, m := range members {
		if !m.CreatedAt.Before(week) {
			stats.NewMastersWeek++
		}
	}
	stats.AverageDailyWeek = float64(stats.AnalysesWeek) / 7
	return stats, nil
}

var (
	_ data.TaskRepository    = (*Tasks)(nil)
	_ data.OrgRepository     = (*Orgs)(nil)
	_ data.MemberRepository  = (*Members)(nil)
	_ data.StepLogRepository = (*StepLogs)(nil)
	_ data.StatsRepository   = (*Stats)(nil)
)
