package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"luckydraw/internal/draw"
	"luckydraw/internal/models"
)

var (
	ErrInvalidTier              = errors.New("指定的奖项不存在")
	ErrInvalidCount             = errors.New("抽取人数无效")
	ErrEmptyRoster              = errors.New("请先上传参与者名单")
	ErrDrawInProgress           = errors.New("正在抽奖中")
	ErrNoDrawInProgress         = errors.New("当前没有进行中的抽奖")
	ErrInsufficientEligiblePool = errors.New("符合条件的参与者不足")
)

// Options configures a LotteryService.
type Options struct {
	Policy draw.Policy
	Source draw.Source
	// TierCounts holds the default winners per draw for tiers 1 to 5.
	TierCounts [models.TierCount]int
	// MaxWinnersPerDraw bounds the count a user may select.
	MaxWinnersPerDraw int
	Clock             func() time.Time
}

// DefaultOptions mirrors the party defaults: one first prize per draw up to four fifth prizes.
func DefaultOptions() Options {
	return Options{
		Policy:            draw.DefaultPolicy(),
		TierCounts:        [models.TierCount]int{1, 2, 3, 4, 4},
		MaxWinnersPerDraw: 4,
	}
}

// Round is a single start-to-stop draw cycle.
type Round struct {
	ID        string
	Tier      models.Tier
	Count     int
	Pool      []models.Participant
	StartedAt time.Time

	stopped chan struct{}
	winners []models.Winner
}

// Stopped is closed once the round has been stopped or discarded.
func (r *Round) Stopped() <-chan struct{} {
	return r.stopped
}

// Winners returns the round's winners. It is only meaningful after Stopped is closed.
func (r *Round) Winners() []models.Winner {
	select {
	case <-r.stopped:
		return r.winners
	default:
		return nil
	}
}

// CandidateNames lists the names in the round's eligible pool.
func (r *Round) CandidateNames() []string {
	out := make([]string, len(r.Pool))
	for i, p := range r.Pool {
		out[i] = p.Name
	}
	return out
}

func (r *Round) finish(winners []models.Winner) {
	r.winners = winners
	close(r.stopped)
}

// LotterySession holds the draw state of a single tenant.
type LotterySession struct {
	mu sync.Mutex

	Roster []models.Participant
	// Winners only ever grows during a session.
	Winners       []models.Winner
	SelectedTier  models.Tier
	SelectedCount int
	Round         *Round
	LastActivity  time.Time
}

// TierEligibility summarizes who can currently win a tier.
type TierEligibility struct {
	Tier           models.Tier
	RequiresTenure bool
	Eligible       int
	DefaultCount   int
}

// Snapshot is a read-only copy of a session for rendering.
type Snapshot struct {
	RosterSize    int
	Remaining     int
	SelectedTier  models.Tier
	SelectedCount int
	Spinning      bool
	RoundID       string
	Winners       []models.Winner
	WinnersByTier []models.TierWinners
	Eligibility   []TierEligibility
}

// LotteryService manages multiple lottery sessions.
type LotteryService struct {
	mu       sync.RWMutex
	sessions map[string]*LotterySession // Key: tenantID

	engine *draw.Engine
	opts   Options
}

// NewLotteryService creates and initializes a new LotteryService.
func NewLotteryService(opts Options) *LotteryService {
	def := DefaultOptions()
	if opts.MaxWinnersPerDraw <= 0 {
		opts.MaxWinnersPerDraw = def.MaxWinnersPerDraw
	}
	for i, n := range opts.TierCounts {
		if n <= 0 {
			opts.TierCounts[i] = min(def.TierCounts[i], opts.MaxWinnersPerDraw)
		}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	engine := draw.NewEngine(opts.Policy, opts.Source)
	engine.Clock = opts.Clock

	return &LotteryService{
		sessions: make(map[string]*LotterySession),
		engine:   engine,
		opts:     opts,
	}
}

// Engine exposes the draw engine, mainly for eligibility checks.
func (s *LotteryService) Engine() *draw.Engine {
	return s.engine
}

// MaxWinnersPerDraw is the largest count Select accepts.
func (s *LotteryService) MaxWinnersPerDraw() int {
	return s.opts.MaxWinnersPerDraw
}

// DefaultCount returns the configured winners per draw for tier.
func (s *LotteryService) DefaultCount(tier models.Tier) int {
	if !tier.Valid() {
		return 0
	}
	return s.opts.TierCounts[tier-1]
}

// getSession returns a session for a tenant, creating one if it doesn't exist.
func (s *LotteryService) getSession(tenantID string) *LotterySession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[tenantID]
	if !exists {
		session = &LotterySession{
			Roster:        make([]models.Participant, 0),
			Winners:       make([]models.Winner, 0),
			SelectedTier:  models.TierFifth,
			SelectedCount: s.DefaultCount(models.TierFifth),
		}
		s.sessions[tenantID] = session
	}
	session.LastActivity = s.opts.Clock()
	return session
}

// LoadRoster replaces the tenant's roster. Winners from earlier draws are kept.
func (s *LotteryService) LoadRoster(tenantID string, participants []models.Participant) error {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Round != nil {
		return ErrDrawInProgress
	}
	roster := make([]models.Participant, len(participants))
	copy(roster, participants)
	session.Roster = roster
	logger.Infof("Loaded roster for tenant %s: %d participants", tenantID, len(roster))
	return nil
}

// Select records the tier and winner count used by the next Start.
// A count of zero selects the tier's configured default.
func (s *LotteryService) Select(tenantID string, tier models.Tier, count int) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	if count == 0 {
		count = s.DefaultCount(tier)
	}
	if count < 1 || count > s.opts.MaxWinnersPerDraw {
		return fmt.Errorf("%w: %d (1-%d)", ErrInvalidCount, count, s.opts.MaxWinnersPerDraw)
	}

	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Round != nil {
		return ErrDrawInProgress
	}
	session.SelectedTier = tier
	session.SelectedCount = count
	return nil
}

// Start opens a round for the selected tier. The eligible pool is fixed at this point
// and the draw itself happens in Stop.
func (s *LotteryService) Start(tenantID string) (*Round, error) {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Round != nil {
		return nil, ErrDrawInProgress
	}
	if len(session.Roster) == 0 {
		return nil, ErrEmptyRoster
	}

	tier, count := session.SelectedTier, session.SelectedCount
	pool := s.engine.FilterEligible(session.Roster, draw.WinnerIDs(session.Winners), tier)
	if len(pool) < count {
		logger.Infof("Refused draw for tenant %s: %s needs %d, %d eligible", tenantID, tier, count, len(pool))
		return nil, fmt.Errorf("%w: %s 需要 %d 人，仅 %d 人符合条件", ErrInsufficientEligiblePool, tier, count, len(pool))
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate round id: %w", err)
	}

	round := &Round{
		ID:        id,
		Tier:      tier,
		Count:     count,
		Pool:      pool,
		StartedAt: s.opts.Clock(),
		stopped:   make(chan struct{}),
	}
	session.Round = round
	logger.Infof("Started round %s for tenant %s: %s x%d from %d eligible", id, tenantID, tier, count, len(pool))
	return round, nil
}

// CurrentRound returns the in-flight round, or nil.
func (s *LotteryService) CurrentRound(tenantID string) *Round {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.Round
}

// Stop draws the winners of the in-flight round and appends them to the session.
func (s *LotteryService) Stop(tenantID string) ([]models.Winner, error) {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()

	round := session.Round
	if round == nil {
		return nil, ErrNoDrawInProgress
	}

	selected := s.engine.DrawWinners(round.Pool, round.Count)
	drawnAt := s.opts.Clock()
	winners := make([]models.Winner, len(selected))
	for i, p := range selected {
		winners[i] = models.Winner{Participant: p, Tier: round.Tier, DrawnAt: drawnAt, RoundID: round.ID}
	}

	session.Winners = append(session.Winners, winners...)
	session.Round = nil
	round.finish(winners)

	logger.Infof("Stopped round %s for tenant %s: %d winners for %s", round.ID, tenantID, len(winners), round.Tier)
	return append([]models.Winner(nil), winners...), nil
}

// Draw selects, starts and stops a round in one call.
func (s *LotteryService) Draw(tenantID string, tier models.Tier, count int) ([]models.Winner, error) {
	if err := s.Select(tenantID, tier, count); err != nil {
		return nil, err
	}
	if _, err := s.Start(tenantID); err != nil {
		return nil, err
	}
	return s.Stop(tenantID)
}

// Winners returns every winner of the session in draw order.
func (s *LotteryService) Winners(tenantID string) []models.Winner {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()
	return append([]models.Winner(nil), session.Winners...)
}

// Snapshot copies the session state for display.
func (s *LotteryService) Snapshot(tenantID string) Snapshot {
	session := s.getSession(tenantID)
	session.mu.Lock()
	defer session.mu.Unlock()

	past := draw.WinnerIDs(session.Winners)
	snap := Snapshot{
		RosterSize:    len(session.Roster),
		Remaining:     remaining(session.Roster, past),
		SelectedTier:  session.SelectedTier,
		SelectedCount: session.SelectedCount,
		Spinning:      session.Round != nil,
		Winners:       append([]models.Winner(nil), session.Winners...),
		WinnersByTier: groupByTier(session.Winners),
	}
	if session.Round != nil {
		snap.RoundID = session.Round.ID
	}
	for _, tier := range models.Tiers() {
		snap.Eligibility = append(snap.Eligibility, TierEligibility{
			Tier:           tier,
			RequiresTenure: s.engine.Policy.RequiresTenure(tier),
			Eligible:       len(s.engine.FilterEligible(session.Roster, past, tier)),
			DefaultCount:   s.DefaultCount(tier),
		})
	}
	return snap
}

// remaining counts roster members who have not won yet.
func remaining(roster []models.Participant, past map[string]struct{}) int {
	n := 0
	for _, p := range roster {
		if _, won := past[p.EmployeeID]; !won {
			n++
		}
	}
	return n
}

func groupByTier(winners []models.Winner) []models.TierWinners {
	var groups []models.TierWinners
	for _, tier := range models.Tiers() {
		var tw []models.Winner
		for _, w := range winners {
			if w.Tier == tier {
				tw = append(tw, w)
			}
		}
		if len(tw) > 0 {
			groups = append(groups, models.TierWinners{Tier: tier, Winners: tw})
		}
	}
	return groups
}

// discardRound releases stream watchers of a round that will never be stopped.
func discardRound(session *LotterySession) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.Round != nil {
		session.Round.finish(nil)
		session.Round = nil
	}
}

// CleanUpInactiveSessions removes sessions that have been inactive for longer than ttl.
func (s *LotteryService) CleanUpInactiveSessions(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock()
	removed := 0
	for tenantID, session := range s.sessions {
		if now.Sub(session.LastActivity) > ttl {
			discardRound(session)
			delete(s.sessions, tenantID)
			removed++
			logger.Infof("Removed inactive session for tenant: %s", tenantID)
		}
	}
	return removed
}

// ClearSession removes all data associated with a specific tenant.
func (s *LotteryService) ClearSession(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[tenantID]; ok {
		discardRound(session)
	}
	delete(s.sessions, tenantID)
	logger.Infof("Cleared session for tenant: %s", tenantID)
}
