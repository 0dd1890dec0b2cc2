// Package evolution turns lived interactions into reusable strategies. A
// micro pass reviews every finished chat turn, and a nightly cycle mines
// yesterday's logs for recurring patterns. A lesson persists as an
// experience row in the graph plus a scenario-keyed vector, so the next
// similar situation retrieves the strategy that was minted for it.
package evolution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"endgame/internal/embedding"
	"endgame/internal/logging"
	"endgame/internal/perception"
	"endgame/internal/store"
	"endgame/internal/types"
	"endgame/internal/vector"
)

const (
	// reviewTimeout bounds each reflection call against the model.
	reviewTimeout = 30 * time.Second

	// maxNightlyLogs caps how much of yesterday feeds the reflector.
	maxNightlyLogs = 50

	// maxNightlyLessons caps the lessons minted per cycle.
	maxNightlyLessons = 3

	// guidanceStrategies is how many strategies GetGuidance surfaces.
	guidanceStrategies = 3

	// defaultCheckInterval is how often the scheduler checks the clock.
	defaultCheckInterval = time.Minute
)

// Service owns the two reflection paths and the experience store they feed.
type Service struct {
	graph    *store.GraphStore
	vectors  *vector.Store
	embedder embedding.Engine
	client   perception.LLMClient

	nightlyHour   int
	checkInterval time.Duration
	now           func() time.Time
}

// NewService wires the reflection service. nightlyHour is the local hour
// [0,23] the scheduler fires at; out-of-range values fall back to 03:00.
func NewService(graph *store.GraphStore, vectors *vector.Store, embedder embedding.Engine, client perception.LLMClient, nightlyHour int) *Service {
	if nightlyHour < 0 || nightlyHour > 23 {
		nightlyHour = 3
	}
	return &Service{
		graph:         graph,
		vectors:       vectors,
		embedder:      embedder,
		client:        client,
		nightlyHour:   nightlyHour,
		checkInterval: defaultCheckInterval,
		now:           time.Now,
	}
}

// Report summarizes one nightly cycle for callers and the admin CLI.
type Report struct {
	Date        string `json:"date"`
	Logs        int    `json:"logs"`
	Insights    int    `json:"insights"`
	Experiences int    `json:"experiences"`
}

// Evolve runs the micro review over one finished chat turn. A PASS verdict
// returns (nil, nil); a usable lesson is persisted and returned. A reply
// that names no trigger or no strategy is dropped, because an experience
// without a recognizable scenario or an actionable fix retrieves nothing.
func (s *Service) Evolve(ctx context.Context, userID, userQuery, aiResponse, feedback string) (*types.Experience, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}
	if strings.TrimSpace(feedback) == "" {
		feedback = "(none)"
	}

	cctx, cancel := context.WithTimeout(ctx, reviewTimeout)
	defer cancel()
	reply, err := s.client.Complete(cctx, fmt.Sprintf(microReviewPrompt, userQuery, aiResponse, feedback))
	if err != nil {
		return nil, fmt.Errorf("micro review failed: %w", err)
	}

	verdict := strings.TrimSpace(reply)
	if verdict == "PASS" {
		logging.Evolution("Micro review for %s: PASS", userID)
		return nil, nil
	}
	trigger, insight, strategy := parseLesson(verdict)
	if trigger == "" || strategy == "" {
		logging.Get(logging.CategoryEvolution).Warn("Micro review reply lacks trigger or strategy, dropping: %.120s", verdict)
		return nil, nil
	}
	return s.createExperience(ctx, userID, trigger, insight, strategy)
}

// RunNightlyCycle mines yesterday's logs for lessons. Safe to invoke
// directly; the scheduler calls it at the configured hour.
func (s *Service) RunNightlyCycle(ctx context.Context, userID string) (*Report, error) {
	yesterday := s.now().AddDate(0, 0, -1).Format("2006-01-02")
	return s.RunCycleForDate(ctx, userID, yesterday)
}

// RunCycleForDate runs the reflection cycle over the logs of one day, given
// as a YYYY-MM-DD prefix. One reflector pass distills up to three
// trigger/insight pairs from the day, then one strategist pass per insight
// turns it into a concrete strategy.
func (s *Service) RunCycleForDate(ctx context.Context, userID, date string) (*Report, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}
	logs, err := s.graph.GetLogsByDate(userID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load logs for %s: %w", date, err)
	}

	rep := &Report{Date: date, Logs: len(logs)}
	if len(logs) == 0 {
		logging.Evolution("Nightly cycle for %s: nothing logged on %s", userID, date)
		return rep, nil
	}
	if len(logs) > maxNightlyLogs {
		logs = logs[:maxNightlyLogs]
	}
	var day strings.Builder
	for _, l := range logs {
		day.WriteString("- ")
		day.WriteString(l.Content)
		day.WriteByte('\n')
	}

	seeds, err := s.reflect(ctx, day.String())
	if err != nil {
		return nil, err
	}
	rep.Insights = len(seeds)

	for _, seed := range seeds {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		strategy, err := s.strategize(ctx, seed.insight)
		if err != nil {
			logging.Get(logging.CategoryEvolution).Warn("Strategist failed for insight %.60q: %v", seed.insight, err)
			continue
		}
		if strategy == "" {
			continue
		}
		if _, err := s.createExperience(ctx, userID, seed.trigger, seed.insight, strategy); err != nil {
			logging.Get(logging.CategoryEvolution).Warn("Failed to persist nightly lesson: %v", err)
			continue
		}
		rep.Experiences++
	}

	logging.Evolution("Nightly cycle for %s: %d logs, %d insights, %d new strategies", userID, rep.Logs, rep.Insights, rep.Experiences)
	return rep, nil
}

// GetGuidance returns up to three stored strategies matching the query, one
// per "- " line. Guidance is advisory: every failure degrades to the empty
// string rather than an error.
func (s *Service) GetGuidance(ctx context.Context, query string) string {
	if strings.TrimSpace(query) == "" {
		return ""
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil || len(vec) == 0 {
		return ""
	}
	strategies, err := s.vectors.SearchExperiences(vec, guidanceStrategies)
	if err != nil || len(strategies) == 0 {
		return ""
	}
	var b strings.Builder
	for i, strategy := range strategies {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(strategy)
	}
	return b.String()
}

// StartScheduler launches the nightly loop for one user. Every check
// interval it compares the local hour against the configured one and runs
// the cycle at most once per day. The returned stop function blocks until
// the loop has exited.
func (s *Service) StartScheduler(ctx context.Context, userID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		var lastRun string
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := s.now()
				today := now.Format("2006-01-02")
				if now.Hour() != s.nightlyHour || lastRun == today {
					continue
				}
				lastRun = today
				if _, err := s.RunNightlyCycle(ctx, userID); err != nil {
					logging.Get(logging.CategoryEvolution).Error("Nightly cycle for %s failed: %v", userID, err)
				}
			}
		}
	}()

	logging.Evolution("Nightly scheduler armed for %s at %02d:00 local", userID, s.nightlyHour)
	return func() {
		cancel()
		<-done
	}
}

// createExperience writes one lesson to both stores. The vector indexes the
// trigger scenario and insight, because the next occurrence matches on the
// situation; the stored payload is the strategy, which is what retrieval
// must hand back.
func (s *Service) createExperience(ctx context.Context, userID, trigger, insight, strategy string) (*types.Experience, error) {
	exp := &types.Experience{
		ID:              "exp_" + uuid.New().String()[:8],
		UserID:          userID,
		TriggerScenario: trigger,
		Insight:         insight,
		Strategy:        strategy,
		CreatedAt:       types.NowISO(),
	}
	if !s.graph.AddExperience(userID, exp.ID, trigger, insight, strategy) {
		return nil, fmt.Errorf("failed to store experience %s", exp.ID)
	}

	key := fmt.Sprintf("Scenario: %s\nInsight: %s", trigger, insight)
	s.vectors.AddExperienceVector(exp.ID, strategy, embedding.EmbedOrZero(ctx, s.embedder, key))

	logging.Evolution("Learned strategy for %s: %s", userID, strategy)
	return exp, nil
}

// reflect runs the nightly reflector over the concatenated day and parses
// its trigger/insight pairs. A PASS verdict yields no seeds.
func (s *Service) reflect(ctx context.Context, day string) ([]lessonSeed, error) {
	cctx, cancel := context.WithTimeout(ctx, reviewTimeout)
	defer cancel()
	reply, err := s.client.Complete(cctx, fmt.Sprintf(nightlyReflectorPrompt, day))
	if err != nil {
		return nil, fmt.Errorf("reflector failed: %w", err)
	}
	if strings.TrimSpace(reply) == "PASS" {
		return nil, nil
	}
	return parseSeeds(reply), nil
}

// strategize turns one insight into a single concrete strategy.
func (s *Service) strategize(ctx context.Context, insight string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, reviewTimeout)
	defer cancel()
	reply, err := s.client.Complete(cctx, fmt.Sprintf(nightlyStrategistPrompt, insight))
	if err != nil {
		return "", err
	}
	strategy := strings.TrimSpace(reply)
	if after, ok := strings.CutPrefix(strategy, "STRATEGY:"); ok {
		strategy = strings.TrimSpace(after)
	}
	return strategy, nil
}

// lessonSeed is one trigger/insight pair distilled by the reflector, not
// yet turned into a strategy.
type lessonSeed struct {
	trigger string
	insight string
}

// parseLesson reads the TRIGGER/INSIGHT/STRATEGY line protocol of the micro
// review. Missing lines come back empty.
func parseLesson(reply string) (trigger, insight, strategy string) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "TRIGGER:"); ok {
			trigger = strings.TrimSpace(after)
		} else if after, ok := strings.CutPrefix(line, "INSIGHT:"); ok {
			insight = strings.TrimSpace(after)
		} else if after, ok := strings.CutPrefix(line, "STRATEGY:"); ok {
			strategy = strings.TrimSpace(after)
		}
	}
	return trigger, insight, strategy
}

// parseSeeds reads repeated TRIGGER/INSIGHT line pairs in reply order,
// keeping at most maxNightlyLessons complete pairs.
func parseSeeds(reply string) []lessonSeed {
	var seeds []lessonSeed
	var cur lessonSeed
	flush := func() {
		if cur.trigger != "" && cur.insight != "" && len(seeds) < maxNightlyLessons {
			seeds = append(seeds, cur)
		}
		cur = lessonSeed{}
	}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "TRIGGER:"); ok {
			flush()
			cur.trigger = strings.TrimSpace(after)
		} else if after, ok := strings.CutPrefix(line, "INSIGHT:"); ok {
			cur.insight = strings.TrimSpace(after)
		}
	}
	flush()
	return seeds
}
