package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/stage"
)

// Store is the durable job record. It is the only shared mutable state
// in the system (spec §5): every mutation goes through one of the
// conditional Lua scripts below, never a plain GET-then-SET.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

var createScript = redis.NewScript(`
local job_key = KEYS[1]
local link_key = KEYS[2]
local title_set = KEYS[3]
local stage_set = KEYS[4]
local active_set = KEYS[5]
local created_zset = KEYS[6]
local updated_zset = KEYS[7]

local job_json = ARGV[1]
local id = ARGV[2]
local ts = ARGV[3]
local has_link = ARGV[4]
local title_norm = ARGV[5]
local rss_norm = ARGV[6]
local has_title = ARGV[7]
local has_rss = ARGV[8]

if redis.call('EXISTS', job_key) == 1 then
  return 0
end
if has_link == '1' and redis.call('EXISTS', link_key) == 1 then
  return 0
end

redis.call('SET', job_key, job_json)
if has_link == '1' then
  redis.call('SET', link_key, id)
end
if has_title == '1' then
  redis.call('SADD', title_set, title_norm)
end
if has_rss == '1' then
  redis.call('SADD', title_set, rss_norm)
end
redis.call('SADD', stage_set, id)
redis.call('SADD', active_set, id)
redis.call('ZADD', created_zset, ts, id)
redis.call('ZADD', updated_zset, ts, id)
return 1
`)

var transitionScript = redis.NewScript(`
local job_key = KEYS[1]
local old_stage_set = KEYS[2]
local new_stage_set = KEYS[3]
local active_set = KEYS[4]
local updated_zset = KEYS[5]
local link_key = KEYS[6]

local froms_json = ARGV[1]
local new_job_json = ARGV[2]
local id = ARGV[3]
local ts = ARGV[4]
local is_terminal = ARGV[5]
local has_link = ARGV[6]

local current = redis.call('GET', job_key)
if not current then
  return 0
end
local current_job = cjson.decode(current)
local froms = cjson.decode(froms_json)
local matched = false
for _, s in ipairs(froms) do
  if current_job.stage == s then
    matched = true
    break
  end
end
if not matched then
  return 0
end

redis.call('SET', job_key, new_job_json)
redis.call('SREM', old_stage_set, id)
redis.call('SADD', new_stage_set, id)
if is_terminal == '1' then
  redis.call('SREM', active_set, id)
else
  redis.call('SADD', active_set, id)
end
redis.call('ZADD', updated_zset, ts, id)
if is_terminal == '1' and has_link == '1' then
  local holder = redis.call('GET', link_key)
  if holder == id then
    redis.call('DEL', link_key)
  end
end
return 1
`)

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Create inserts a new job, enforcing the (channelId, normalizedLink)
// uniqueness invariant atomically. It returns ErrDuplicateLink if the
// link is already held by a non-terminal job in the same channel.
func (s *Store) Create(ctx context.Context, j job.Job) error {
	payload, err := j.Marshal()
	if err != nil {
		return fmt.Errorf("store: marshal job: %w", err)
	}

	normLink := ""
	hasLink := "0"
	if j.Link != "" {
		normLink = job.NormalizeLink(j.Link)
		hasLink = "1"
	}
	titleNorm := normalizeTitle(j.Title)
	hasTitle := "0"
	if titleNorm != "" {
		hasTitle = "1"
	}
	rssNorm := normalizeTitle(j.RSSTitle)
	hasRSS := "0"
	if rssNorm != "" {
		hasRSS = "1"
	}

	keys := []string{
		jobKey(j.ID),
		linkIndexKey(j.ChannelID, normLink),
		titleSetKey(j.ChannelID),
		stageSetKey(j.ChannelID, string(j.Stage)),
		activeSetKey(j.ChannelID),
		createdZSetKey(j.ChannelID),
		updatedZSetKey(j.ChannelID),
	}
	res, err := createScript.Run(ctx, s.rdb, keys,
		payload, j.ID, j.CreatedAt.Unix(), hasLink, titleNorm, rssNorm, hasTitle, hasRSS,
	).Int()
	if err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	if res == 0 {
		return ErrDuplicateLink
	}
	return nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id string) (job.Job, error) {
	raw, err := s.rdb.Get(ctx, jobKey(id)).Result()
	if err == redis.Nil {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("store: get: %w", err)
	}
	j, err := job.Unmarshal(raw)
	if err != nil {
		return job.Job{}, fmt.Errorf("store: decode: %w", err)
	}
	return j, nil
}

// Transition atomically replaces a job's stage if its current stage is
// one of froms, applying mutate to the in-memory copy first so the
// stage and any accompanying field updates land in a single write. It
// returns (true, newJob, nil) on success and (false, job.Job{}, nil) — a
// no-op, not an error — when the precondition fails to hold, per spec §4.1.
func (s *Store) Transition(ctx context.Context, id string, froms []stage.Stage, to stage.Stage, mutate func(*job.Job)) (bool, job.Job, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return false, job.Job{}, nil
		}
		return false, job.Job{}, err
	}

	next := cur
	if mutate != nil {
		mutate(&next)
	}
	next.Stage = to
	next.UpdatedAt = time.Now().UTC()
	if !next.UpdatedAt.After(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt.Add(time.Nanosecond)
	}

	payload, err := next.Marshal()
	if err != nil {
		return false, job.Job{}, fmt.Errorf("store: marshal job: %w", err)
	}

	fromStrs := make([]string, len(froms))
	for i, f := range froms {
		fromStrs[i] = string(f)
	}
	fromsJSON, err := json.Marshal(fromStrs)
	if err != nil {
		return false, job.Job{}, fmt.Errorf("store: marshal froms: %w", err)
	}

	hasLink := "0"
	normLink := ""
	if next.Link != "" {
		normLink = job.NormalizeLink(next.Link)
		hasLink = "1"
	}
	isTerminal := "0"
	if stage.IsTerminal(to) {
		isTerminal = "1"
	}

	keys := []string{
		jobKey(id),
		stageSetKey(cur.ChannelID, string(cur.Stage)),
		stageSetKey(next.ChannelID, string(to)),
		activeSetKey(next.ChannelID),
		updatedZSetKey(next.ChannelID),
		linkIndexKey(next.ChannelID, normLink),
	}
	res, err := transitionScript.Run(ctx, s.rdb, keys,
		string(fromsJSON), payload, id, next.UpdatedAt.Unix(), isTerminal, hasLink,
	).Int()
	if err != nil {
		return false, job.Job{}, fmt.Errorf("store: transition: %w", err)
	}
	if res == 0 {
		return false, job.Job{}, nil
	}
	return true, next, nil
}

// ForceSet overwrites a job's record and re-indexes it under its
// current stage, bypassing the transition precondition entirely. It
// exists for tests that need to backdate UpdatedAt to simulate
// staleness; production code should always go through Transition.
func (s *Store) ForceSet(ctx context.Context, j job.Job) error {
	prev, err := s.Get(ctx, j.ID)
	if err != nil && err != ErrNotFound {
		return err
	}

	payload, err := j.Marshal()
	if err != nil {
		return fmt.Errorf("store: marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(j.ID), payload, 0)
	if err == nil && prev.Stage != j.Stage {
		pipe.SRem(ctx, stageSetKey(prev.ChannelID, string(prev.Stage)), j.ID)
	}
	pipe.SAdd(ctx, stageSetKey(j.ChannelID, string(j.Stage)), j.ID)
	if stage.IsTerminal(j.Stage) {
		pipe.SRem(ctx, activeSetKey(j.ChannelID), j.ID)
	} else {
		pipe.SAdd(ctx, activeSetKey(j.ChannelID), j.ID)
	}
	pipe.ZAdd(ctx, updatedZSetKey(j.ChannelID), redis.Z{Score: float64(j.UpdatedAt.Unix()), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: force set: %w", err)
	}
	return nil
}

// CountActive returns the number of non-terminal jobs for a channel,
// used by the ingestion gate's capacity check.
func (s *Store) CountActive(ctx context.Context, channelID string) (int64, error) {
	n, err := s.rdb.SCard(ctx, activeSetKey(channelID)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: count active: %w", err)
	}
	return n, nil
}

// LinkExists reports whether a job already claims this normalized link
// in the channel.
func (s *Store) LinkExists(ctx context.Context, channelID, link string) (bool, error) {
	n, err := s.rdb.Exists(ctx, linkIndexKey(channelID, job.NormalizeLink(link))).Result()
	if err != nil {
		return false, fmt.Errorf("store: link exists: %w", err)
	}
	return n == 1, nil
}

// TitleExists reports whether title or rssTitle already appears,
// normalized, among any past job in the channel.
func (s *Store) TitleExists(ctx context.Context, channelID, title string) (bool, error) {
	n, err := s.rdb.SIsMember(ctx, titleSetKey(channelID), normalizeTitle(title)).Result()
	if err != nil {
		return false, fmt.Errorf("store: title exists: %w", err)
	}
	return n, nil
}

// RecentTitles returns the up-to-n most recently created job titles for
// a channel, newest first, feeding the semantic-similarity step.
func (s *Store) RecentTitles(ctx context.Context, channelID string, n int64) ([]string, error) {
	jobs, err := s.RecentJobs(ctx, channelID, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Title)
	}
	return out, nil
}

// RecentJobs returns the up-to-n most recently created jobs for a
// channel, newest first.
func (s *Store) RecentJobs(ctx context.Context, channelID string, n int64) ([]job.Job, error) {
	if n <= 0 {
		n = 15
	}
	ids, err := s.rdb.ZRevRange(ctx, createdZSetKey(channelID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: recent jobs: %w", err)
	}
	return s.mget(ctx, ids)
}

// OldestInStage returns the oldest (by createdAt) job in the given stage
// for a channel, scanning the channel's first 1000 job ids in creation
// order; jobs created after those are not examined. It is used
// by the upload scheduler's "select the oldest COMPLETED job" step.
func (s *Store) OldestInStage(ctx context.Context, channelID string, st stage.Stage) (job.Job, bool, error) {
	const window = 1000
	ids, err := s.rdb.ZRange(ctx, createdZSetKey(channelID), 0, window-1).Result()
	if err != nil {
		return job.Job{}, false, fmt.Errorf("store: oldest in stage: %w", err)
	}
	for _, id := range ids {
		member, err := s.rdb.SIsMember(ctx, stageSetKey(channelID, string(st)), id).Result()
		if err != nil {
			return job.Job{}, false, fmt.Errorf("store: oldest in stage membership: %w", err)
		}
		if member {
			j, err := s.Get(ctx, id)
			if err != nil {
				if err == ErrNotFound {
					continue
				}
				return job.Job{}, false, err
			}
			return j, true, nil
		}
	}
	return job.Job{}, false, nil
}

// MostRecentInStage returns the job with the greatest updatedAt among
// jobs currently in the given stage for a channel. It is used by the
// upload scheduler's cadence gate (most recent UPLOADED job).
func (s *Store) MostRecentInStage(ctx context.Context, channelID string, st stage.Stage) (job.Job, bool, error) {
	ids, err := s.rdb.ZRevRange(ctx, updatedZSetKey(channelID), 0, 999).Result()
	if err != nil {
		return job.Job{}, false, fmt.Errorf("store: most recent in stage: %w", err)
	}
	for _, id := range ids {
		member, err := s.rdb.SIsMember(ctx, stageSetKey(channelID, string(st)), id).Result()
		if err != nil {
			return job.Job{}, false, fmt.Errorf("store: most recent in stage membership: %w", err)
		}
		if member {
			j, err := s.Get(ctx, id)
			if err != nil {
				if err == ErrNotFound {
					continue
				}
				return job.Job{}, false, err
			}
			return j, true, nil
		}
	}
	return job.Job{}, false, nil
}

// AllIDsInStage lists every job id currently in a stage, used by the
// reaper's staleness sweep.
func (s *Store) AllIDsInStage(ctx context.Context, channelID string, st stage.Stage) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, stageSetKey(channelID, string(st))).Result()
	if err != nil {
		return nil, fmt.Errorf("store: all ids in stage: %w", err)
	}
	return ids, nil
}

// AllTerminalOlderThan lists job ids in a terminal stage whose updatedAt
// is older than cutoff, used by the cleanup task.
func (s *Store) AllTerminalOlderThan(ctx context.Context, channelID string, cutoff time.Time) ([]string, error) {
	var out []string
	for _, st := range []stage.Stage{stage.Uploaded, stage.Failed, stage.Blocked} {
		ids, err := s.rdb.SMembers(ctx, stageSetKey(channelID, string(st))).Result()
		if err != nil {
			return nil, fmt.Errorf("store: all terminal: %w", err)
		}
		for _, id := range ids {
			score, err := s.rdb.ZScore(ctx, updatedZSetKey(channelID), id).Result()
			if err != nil {
				continue
			}
			if time.Unix(int64(score), 0).Before(cutoff) {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// Delete removes a job and its stage, active, created and updated index
// entries. Its normalized titles stay in the channel's title set and its
// link index key is not touched. Used by the cleanup task once a
// terminal job has passed its retention window.
func (s *Store) Delete(ctx context.Context, id string) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.SRem(ctx, stageSetKey(j.ChannelID, string(j.Stage)), id)
	pipe.SRem(ctx, activeSetKey(j.ChannelID), id)
	pipe.ZRem(ctx, createdZSetKey(j.ChannelID), id)
	pipe.ZRem(ctx, updatedZSetKey(j.ChannelID), id)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

func (s *Store) mget(ctx context.Context, ids []string) ([]job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: mget: %w", err)
	}
	out := make([]job.Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		j, err := job.Unmarshal(s)
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}
