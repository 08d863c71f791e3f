// Command pipeline runs one role of the news-to-shorts pipeline: a
// content-producing stage worker, the upload scheduler, the upload
// worker, the retry controller, the stale-job reaper, the cleanup sweep,
// or the administrative HTTP surface — selected by -role, the same
// single-binary/multi-role idiom as the teacher's own entrypoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/newsline/shorts-pipeline/internal/adminapi"
	"github.com/newsline/shorts-pipeline/internal/channel"
	"github.com/newsline/shorts-pipeline/internal/claim"
	"github.com/newsline/shorts-pipeline/internal/cleanup"
	"github.com/newsline/shorts-pipeline/internal/collaborator"
	"github.com/newsline/shorts-pipeline/internal/config"
	"github.com/newsline/shorts-pipeline/internal/eventbus"
	"github.com/newsline/shorts-pipeline/internal/gate"
	"github.com/newsline/shorts-pipeline/internal/job"
	"github.com/newsline/shorts-pipeline/internal/keypool"
	"github.com/newsline/shorts-pipeline/internal/obs"
	"github.com/newsline/shorts-pipeline/internal/quota"
	"github.com/newsline/shorts-pipeline/internal/reaper"
	"github.com/newsline/shorts-pipeline/internal/retry"
	"github.com/newsline/shorts-pipeline/internal/scheduler"
	"github.com/newsline/shorts-pipeline/internal/stage"
	"github.com/newsline/shorts-pipeline/internal/stageworker"
	"github.com/newsline/shorts-pipeline/internal/store"
	"github.com/newsline/shorts-pipeline/internal/upload"
)

// env holds every shared collaborator the role dispatch wires together.
// Building it once keeps each run* function a short, readable list of
// subscriptions instead of a repeated construction block.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	rdb      *redis.Client
	bus      *eventbus.Bus
	registry *channel.Registry
	settings *channel.Settings
	store    *store.Store
	claim    *claim.Service
	quota    *quota.Tracker
	keyPool  *keypool.Pool
}

func main() {
	role := flag.String("role", "all", "gate|scripting|assets|render|scheduler|upload|retry|reaper|cleanup|admin|all")
	configPath := flag.String("config", "config/pipeline.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: load config: %v\n", err)
		os.Exit(1)
	}
	if v := os.Getenv("SHORTS_CHANNEL_ID"); v != "" {
		cfg.ChannelID = v
	}

	log, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})
	defer rdb.Close()

	bus, err := eventbus.Connect(cfg.EventBus, log)
	if err != nil {
		log.Fatal("connect event bus", obs.Err(err))
	}
	defer bus.Close()

	registry, err := channel.LoadRegistry(cfg.ChannelsFile)
	if err != nil {
		log.Fatal("load channel registry", obs.Err(err))
	}

	e := &env{
		cfg:      cfg,
		log:      log,
		rdb:      rdb,
		bus:      bus,
		registry: registry,
		settings: channel.NewSettings(rdb),
		store:    store.New(rdb),
	}
	e.claim = claim.New(e.store)
	e.quota = quota.New(rdb, cfg.Upload.DailyQuotaCap)
	e.keyPool = keypool.New(loadLLMKeys(), cfg.KeyPool.Cooldown, cfg.KeyPool.RatePerSecond, cfg.KeyPool.Burst)

	readiness := func() error { return rdb.Ping(ctx).Err() }
	metricsSrv := obs.StartMetricsServer(cfg, readiness)
	defer metricsSrv.Close()

	log.Info("pipeline starting", obs.String("role", *role), obs.String("channel_id", cfg.ChannelID))

	switch *role {
	case "gate":
		e.runGate(ctx)
	case "scripting":
		e.runScripting(ctx)
	case "assets":
		e.runAssets(ctx)
	case "render":
		e.runRender(ctx)
	case "scheduler":
		e.runScheduler(ctx)
	case "upload":
		e.runUpload(ctx)
	case "retry":
		e.runRetry(ctx)
	case "reaper":
		e.runReaper(ctx)
	case "cleanup":
		e.runCleanup(ctx)
	case "admin":
		e.runAdmin(ctx)
	case "all":
		e.runGate(ctx)
		e.runScripting(ctx)
		e.runAssets(ctx)
		e.runRender(ctx)
		e.runUpload(ctx)
		e.runRetry(ctx)
		e.runReaper(ctx)
		e.runAdmin(ctx) // also starts the scheduler and cleanup sweep it triggers manually.
	default:
		log.Fatal("unknown role", obs.String("role", *role))
	}

	<-ctx.Done()
	log.Info("pipeline shutting down")
}

// loadLLMKeys reads the comma-separated multi-key LLM credential pool
// from the environment (spec §5's "fronted by a multi-key pool"),
// keeping real provider credentials out of the YAML config entirely.
func loadLLMKeys() []keypool.Key {
	raw := os.Getenv("LLM_API_KEYS")
	if raw == "" {
		return nil
	}
	var keys []keypool.Key
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, keypool.Key(k))
		}
	}
	return keys
}

// runGate wires the Ingestion Gate's regeneration-consuming side. Bundle
// submission itself (fetching RSS feeds and calling ProcessBundle) is a
// separate ingestion-source concern outside this process's scope; this
// role only keeps the gate's regeneration-requested consumer alive.
func (e *env) runGate(ctx context.Context) {
	g := gate.New(e.store, e.bus, e.settings,
		collaborator.FakeSimilarityClassifier{},
		collaborator.FakeSafetyClassifier{Blocklist: []string{"graphic violence", "csam"}},
		collaborator.FakePlatformTitleChecker{},
	).WithClaimer(e.claim)

	if _, err := e.bus.Subscribe(eventbus.TopicRegenerationRequest+".>", "gate-regeneration", g.HandleRegenerationRequested); err != nil {
		e.log.Fatal("gate: subscribe regeneration-requested", obs.Err(err))
	}
	if _, err := e.bus.Subscribe(eventbus.TopicDeadLetter, "gate-dead-letter", deadLetterLogger(e.log, "GATE")); err != nil {
		e.log.Fatal("gate: subscribe dead-letter", obs.Err(err))
	}
	e.log.Info("gate: subscribed")
}

// runScripting wires the Scripting stage worker, its collaborator
// fronted by the multi-key pool (spec §5).
func (e *env) runScripting(ctx context.Context) {
	behavior, err := e.registry.Resolve(e.cfg.ChannelID)
	if err != nil {
		e.log.Fatal("scripting: resolve channel behavior", obs.Err(err))
	}
	w := &stageworker.Worker[collaborator.ScriptGenerator]{
		Name:         "SCRIPTING",
		Behavior:     behavior,
		InputTopic:   eventbus.TopicIngestNewItem,
		OutputTopic:  eventbus.TopicScriptCreated,
		FromQueued:   stage.Queued,
		ToActive:     stage.Scripting,
		ToNextQueued: stage.AssetsQueued,
		Claim:        e.claim,
		Bus:          e.bus,
		Collaborator: collaborator.KeyPooledScriptGenerator{Inner: collaborator.FakeScriptGenerator{}, Pool: e.keyPool},
		Invoke:       scriptingInvoke(behavior),
		Log:          e.log,
	}
	e.subscribeWorker(w, eventbus.TopicIngestNewItem, "scripting")
}

func scriptingInvoke(behavior channel.Behavior) stageworker.Invoke[collaborator.ScriptGenerator] {
	return func(ctx context.Context, j job.Job, c collaborator.ScriptGenerator, progress collaborator.ProgressFunc) (func(*job.Job), error) {
		out, err := c.Generate(ctx, collaborator.ScriptInput{
			Title:           j.Title,
			Summary:         j.Summary,
			SystemPrompt:    behavior.ScriptSystemPrompt(),
			ExtraPrompt:     behavior.ExtraPrompt(time.Now().UTC().Format("2006-01-02")),
			ShouldAggregate: behavior.ShouldAggregateNews,
		}, progress)
		if err != nil {
			return nil, err
		}
		if len(out.Scenes) == 0 {
			return nil, nil
		}
		return func(mut *job.Job) {
			mut.Description = out.Description
			mut.Scenes = out.Scenes
			mut.Tags = out.Tags
		}, nil
	}
}

// runAssets wires the Assets stage worker.
func (e *env) runAssets(ctx context.Context) {
	behavior, err := e.registry.Resolve(e.cfg.ChannelID)
	if err != nil {
		e.log.Fatal("assets: resolve channel behavior", obs.Err(err))
	}
	w := &stageworker.Worker[collaborator.AssetAssembler]{
		Name:         "ASSETS_GENERATING",
		Behavior:     behavior,
		InputTopic:   eventbus.TopicScriptCreated,
		OutputTopic:  eventbus.TopicAssetsReady,
		FromQueued:   stage.AssetsQueued,
		ToActive:     stage.AssetsGenerating,
		ToNextQueued: stage.RenderQueued,
		Claim:        e.claim,
		Bus:          e.bus,
		Collaborator: collaborator.FakeAssetAssembler{},
		Invoke:       assetsInvoke,
		Log:          e.log,
	}
	e.subscribeWorker(w, eventbus.TopicScriptCreated, "assets")
}

func assetsInvoke(ctx context.Context, j job.Job, c collaborator.AssetAssembler, progress collaborator.ProgressFunc) (func(*job.Job), error) {
	out, err := c.Assemble(ctx, collaborator.AssetInput{Scenes: j.Scenes}, progress)
	if err != nil {
		return nil, err
	}
	if len(out.ClipPaths) == 0 {
		return nil, nil
	}
	return func(mut *job.Job) {
		mut.ClipPaths = out.ClipPaths
		mut.VoiceoverPath = out.VoiceoverPath
	}, nil
}

// runRender wires the Rendering stage worker. The renderer sentinel
// channel (spec §4.8) owns events for every concrete channel, so the
// worker resolves it explicitly rather than the process's own
// SHORTS_CHANNEL_ID.
func (e *env) runRender(ctx context.Context) {
	behavior, err := e.registry.Resolve(channel.RendererChannelID)
	if err != nil {
		e.log.Fatal("render: resolve renderer behavior", obs.Err(err))
	}
	w := &stageworker.Worker[collaborator.Renderer]{
		Name:         "RENDERING",
		Behavior:     behavior,
		InputTopic:   eventbus.TopicAssetsReady,
		OutputTopic:  eventbus.TopicUploadRequested,
		FromQueued:   stage.RenderQueued,
		ToActive:     stage.Rendering,
		ToNextQueued: stage.Completed,
		Claim:        e.claim,
		Bus:          e.bus,
		Collaborator: collaborator.FakeRenderer{},
		Invoke:       renderInvoke(channelBGM(e.registry)),
		Log:          e.log,
	}
	e.subscribeWorker(w, eventbus.TopicAssetsReady, "render")
}

// channelBGM resolves a job's per-channel BGM category at invoke time,
// since the renderer worker's own behavior carries none of its own.
func channelBGM(registry *channel.Registry) func(channelID string) string {
	return func(channelID string) string {
		b, err := registry.Resolve(channelID)
		if err != nil {
			return ""
		}
		return b.BGMCategory
	}
}

func renderInvoke(bgmFor func(string) string) stageworker.Invoke[collaborator.Renderer] {
	return func(ctx context.Context, j job.Job, c collaborator.Renderer, progress collaborator.ProgressFunc) (func(*job.Job), error) {
		out, err := c.Render(ctx, collaborator.RenderInput{
			ClipPaths:     j.ClipPaths,
			VoiceoverPath: j.VoiceoverPath,
			BGMCategory:   bgmFor(j.ChannelID),
		}, progress)
		if err != nil {
			return nil, err
		}
		if out.FilePath == "" {
			return nil, nil
		}
		return func(mut *job.Job) {
			mut.FilePath = out.FilePath
			mut.ThumbnailPath = out.ThumbnailPath
		}, nil
	}
}

// runScheduler wires the Upload Scheduler's cron tick. TickAll is also
// exposed to the admin surface's manual trigger through this same value.
func (e *env) runScheduler(ctx context.Context) *scheduler.Scheduler {
	s := &scheduler.Scheduler{
		Store:    e.store,
		Claim:    e.claim,
		Quota:    e.quota,
		Settings: e.settings,
		Registry: e.registry,
		Bus:      e.bus,
		Log:      e.log,
	}
	go func() {
		if err := s.Run(ctx, e.cfg.Scheduler.TickCron, e.registry.ChannelIDs()); err != nil {
			e.log.Error("scheduler: run exited", obs.Err(err))
		}
	}()
	return s
}

// runUpload wires the Upload Worker against both upload-requested and
// the legacy co-consumed video-created topic (spec §9).
func (e *env) runUpload(ctx context.Context) {
	w := &upload.Worker{
		Store:    e.store,
		Claim:    e.claim,
		Quota:    e.quota,
		Settings: e.settings,
		Registry: e.registry,
		Target:   &collaborator.FakeUploadTarget{},
		Notifier: &collaborator.FakeNotifier{},
		Bus:      e.bus,
		Cfg:      e.cfg.Upload,
		Log:      e.log,
	}
	if _, err := e.bus.Subscribe(eventbus.TopicUploadRequested+".>", "upload-worker", w.HandleUploadRequested); err != nil {
		e.log.Fatal("upload: subscribe upload-requested", obs.Err(err))
	}
	// A durable consumer is pinned to one filter subject, so the legacy
	// topic needs its own durable name even though both feed the same
	// handler (spec §9's upload-worker co-consumption).
	if _, err := e.bus.Subscribe(eventbus.TopicLegacyVideoCreated+".>", "upload-worker-legacy", w.HandleUploadRequested); err != nil {
		e.log.Fatal("upload: subscribe legacy video-created", obs.Err(err))
	}
	if _, err := e.bus.Subscribe(eventbus.TopicDeadLetter, "upload-dead-letter", deadLetterLogger(e.log, "UPLOAD")); err != nil {
		e.log.Fatal("upload: subscribe dead-letter", obs.Err(err))
	}
	e.log.Info("upload: subscribed")
}

// runRetry wires the Retry / Regeneration Controller.
func (e *env) runRetry(ctx context.Context) {
	c := &retry.Controller{
		Store:            e.store,
		Claim:            e.claim,
		Bus:              e.bus,
		Log:              e.log,
		MaxUploadRetries: e.cfg.Retry.MaxUploadRetries,
		MaxRegenerations: e.cfg.Retry.MaxRegenerations,
	}
	if _, err := e.bus.Subscribe(eventbus.TopicUploadFailed+".>", "retry-controller", c.HandleUploadFailed); err != nil {
		e.log.Fatal("retry: subscribe upload-failed", obs.Err(err))
	}
	e.log.Info("retry: subscribed")
}

// runReaper wires the stale-job sweep.
func (e *env) runReaper(ctx context.Context) *reaper.Reaper {
	r := reaper.New(e.store, e.claim, e.registry, e.cfg.Reaper, e.log)
	go r.Run(ctx)
	return r
}

// runCleanup wires the retention-window cleanup sweep. Its return value
// is also what the admin surface's manual trigger calls.
func (e *env) runCleanup(ctx context.Context) *cleanup.Task {
	t := cleanup.New(e.store, e.registry, e.cfg.Cleanup.RetentionWindow, e.log)
	go t.Run(ctx, e.cfg.Cleanup.Interval)
	return t
}

// runAdmin wires the administrative HTTP surface, handing it live
// scheduler and cleanup triggers so /manual/scheduler/trigger and
// /manual/cleanup/trigger drive the same components this process runs.
func (e *env) runAdmin(ctx context.Context) {
	sched := e.runScheduler(ctx)
	cl := e.runCleanup(ctx)

	acfg := adminapi.DefaultConfig()
	acfg.ListenAddr = e.cfg.Admin.ListenAddr
	acfg.ReadTimeout = e.cfg.Admin.RequestTimeout
	acfg.WriteTimeout = e.cfg.Admin.RequestTimeout
	acfg.WorkQueueDepth = e.cfg.Admin.WorkQueueDepth
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		acfg.JWTSecret = secret
		acfg.RequireAuth = true
	}

	go func() {
		if err := adminapi.Run(ctx, acfg, e.store, e.bus, e.registry, sched, cl, e.cfg.ChannelID, e.log); err != nil {
			e.log.Error("admin: run exited", obs.Err(err))
		}
	}()
}

// subscribeWorker registers a stage worker's primary handler plus its
// own dead-letter consumer (spec §4.4 step 6), each using a distinct
// durable name so every stage gets its own fan-out copy of a dead
// letter instead of racing the other stages for one shared consumer.
// topic is a bare prefix (e.g. "pipeline.script-created"); every event
// actually lands on Subject(topic, channelID, correlationID), so the
// filter subscribed here must carry the ".>" wildcard to match it.
func (e *env) subscribeWorker(w interface {
	HandleEvent(ctx context.Context, env eventbus.Envelope) error
	HandleDeadLetter(ctx context.Context, env eventbus.Envelope) error
}, topic, durable string) {
	if _, err := e.bus.Subscribe(topic+".>", durable, w.HandleEvent); err != nil {
		e.log.Fatal("subscribe", obs.String("stage", durable), obs.Err(err))
	}
	if _, err := e.bus.Subscribe(eventbus.TopicDeadLetter, durable+"-dlt", w.HandleDeadLetter); err != nil {
		e.log.Fatal("subscribe dead-letter", obs.String("stage", durable), obs.Err(err))
	}
	e.log.Info("stage worker subscribed", obs.String("stage", durable))
}

// deadLetterLogger is the dead-letter consumer for components that have
// no stage-specific recovery action of their own — it just records the
// drop so the metric and log line exist for every dead-lettered job.
func deadLetterLogger(log *zap.Logger, component string) eventbus.Handler {
	return func(ctx context.Context, env eventbus.Envelope) error {
		log.Warn("dead letter observed", obs.String("component", component), obs.String("job", env.CorrelationID))
		return nil
	}
}
