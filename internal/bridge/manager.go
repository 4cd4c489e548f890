package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/mixminus/internal/audio"
	"github.com/foxseedlab/mixminus/internal/config"
	"github.com/foxseedlab/mixminus/internal/discord"
	"github.com/foxseedlab/mixminus/internal/mixer"
	"github.com/foxseedlab/mixminus/internal/repository"
	"github.com/foxseedlab/mixminus/internal/transcriber"
	"github.com/foxseedlab/mixminus/internal/webhook"
)

var (
	ErrAlreadyRunning = errors.New("bridge is already running")
	ErrNotRunning     = errors.New("bridge is not running")
)

const (
	StopReasonShutdown    = "process shutdown"
	stopReasonOrphaned    = "orphaned by a previous process"
	stopReasonStartFailed = "start failed"
)

// Manager runs one bridge at a time: every configured voice channel is a
// participant of a single mix scheduler, so each channel hears all of the
// others but not itself.
type Manager struct {
	cfg            *config.Config
	repo           repository.Repository
	discord        discord.Client
	transcriber    transcriber.Transcriber
	webhook        webhook.Sender
	newParticipant ChannelParticipantFactory

	mu     sync.Mutex
	active *activeBridge
}

type bridgedChannel struct {
	config.BridgeChannel
	name        string
	voice       discord.VoiceConnection
	participant ChannelParticipant
}

type activeBridge struct {
	session      *repository.BridgeSession
	scheduler    *mixer.Scheduler
	channels     []*bridgedChannel
	listener     *transcriptionListener
	cancelStream context.CancelFunc
	faults       *faultRecorder
}

func NewManager(cfg *config.Config, repo repository.Repository, dc discord.Client, stt transcriber.Transcriber, wh webhook.Sender, newParticipant ChannelParticipantFactory) *Manager {
	return &Manager{
		cfg:            cfg,
		repo:           repo,
		discord:        dc,
		transcriber:    stt,
		webhook:        wh,
		newParticipant: newParticipant,
	}
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Start joins every configured channel and begins mixing. Any channel that
// cannot be joined aborts the whole bridge.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return ErrAlreadyRunning
	}

	if err := m.closeOrphanSession(ctx); err != nil {
		return err
	}

	channels := m.cfg.BridgeChannels()
	channelIDs := make([]string, 0, len(channels))
	for _, ch := range channels {
		channelIDs = append(channelIDs, ch.ChannelID)
	}
	sess, err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		GuildID:    m.cfg.DiscordGuildID,
		ChannelIDs: channelIDs,
		StartedAt:  time.Now(),
	})
	if err != nil {
		slog.Error("failed to create session in repository", "error", err, "guild_id", m.cfg.DiscordGuildID)
		return err
	}
	slog.Info("created bridge session", "session_id", sess.ID, "channels", channelIDs)

	b := &activeBridge{
		session: sess,
		faults:  newFaultRecorder(m.repo, sess.ID),
	}
	if err := m.startMixing(b); err != nil {
		m.abort(ctx, b, err)
		return err
	}
	format := b.scheduler.Format()
	for _, ch := range channels {
		bc, err := m.joinChannel(ch, format)
		if err != nil {
			err = fmt.Errorf("bridge channel %s: %w", ch.ChannelID, err)
			m.abort(ctx, b, err)
			return err
		}
		b.channels = append(b.channels, bc)
		b.faults.label(bc.participant, ch.ChannelID)
		b.scheduler.Register(bc.participant)
		go bc.participant.Listen()
	}
	if m.cfg.TranscribeEnabled {
		// The bridge is still useful without a transcript.
		if err := m.startTranscription(b, format); err != nil {
			slog.Error("failed to start transcription; bridging without it", "error", err, "session_id", sess.ID)
		}
	}

	m.active = b
	slog.Info("bridge started", "session_id", sess.ID, "participants", len(b.scheduler.Participants()))
	return nil
}

func (m *Manager) closeOrphanSession(ctx context.Context) error {
	orphan, err := m.repo.GetRunningSessionByGuild(ctx, m.cfg.DiscordGuildID)
	if err != nil {
		slog.Error("failed to query running session", "error", err, "guild_id", m.cfg.DiscordGuildID)
		return err
	}
	if orphan == nil {
		return nil
	}
	slog.Warn("found orphan running session in repository; closing and continuing", "session_id", orphan.ID, "guild_id", orphan.GuildID)
	if err := m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:  orphan.ID,
		EndedAt:    time.Now(),
		StopReason: stopReasonOrphaned,
	}); err != nil {
		slog.Error("failed to complete orphan session", "error", err, "session_id", orphan.ID)
		return err
	}
	return nil
}

func (m *Manager) startMixing(b *activeBridge) error {
	policy, err := mixer.ParseOverflowPolicy(m.cfg.OverflowPolicy)
	if err != nil {
		return err
	}
	format := m.cfg.Format()
	sched, err := mixer.New(format,
		mixer.WithInterval(m.cfg.TickInterval()),
		mixer.WithQueueCapacity(m.cfg.QueueCapacity),
		mixer.WithOverflowPolicy(policy),
		mixer.WithFaultReporter(mixer.MultiFaultReporter(
			mixer.NewLogFaultReporter(slog.Default().With("session_id", b.session.ID)),
			b.faults,
		)),
		mixer.WithCycleHook(overrunLogger(b.session.ID, format.TickDuration())),
	)
	if err != nil {
		return fmt.Errorf("create mix scheduler: %w", err)
	}
	b.scheduler = sched
	return nil
}

func overrunLogger(sessionID string, budget time.Duration) func(mixer.CycleReport) {
	return func(r mixer.CycleReport) {
		if r.Elapsed > budget {
			slog.Warn("cycle delivery took longer than a tick", "session_id", sessionID, "cycle", r.Seq, "elapsed", r.Elapsed, "participants", r.Participants)
		}
	}
}

func (m *Manager) joinChannel(ch config.BridgeChannel, format audio.Format) (*bridgedChannel, error) {
	voice, err := m.discord.JoinVoiceChannel(ch.GuildID, ch.ChannelID)
	if err != nil {
		slog.Error("failed to join voice channel", "error", err, "guild_id", ch.GuildID, "channel_id", ch.ChannelID)
		return nil, err
	}
	p, err := m.newParticipant(voice, format)
	if err != nil {
		_ = voice.Disconnect()
		return nil, err
	}
	return &bridgedChannel{
		BridgeChannel: ch,
		name:          m.discord.ResolveChannelName(ch.ChannelID),
		voice:         voice,
		participant:   p,
	}, nil
}

func (m *Manager) startTranscription(b *activeBridge, format audio.Format) error {
	listener := newTranscriptionListener(m.repo, b.session.ID)
	streamCtx, cancel := context.WithCancel(context.Background())
	writer, err := m.transcriber.StartStreaming(streamCtx, transcriber.StreamRequest{
		SessionID:       b.session.ID,
		Language:        m.cfg.TranscribeLanguage,
		SampleRateHertz: format.SampleRate,
		Channels:        format.Channels,
	}, listener)
	if err != nil {
		cancel()
		return err
	}
	listener.attach(writer)
	b.listener = listener
	b.cancelStream = cancel
	b.faults.label(listener, transcriberLabel)
	b.scheduler.Register(listener)
	slog.Info("transcriber streaming started", "session_id", b.session.ID, "language", m.cfg.TranscribeLanguage)
	return nil
}

// Sync forces one mix cycle and waits until it has been delivered. It is how
// a bridge built with manual ticks is driven.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	b := m.active
	m.mu.Unlock()
	if b == nil {
		return ErrNotRunning
	}
	return b.scheduler.WaitSync(ctx)
}

func (m *Manager) Stats() (mixer.Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return mixer.Stats{}, false
	}
	return m.active.scheduler.Stats(), true
}

// Stop leaves every channel, records the session outcome and sends the
// summary webhook.
func (m *Manager) Stop(ctx context.Context, reason string) (*webhook.BridgeSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.active
	if b == nil {
		return nil, ErrNotRunning
	}
	m.active = nil

	slog.Info("stopping bridge", "session_id", b.session.ID, "reason", reason)
	m.teardown(ctx, b)

	stats := b.scheduler.Stats()
	endedAt := time.Now()
	dropped := stats.Queue.Dropped + stats.Queue.Rejected
	completeErr := m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:  b.session.ID,
		EndedAt:    endedAt,
		StopReason: reason,
		Ticks:      int64(stats.Ticks),
		Delivered:  int64(stats.Delivered),
		Dropped:    int64(dropped),
		Faults:     int64(stats.Faults),
	})
	if completeErr != nil {
		slog.Error("failed to complete session", "error", completeErr, "session_id", b.session.ID)
	}

	summary := m.summarize(ctx, b, stats, endedAt, reason)
	if err := m.webhook.SendSummary(ctx, summary); err != nil {
		slog.Error("failed to send bridge summary webhook", "error", err, "session_id", b.session.ID)
	}
	slog.Info("bridge stopped",
		"session_id", b.session.ID,
		"ticks", stats.Ticks,
		"delivered", stats.Delivered,
		"dropped", dropped,
		"faults", stats.Faults)
	return &summary, completeErr
}

func (m *Manager) abort(ctx context.Context, b *activeBridge, cause error) {
	slog.Error("bridge start aborted", "error", cause, "session_id", b.session.ID)
	m.teardown(ctx, b)
	if err := m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:  b.session.ID,
		EndedAt:    time.Now(),
		StopReason: fmt.Sprintf("%s: %v", stopReasonStartFailed, cause),
	}); err != nil {
		slog.Error("failed to complete aborted session", "error", err, "session_id", b.session.ID)
	}
}

// teardown releases everything the bridge holds. The scheduler is closed
// before participants so no cycle reaches a closed channel.
func (m *Manager) teardown(ctx context.Context, b *activeBridge) {
	if b.scheduler != nil {
		for _, ch := range b.channels {
			b.scheduler.Unregister(ch.participant)
		}
		if b.listener != nil {
			b.scheduler.Unregister(b.listener)
		}
		if err := b.scheduler.Close(); err != nil {
			slog.Warn("mix scheduler close failed", "error", err, "session_id", b.session.ID)
		}
	}
	if b.listener != nil {
		if err := b.listener.close(); err != nil {
			slog.Warn("transcriber stream close failed", "error", err, "session_id", b.session.ID)
		}
		b.cancelStream()
	}
	for _, ch := range b.channels {
		if err := ch.participant.Close(); err != nil {
			slog.Warn("channel participant close failed", "error", err, "channel_id", ch.ChannelID)
		}
		if err := ch.voice.Disconnect(); err != nil {
			slog.Warn("voice disconnect failed", "error", err, "channel_id", ch.ChannelID)
		}
	}
	b.faults.close(ctx)
}

func (m *Manager) summarize(ctx context.Context, b *activeBridge, stats mixer.Stats, endedAt time.Time, reason string) webhook.BridgeSummary {
	channels := make([]webhook.BridgeChannel, 0, len(b.channels))
	for _, ch := range b.channels {
		channels = append(channels, webhook.BridgeChannel{
			GuildID:     ch.GuildID,
			ChannelID:   ch.ChannelID,
			ChannelName: ch.name,
		})
	}
	summary := webhook.BridgeSummary{
		SessionID:       b.session.ID,
		GuildID:         b.session.GuildID,
		Channels:        channels,
		StartedAt:       b.session.StartedAt,
		EndedAt:         endedAt,
		DurationSeconds: int64(endedAt.Sub(b.session.StartedAt).Seconds()),
		StopReason:      reason,
		Ticks:           stats.Ticks,
		DeliveredCycles: stats.Delivered,
		DroppedCycles:   stats.Queue.Dropped + stats.Queue.Rejected,
		Faults:          stats.Faults,
	}
	if b.listener == nil {
		return summary
	}
	segments, err := m.repo.ListSegmentsBySessionID(ctx, b.session.ID)
	if err != nil {
		slog.Error("failed to list transcript segments", "error", err, "session_id", b.session.ID)
		return summary
	}
	for _, seg := range segments {
		summary.TranscriptLines = append(summary.TranscriptLines, seg.Content)
	}
	return summary
}
