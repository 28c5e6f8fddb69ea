package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorlane/tutorlane/internal/classroom"
)

type State int

const (
	StateInitializing State = iota
	StateNegotiating
	StateConnected
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultPollInterval = 1200 * time.Millisecond
	defaultReactionTTL  = 3 * time.Second
)

var (
	ErrNotConnected   = errors.New("session: not connected")
	ErrAlreadyStarted = errors.New("session: already started")
)

// Config wires a Manager. RoomID, Role, Signaler, Media and Link are
// required; everything else has a default.
type Config struct {
	RoomID   string
	Role     classroom.Role
	Signaler Signaler
	Media    MediaDevice
	Link     PeerLink

	PollInterval time.Duration
	ReactionTTL  time.Duration
	Logger       *slog.Logger

	// OnChat receives each chat message exactly once in room order, except
	// after a cursor reset, when earlier messages may be replayed.
	OnChat        func(classroom.ChatMessage)
	OnPresence    func([]classroom.PresenceState)
	OnStateChange func(state State, status string)
}

// Manager drives one participant's session lifecycle: acquire media, attach
// tracks, run the offer/answer exchange for its role, then poll the relay on
// a single ticker until closed. All mutation goes through the manager's
// mutex; the poll loop is the only long-lived goroutine.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	status string

	audio  Track
	camera Track
	screen Track

	offerApplied  bool
	answerApplied bool
	candCursor    int
	chatCursor    int

	micEnabled    bool
	camEnabled    bool
	handRaised    bool
	sharingScreen bool
	reaction      string
	reactionTimer *time.Timer

	started   bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("session: room id is required")
	}
	if cfg.Signaler == nil || cfg.Media == nil || cfg.Link == nil {
		return nil, errors.New("session: signaler, media and link are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReactionTTL <= 0 {
		cfg.ReactionTTL = defaultReactionTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("room_id", cfg.RoomID, "role", string(cfg.Role)),
		state:  StateInitializing,
		status: "Initializing classroom",
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start acquires media, kicks off negotiation for the manager's role and
// launches the poll loop. It returns once the loop is running; fatal setup
// failures move the session to the error state and are returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	audio, video, err := m.cfg.Media.AcquireUserMedia(ctx)
	if err != nil {
		return m.fail("Failed to access camera and microphone", err)
	}

	m.mu.Lock()
	m.audio = audio
	m.camera = video
	m.micEnabled = true
	m.camEnabled = true
	m.mu.Unlock()

	m.cfg.Link.OnRemoteTrack(func() {
		m.setState(StateConnected, "Connected")
	})
	m.cfg.Link.OnLocalCandidate(func(candidate json.RawMessage) {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.cfg.Signaler.PublishCandidate(pubCtx, m.cfg.RoomID, m.cfg.Role, candidate); err != nil {
			m.logger.Warn("publish candidate failed", "error", err)
		}
	})

	if err := m.cfg.Link.AddTrack(audio); err != nil {
		return m.fail("Failed to attach audio track", err)
	}
	if err := m.cfg.Link.AddTrack(video); err != nil {
		return m.fail("Failed to attach video track", err)
	}

	m.setState(StateNegotiating, "Waiting for the other participant")

	if m.cfg.Role == classroom.RoleHost {
		offer, err := m.cfg.Link.CreateOffer(ctx)
		if err != nil {
			return m.fail("Failed to create offer", err)
		}
		if err := m.cfg.Signaler.PublishOffer(ctx, m.cfg.RoomID, offer); err != nil {
			return m.fail("Failed to publish offer", err)
		}
	}

	go m.loop()
	return nil
}

// Done is closed once the session has fully torn down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.status
}

func (m *Manager) loop() {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick is one poll round: advance negotiation for this role, drain the
// other side's candidates, pull chat and presence, then publish own
// presence. Relay errors are logged and retried implicitly next tick.
func (m *Manager) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PollInterval)
	defer cancel()

	m.mu.Lock()
	role := m.cfg.Role
	offerApplied := m.offerApplied
	answerApplied := m.answerApplied
	candCursor := m.candCursor
	chatCursor := m.chatCursor
	m.mu.Unlock()

	if role == classroom.RoleGuest && !offerApplied {
		offer, err := m.cfg.Signaler.FetchOffer(ctx, m.cfg.RoomID)
		switch {
		case err != nil:
			m.logger.Warn("fetch offer failed", "error", err)
		case offer != nil:
			answer, err := m.cfg.Link.AcceptOfferCreateAnswer(ctx, offer)
			if err != nil {
				m.fail("Failed to answer the offer", err)
				return
			}
			if err := m.cfg.Signaler.PublishAnswer(ctx, m.cfg.RoomID, answer); err != nil {
				m.logger.Warn("publish answer failed", "error", err)
			} else {
				m.mu.Lock()
				m.offerApplied = true
				m.mu.Unlock()
			}
		}
	}

	if role == classroom.RoleHost && !answerApplied {
		answer, err := m.cfg.Signaler.FetchAnswer(ctx, m.cfg.RoomID)
		switch {
		case err != nil:
			m.logger.Warn("fetch answer failed", "error", err)
		case answer != nil:
			if err := m.cfg.Link.AcceptAnswer(ctx, answer); err != nil {
				m.fail("Failed to apply the answer", err)
				return
			}
			m.mu.Lock()
			m.answerApplied = true
			m.mu.Unlock()
		}
	}

	candidates, next, err := m.cfg.Signaler.FetchCandidates(ctx, m.cfg.RoomID, role, candCursor)
	if err != nil {
		m.logger.Warn("fetch candidates failed", "error", err)
	} else {
		for _, candidate := range candidates {
			// A candidate can land before the remote description; the
			// failure is expected and a later candidate pair still
			// completes the connection.
			if err := m.cfg.Link.AddRemoteCandidate(candidate); err != nil {
				m.logger.Debug("apply candidate failed", "error", err)
			}
		}
		m.mu.Lock()
		m.candCursor = next
		m.mu.Unlock()
	}

	messages, next, err := m.cfg.Signaler.FetchChat(ctx, m.cfg.RoomID, chatCursor)
	if err != nil {
		m.logger.Warn("fetch chat failed", "error", err)
	} else {
		if m.cfg.OnChat != nil {
			for _, msg := range messages {
				m.cfg.OnChat(msg)
			}
		}
		m.mu.Lock()
		m.chatCursor = next
		m.mu.Unlock()
	}

	states, err := m.cfg.Signaler.FetchPresence(ctx, m.cfg.RoomID)
	if err != nil {
		m.logger.Warn("fetch presence failed", "error", err)
	} else if m.cfg.OnPresence != nil {
		m.cfg.OnPresence(states)
	}

	m.publishPresence(ctx)
}

// ToggleMic flips the microphone and reports the new enabled state.
func (m *Manager) ToggleMic() bool {
	m.mu.Lock()
	m.micEnabled = !m.micEnabled
	enabled := m.micEnabled
	track := m.audio
	m.mu.Unlock()

	if track != nil {
		track.SetEnabled(enabled)
	}
	m.publishPresenceNow()
	return enabled
}

// ToggleCam flips the camera and reports the new enabled state.
func (m *Manager) ToggleCam() bool {
	m.mu.Lock()
	m.camEnabled = !m.camEnabled
	enabled := m.camEnabled
	track := m.camera
	m.mu.Unlock()

	if track != nil {
		track.SetEnabled(enabled)
	}
	m.publishPresenceNow()
	return enabled
}

func (m *Manager) SetHandRaised(raised bool) {
	m.mu.Lock()
	m.handRaised = raised
	m.mu.Unlock()
	m.publishPresenceNow()
}

// React publishes an emoji reaction that clears itself after the reaction
// TTL. A new reaction restarts the clock.
func (m *Manager) React(emoji string) {
	m.mu.Lock()
	m.reaction = emoji
	if m.reactionTimer != nil {
		m.reactionTimer.Stop()
	}
	m.reactionTimer = time.AfterFunc(m.cfg.ReactionTTL, m.clearReaction)
	m.mu.Unlock()
	m.publishPresenceNow()
}

func (m *Manager) clearReaction() {
	m.mu.Lock()
	m.reaction = ""
	m.mu.Unlock()
	m.publishPresenceNow()
}

func (m *Manager) SendChat(ctx context.Context, text string) error {
	return m.cfg.Signaler.PublishChat(ctx, m.cfg.RoomID, m.cfg.Role, text)
}

// StartScreenShare swaps the outgoing video to a screen track. The camera
// track keeps capturing so the swap back is instant. Only valid once the
// session is connected.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.sharingScreen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	screen, err := m.cfg.Media.AcquireScreen(ctx)
	if err != nil {
		return fmt.Errorf("acquire screen: %w", err)
	}
	if err := m.cfg.Link.ReplaceVideoTrack(screen); err != nil {
		screen.Stop()
		return fmt.Errorf("replace video track: %w", err)
	}

	m.mu.Lock()
	m.screen = screen
	m.sharingScreen = true
	m.mu.Unlock()

	// The capture can end outside our control, e.g. the user stops the
	// share from the OS picker.
	screen.OnEnded(func() {
		m.restoreCamera()
	})

	m.publishPresenceNow()
	return nil
}

func (m *Manager) StopScreenShare() {
	m.mu.Lock()
	screen := m.screen
	sharing := m.sharingScreen
	m.mu.Unlock()
	if !sharing {
		return
	}
	if screen != nil {
		screen.Stop()
	}
	m.restoreCamera()
}

func (m *Manager) restoreCamera() {
	m.mu.Lock()
	if !m.sharingScreen {
		m.mu.Unlock()
		return
	}
	m.sharingScreen = false
	m.screen = nil
	camera := m.camera
	m.mu.Unlock()

	if camera != nil {
		if err := m.cfg.Link.ReplaceVideoTrack(camera); err != nil {
			m.logger.Warn("restore camera track failed", "error", err)
		}
	}
	m.publishPresenceNow()
}

// Close tears the session down: poll loop, reaction timer, peer connection
// and every local track, in that order. Safe to call from any state and
// more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)

		m.mu.Lock()
		if m.reactionTimer != nil {
			m.reactionTimer.Stop()
			m.reactionTimer = nil
		}
		tracks := []Track{m.screen, m.camera, m.audio}
		m.mu.Unlock()

		if err := m.cfg.Link.Close(); err != nil {
			m.logger.Warn("close peer link failed", "error", err)
		}
		for _, t := range tracks {
			if t != nil {
				t.Stop()
			}
		}

		m.setState(StateClosed, "Left the classroom")
		close(m.done)
	})
}

func (m *Manager) publishPresenceNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.publishPresence(ctx)
}

func (m *Manager) publishPresence(ctx context.Context) {
	m.mu.Lock()
	state := classroom.PresenceState{
		Role:          m.cfg.Role,
		MicEnabled:    m.micEnabled,
		CamEnabled:    m.camEnabled,
		HandRaised:    m.handRaised,
		SharingScreen: m.sharingScreen,
		Reaction:      m.reaction,
	}
	closed := m.state == StateClosed || m.state == StateError
	m.mu.Unlock()
	if closed {
		return
	}
	if err := m.cfg.Signaler.PublishPresence(ctx, m.cfg.RoomID, state); err != nil {
		m.logger.Warn("publish presence failed", "error", err)
	}
}

// fail is for unrecoverable errors: record the error state, tear down, and
// hand the error back to the caller.
func (m *Manager) fail(status string, err error) error {
	m.mu.Lock()
	if m.state != StateClosed {
		m.state = StateError
		m.status = status
	}
	m.mu.Unlock()
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(StateError, status)
	}
	m.logger.Error(status, "error", err)
	m.Close()
	return fmt.Errorf("%s: %w", status, err)
}

func (m *Manager) setState(state State, status string) {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateError {
		m.mu.Unlock()
		return
	}
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.status = status
	m.mu.Unlock()

	m.logger.Info("session state changed", "state", state.String())
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(state, status)
	}
}
