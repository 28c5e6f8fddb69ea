package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tutorlane/tutorlane/internal/classroom"
)

type fakeTrack struct {
	kind string

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded []func()
}

func newFakeTrack(kind string) *fakeTrack {
	return &fakeTrack{kind: kind, enabled: true}
}

func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

func (t *fakeTrack) fireEnded() {
	t.mu.Lock()
	callbacks := append([]func(){}, t.onEnded...)
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

type fakeMedia struct {
	audio  *fakeTrack
	camera *fakeTrack
	screen *fakeTrack
	err    error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		audio:  newFakeTrack("audio"),
		camera: newFakeTrack("video"),
		screen: newFakeTrack("video"),
	}
}

func (m *fakeMedia) AcquireUserMedia(context.Context) (Track, Track, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.audio, m.camera, nil
}

func (m *fakeMedia) AcquireScreen(context.Context) (Track, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.screen, nil
}

type fakeLink struct {
	mu              sync.Mutex
	added           []Track
	replaced        []Track
	acceptedAnswers int
	acceptedOffers  int
	applied         []json.RawMessage
	candidateErr    error
	closed          bool

	onLocalCandidate func(json.RawMessage)
	onRemoteTrack    func()
}

func (l *fakeLink) AddTrack(t Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, t)
	return nil
}

func (l *fakeLink) ReplaceVideoTrack(t Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaced = append(l.replaced, t)
	return nil
}

func (l *fakeLink) CreateOffer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}

func (l *fakeLink) AcceptAnswer(_ context.Context, _ json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acceptedAnswers++
	return nil
}

func (l *fakeLink) AcceptOfferCreateAnswer(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acceptedOffers++
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}

func (l *fakeLink) AddRemoteCandidate(candidate json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied = append(l.applied, candidate)
	return l.candidateErr
}

func (l *fakeLink) OnLocalCandidate(fn func(json.RawMessage)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLocalCandidate = fn
}

func (l *fakeLink) OnRemoteTrack(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRemoteTrack = fn
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) fireRemoteTrack() {
	l.mu.Lock()
	fn := l.onRemoteTrack
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *fakeLink) emitLocalCandidate(candidate json.RawMessage) {
	l.mu.Lock()
	fn := l.onLocalCandidate
	l.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

type fakeSignaler struct {
	mu sync.Mutex

	offer  json.RawMessage
	answer json.RawMessage

	candidateFeed []json.RawMessage
	chatFeed      []classroom.ChatMessage
	presenceFeed  []classroom.PresenceState

	publishedOffers     []json.RawMessage
	publishedAnswers    []json.RawMessage
	publishedCandidates []json.RawMessage
	publishedChats      []string
	publishedPresence   []classroom.PresenceState

	lastCandidateAfter int
	lastChatAfter      int
}

func (s *fakeSignaler) PublishOffer(_ context.Context, _ string, offer json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishedOffers = append(s.publishedOffers, offer)
	return nil
}

func (s *fakeSignaler) FetchOffer(context.Context, string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offer, nil
}

func (s *fakeSignaler) PublishAnswer(_ context.Context, _ string, answer json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishedAnswers = append(s.publishedAnswers, answer)
	return nil
}

func (s *fakeSignaler) FetchAnswer(context.Context, string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer, nil
}

func (s *fakeSignaler) PublishCandidate(_ context.Context, _ string, _ classroom.Role, candidate json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishedCandidates = append(s.publishedCandidates, candidate)
	return nil
}

func (s *fakeSignaler) FetchCandidates(_ context.Context, _ string, _ classroom.Role, after int) ([]json.RawMessage, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCandidateAfter = after
	if after >= len(s.candidateFeed) {
		return nil, after, nil
	}
	return s.candidateFeed[after:], len(s.candidateFeed), nil
}

func (s *fakeSignaler) PublishChat(_ context.Context, _ string, _ classroom.Role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishedChats = append(s.publishedChats, text)
	return nil
}

func (s *fakeSignaler) FetchChat(_ context.Context, _ string, after int) ([]classroom.ChatMessage, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChatAfter = after
	if after >= len(s.chatFeed) {
		return nil, after, nil
	}
	return s.chatFeed[after:], len(s.chatFeed), nil
}

func (s *fakeSignaler) PublishPresence(_ context.Context, _ string, state classroom.PresenceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishedPresence = append(s.publishedPresence, state)
	return nil
}

func (s *fakeSignaler) FetchPresence(context.Context, string) ([]classroom.PresenceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenceFeed, nil
}

func (s *fakeSignaler) lastPresence() (classroom.PresenceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.publishedPresence) == 0 {
		return classroom.PresenceState{}, false
	}
	return s.publishedPresence[len(s.publishedPresence)-1], true
}

type testHarness struct {
	manager  *Manager
	signaler *fakeSignaler
	media    *fakeMedia
	link     *fakeLink
}

func newTestHarness(t *testing.T, role classroom.Role) *testHarness {
	t.Helper()
	signaler := &fakeSignaler{}
	media := newFakeMedia()
	link := &fakeLink{}
	manager, err := NewManager(Config{
		RoomID:   "room-1",
		Role:     role,
		Signaler: signaler,
		Media:    media,
		Link:     link,
		// Ticks are driven manually; a long interval keeps the loop quiet.
		PollInterval: time.Hour,
		ReactionTTL:  25 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &testHarness{manager: manager, signaler: signaler, media: media, link: link}
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.manager.Close)
}

func TestHostPublishesOfferOnStart(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	h.signaler.mu.Lock()
	offers := len(h.signaler.publishedOffers)
	h.signaler.mu.Unlock()
	if offers != 1 {
		t.Fatalf("published %d offers, want 1", offers)
	}
	if state, _ := h.manager.State(); state != StateNegotiating {
		t.Fatalf("state = %v, want negotiating", state)
	}
}

func TestHostAppliesAnswerExactlyOnce(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	h.signaler.mu.Lock()
	h.signaler.answer = json.RawMessage(`{"type":"answer","sdp":"a"}`)
	h.signaler.mu.Unlock()

	h.manager.tick()
	h.manager.tick()

	h.link.mu.Lock()
	accepted := h.link.acceptedAnswers
	h.link.mu.Unlock()
	if accepted != 1 {
		t.Fatalf("accepted answer %d times, want 1", accepted)
	}
}

func TestGuestAnswersPublishedOffer(t *testing.T) {
	h := newTestHarness(t, classroom.RoleGuest)
	h.start(t)

	h.signaler.mu.Lock()
	if len(h.signaler.publishedOffers) != 0 {
		h.signaler.mu.Unlock()
		t.Fatal("guest must not publish an offer")
	}
	h.signaler.offer = json.RawMessage(`{"type":"offer","sdp":"o"}`)
	h.signaler.mu.Unlock()

	h.manager.tick()
	h.manager.tick()

	h.link.mu.Lock()
	accepted := h.link.acceptedOffers
	h.link.mu.Unlock()
	h.signaler.mu.Lock()
	answers := len(h.signaler.publishedAnswers)
	h.signaler.mu.Unlock()
	if accepted != 1 {
		t.Fatalf("accepted offer %d times, want 1", accepted)
	}
	if answers != 1 {
		t.Fatalf("published %d answers, want 1", answers)
	}
}

func TestRemoteTrackMovesSessionToConnected(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	h.link.fireRemoteTrack()

	if state, _ := h.manager.State(); state != StateConnected {
		t.Fatalf("state = %v, want connected", state)
	}
}

func TestCandidateDrainAdvancesCursor(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	h.signaler.mu.Lock()
	for i := 0; i < 3; i++ {
		h.signaler.candidateFeed = append(h.signaler.candidateFeed, json.RawMessage(fmt.Sprintf(`{"candidate":"c%d"}`, i)))
	}
	h.signaler.mu.Unlock()

	h.manager.tick()
	h.manager.tick()

	h.link.mu.Lock()
	applied := len(h.link.applied)
	h.link.mu.Unlock()
	if applied != 3 {
		t.Fatalf("applied %d candidates, want 3", applied)
	}
	h.signaler.mu.Lock()
	after := h.signaler.lastCandidateAfter
	h.signaler.mu.Unlock()
	if after != 3 {
		t.Fatalf("second fetch used cursor %d, want 3", after)
	}
}

func TestCandidateApplyFailureIsNonFatal(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	h.link.mu.Lock()
	h.link.candidateErr = errors.New("no remote description")
	h.link.mu.Unlock()
	h.signaler.mu.Lock()
	h.signaler.candidateFeed = []json.RawMessage{json.RawMessage(`{"candidate":"early"}`)}
	h.signaler.mu.Unlock()

	h.manager.tick()

	if state, _ := h.manager.State(); state != StateNegotiating {
		t.Fatalf("state = %v, want negotiating", state)
	}
	h.signaler.mu.Lock()
	cursor := h.signaler.lastCandidateAfter
	h.signaler.mu.Unlock()
	h.manager.tick()
	h.signaler.mu.Lock()
	advanced := h.signaler.lastCandidateAfter
	h.signaler.mu.Unlock()
	if cursor != 0 || advanced != 1 {
		t.Fatalf("cursors = %d then %d, want 0 then 1", cursor, advanced)
	}
}

func TestChatDeliveredInOrder(t *testing.T) {
	h := newTestHarness(t, classroom.RoleGuest)

	var got []string
	h.manager.cfg.OnChat = func(msg classroom.ChatMessage) {
		got = append(got, msg.Text)
	}
	h.start(t)

	h.signaler.mu.Lock()
	h.signaler.chatFeed = []classroom.ChatMessage{
		{Text: "hello", TS: 1},
		{Text: "world", TS: 2},
	}
	h.signaler.mu.Unlock()

	h.manager.tick()
	h.manager.tick()

	if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("delivered %v, want [hello world] exactly once", got)
	}
}

func TestLocalCandidatePublishedImmediately(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	h.link.emitLocalCandidate(json.RawMessage(`{"candidate":"local"}`))

	h.signaler.mu.Lock()
	published := len(h.signaler.publishedCandidates)
	h.signaler.mu.Unlock()
	if published != 1 {
		t.Fatalf("published %d candidates, want 1 without waiting for a tick", published)
	}
}

func TestScreenShareSwapsAndRestores(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)
	h.link.fireRemoteTrack()

	if err := h.manager.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}

	h.link.mu.Lock()
	if len(h.link.replaced) != 1 || h.link.replaced[0] != Track(h.media.screen) {
		h.link.mu.Unlock()
		t.Fatal("video sender must be replaced with the screen track")
	}
	h.link.mu.Unlock()
	if h.media.camera.Stopped() {
		t.Fatal("camera track must keep capturing during a screen share")
	}
	if state, ok := h.signaler.lastPresence(); !ok || !state.SharingScreen {
		t.Fatal("presence must report sharingScreen after the swap")
	}

	// Capture ending outside the session, e.g. via the OS controls.
	h.media.screen.fireEnded()

	h.link.mu.Lock()
	if len(h.link.replaced) != 2 || h.link.replaced[1] != Track(h.media.camera) {
		h.link.mu.Unlock()
		t.Fatal("camera track must be restored when the screen capture ends")
	}
	h.link.mu.Unlock()
	if state, ok := h.signaler.lastPresence(); !ok || state.SharingScreen {
		t.Fatal("presence must clear sharingScreen after the restore")
	}
}

func TestScreenShareRequiresConnectedSession(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	if err := h.manager.StartScreenShare(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("StartScreenShare before connect = %v, want ErrNotConnected", err)
	}
}

func TestStopScreenShareStopsCapture(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)
	h.link.fireRemoteTrack()

	if err := h.manager.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	h.manager.StopScreenShare()

	if !h.media.screen.Stopped() {
		t.Fatal("screen track must be stopped")
	}
	h.link.mu.Lock()
	restored := len(h.link.replaced) == 2 && h.link.replaced[1] == Track(h.media.camera)
	h.link.mu.Unlock()
	if !restored {
		t.Fatal("camera track must be restored")
	}
}

func TestReactionClearsAfterTTL(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	h.manager.React("🎉")

	if state, ok := h.signaler.lastPresence(); !ok || state.Reaction != "🎉" {
		t.Fatal("reaction must be published immediately")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if state, ok := h.signaler.lastPresence(); ok && state.Reaction == "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("reaction was not cleared after the TTL")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestToggleMicPublishesPresence(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)

	if enabled := h.manager.ToggleMic(); enabled {
		t.Fatal("first toggle must disable the microphone")
	}
	if h.media.audio.Enabled() {
		t.Fatal("audio track must be disabled")
	}
	if state, ok := h.signaler.lastPresence(); !ok || state.MicEnabled {
		t.Fatal("presence must report the microphone as muted")
	}
	if enabled := h.manager.ToggleMic(); !enabled {
		t.Fatal("second toggle must re-enable the microphone")
	}
}

func TestCloseTearsDownEverything(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.start(t)
	h.link.fireRemoteTrack()

	h.manager.Close()
	h.manager.Close()

	select {
	case <-h.manager.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed")
	}
	h.link.mu.Lock()
	closed := h.link.closed
	h.link.mu.Unlock()
	if !closed {
		t.Fatal("peer link must be closed")
	}
	if !h.media.audio.Stopped() || !h.media.camera.Stopped() {
		t.Fatal("local tracks must be stopped")
	}
	if state, _ := h.manager.State(); state != StateClosed {
		t.Fatalf("state = %v, want closed", state)
	}
}

func TestMediaFailureMovesToError(t *testing.T) {
	h := newTestHarness(t, classroom.RoleHost)
	h.media.err = errors.New("device busy")

	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("Start must fail when media acquisition fails")
	}
	if state, _ := h.manager.State(); state != StateError {
		t.Fatalf("state = %v, want error", state)
	}
	h.link.mu.Lock()
	closed := h.link.closed
	h.link.mu.Unlock()
	if !closed {
		t.Fatal("peer link must be closed on failure")
	}
}
