package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime"
)

const directoryTimeout = 5 * time.Second

// View is an immutable snapshot of a session for rendering.
type View[C any] struct {
	Topic       string
	GameID      string
	RoomCode    string
	MemberID    string
	DisplayName string
	HostID      string
	IsHost      bool
	Phase       Phase
	Round       int
	TotalRounds int
	Content     C
	EndsAt      time.Time
	Remaining   int
	Roster      []domain.Member
	Leaderboard []Standing
	Transcript  []Line
	Score       Score
	Connected   bool
}

type outbound struct {
	name    string
	payload json.RawMessage
}

// Session is one member's live view of one room. All state is owned by a
// single event loop goroutine that serializes transport events, timer ticks
// and commands.
type Session[C any] struct {
	gameID   string
	code     string
	topic    string
	self     string
	username string

	opts    Options
	hooks   Hooks[C]
	logger  logging.Logger
	channel realtime.Channel

	controller *Controller[C]
	ledger     *Ledger
	transcript *Transcript
	publisher  *presencePublisher

	roster       []domain.Member
	hostID       string
	hostLocked   bool
	hostMissing  time.Time
	connected    bool
	rankingUntil time.Time
	markedStart  bool
	markedClosed bool

	commands chan func()
	outbox   chan outbound
	view     atomic.Pointer[View[C]]

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func open[C any](ctx context.Context, transport realtime.Transport, opts Options, req ConnectRequest[C]) (*Session[C], error) {
	opts = opts.withDefaults()

	gameID := strings.TrimSpace(req.GameID)
	if gameID == "" {
		return nil, fmt.Errorf("%w: missing game id", domain.ErrInvalidInput)
	}
	code := domain.NormalizeJoinCode(req.RoomCode)
	if code != "" && !domain.IsValidJoinCode(code) {
		return nil, fmt.Errorf("%w: room code %q", domain.ErrInvalidInput, req.RoomCode)
	}

	self := req.MemberID
	if self == "" {
		self = uuid.NewString()
	}
	username := domain.DisplayNameOrPlaceholder(req.DisplayName)
	topic := domain.Topic(gameID, code)

	channel, err := transport.Open(ctx, topic, realtime.ChannelOptions{
		PresenceKey: self,
		Buffer:      opts.EventBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", topic, err)
	}

	host := req.Host || (req.HostID != "" && req.HostID == self)
	hostID := req.HostID
	if host {
		hostID = self
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &Session[C]{
		gameID:   gameID,
		code:     code,
		topic:    topic,
		self:     self,
		username: username,
		opts:     opts,
		hooks:    req.Hooks,
		logger:   opts.Logger,
		channel:  channel,
		controller: NewController(ControllerConfig[C]{
			Host:          host,
			TotalRounds:   req.TotalRounds,
			RoundDuration: opts.RoundDuration,
			Source:        req.Source,
		}),
		ledger:     NewLedger(username, opts.Now().UTC()),
		transcript: NewTranscript(opts.TranscriptLimit),
		hostID:     hostID,
		hostLocked: hostID != "",
		commands:   make(chan func()),
		outbox:     make(chan outbound, opts.OutboxSize),
		ctx:        loopCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.publisher = newPresencePublisher(topic, channel.Track, s.logger)
	s.publishView()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.publisher.Run(loopCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.sendLoop(loopCtx)
	}()
	go s.run()

	s.publisher.Publish(s.ledger.Presence())

	s.logger.Info(logging.Session, logging.Presence, "session opened", map[logging.ExtraKey]any{
		logging.Topic:    topic,
		logging.MemberID: self,
	})
	return s, nil
}

func (s *Session[C]) Topic() string { return s.topic }
func (s *Session[C]) MemberID() string { return s.self }

// View returns the latest snapshot. It is safe to call from any goroutine.
func (s *Session[C]) View() View[C] {
	return *s.view.Load()
}

// Done is closed when the session's event loop has stopped.
func (s *Session[C]) Done() <-chan struct{} {
	return s.done
}

func (s *Session[C]) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close unsubscribes from the room, which removes this member's presence,
// and stops every timer. Broadcasts already queued are flushed first.
func (s *Session[C]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.wg.Wait()
		s.flushOutbox(ctx)

		s.closeErr = s.channel.Close(ctx)

		s.logger.Info(logging.Session, logging.Presence, "session closed", map[logging.ExtraKey]any{
			logging.Topic:    s.topic,
			logging.MemberID: s.self,
		})
	})
	return s.closeErr
}

func (s *Session[C]) run() {
	defer close(s.done)

	ticks, stop := s.opts.Tickers.Create(s.opts.TickInterval)
	defer stop()
	defer s.controller.Stop()

	events := s.channel.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				s.setConnected(false)
				break
			}
			s.handleEvent(ev)
		case now := <-ticks:
			s.handleTick(now)
		case cmd := <-s.commands:
			cmd()
			continue
		}
		s.publishView()
	}
}

// do runs fn on the event loop and waits for its result. The view already
// reflects fn when do returns.
func (s *Session[C]) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() {
		err := fn()
		s.publishView()
		errc <- err
	}

	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session[C]) now() time.Time {
	return s.opts.Now()
}

func (s *Session[C]) envelope() domain.Envelope {
	return domain.Envelope{
		SenderID:  s.self,
		Username:  s.username,
		Timestamp: s.now().UnixMilli(),
	}
}

// send queues a broadcast without waiting on the network. A full outbox
// drops the message, the same as a lossy transport would.
func (s *Session[C]) send(name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error(logging.Session, logging.Broadcast, "encode broadcast", map[logging.ExtraKey]any{
			logging.EventName:    name,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	select {
	case s.outbox <- outbound{name: name, payload: raw}:
	default:
		s.logger.Warn(logging.Session, logging.Broadcast, "outbox full, dropping broadcast", map[logging.ExtraKey]any{
			logging.Topic:     s.topic,
			logging.EventName: name,
		})
	}
}

func (s *Session[C]) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.outbox:
			s.broadcast(ctx, msg)
		}
	}
}

func (s *Session[C]) flushOutbox(ctx context.Context) {
	for {
		select {
		case msg := <-s.outbox:
			s.broadcast(ctx, msg)
		default:
			return
		}
	}
}

func (s *Session[C]) broadcast(ctx context.Context, msg outbound) {
	if err := s.channel.Broadcast(ctx, msg.name, msg.payload); err != nil && ctx.Err() == nil {
		s.logger.Warn(logging.Realtime, logging.Broadcast, "broadcast failed", map[logging.ExtraKey]any{
			logging.Topic:        s.topic,
			logging.EventName:    msg.name,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (s *Session[C]) handleEvent(ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventSync:
		s.applySync(ev.Presence)
	case realtime.EventStatus:
		s.setConnected(ev.Connected)
	case realtime.EventBroadcast:
		s.handleBroadcast(ev.Name, ev.Payload)
	case realtime.EventJoin, realtime.EventLeave:
		// Every join or leave is followed by a full sync.
	}
}

func (s *Session[C]) setConnected(connected bool) {
	if s.connected == connected {
		return
	}
	s.connected = connected
	if connected {
		// Presence may have been lost with the connection.
		s.publisher.Publish(s.ledger.Presence())
	}
	if s.hooks.OnConnection != nil {
		s.hooks.OnConnection(connected)
	}
}

func (s *Session[C]) applySync(state realtime.PresenceState) {
	s.roster = DeriveRoster(state)

	if !s.hostLocked {
		if _, ok := findMember(s.roster, s.self); ok {
			earliest, _ := EarliestJoiner(s.roster)
			s.setHost(earliest.MemberID)
			s.hostLocked = true
		}
	}

	if s.hooks.OnRoster != nil {
		s.hooks.OnRoster(s.roster)
	}
	s.maybeAdvance()
}

func (s *Session[C]) setHost(id string) {
	if s.hostID == id {
		return
	}
	s.hostID = id
	if id == s.self {
		s.controller.Promote()
	}
	if s.hooks.OnHostChange != nil {
		s.hooks.OnHostChange(id)
	}
}

func (s *Session[C]) handleBroadcast(name string, payload json.RawMessage) {
	var err error
	switch name {
	case domain.EventCorrectAnswer:
		err = s.onCorrectAnswer(payload)
	case domain.EventChatMessage:
		err = s.onChat(payload)
	case domain.EventGameEvent:
		err = s.onGameEvent(payload)
	default:
		err = fmt.Errorf("%w: unknown event %q", domain.ErrMalformedBroadcast, name)
	}

	if err != nil {
		s.logger.Debug(logging.Session, logging.Broadcast, "dropping broadcast", map[logging.ExtraKey]any{
			logging.Topic:        s.topic,
			logging.EventName:    name,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (s *Session[C]) onCorrectAnswer(raw json.RawMessage) error {
	p, err := domain.DecodeBroadcast[domain.CorrectAnswerPayload](raw)
	if err != nil {
		return err
	}
	if p.SenderID == s.self {
		return nil
	}

	line := correctAnswerLine(p)
	if s.transcript.Add(p.Envelope, line) && s.hooks.OnCorrectAnswer != nil {
		s.hooks.OnCorrectAnswer(line)
	}
	s.answered(p.SenderID, p.Round)
	return nil
}

// answered counts a member toward ending the round only when the report is
// for the round in progress. Late reports from an earlier round are ignored.
func (s *Session[C]) answered(memberID string, round int) {
	state, ok := s.controller.Current()
	if !ok || round != state.Round {
		return
	}
	s.controller.MarkAnswered(memberID)
	s.maybeAdvance()
}

// fromHost reports whether a round control event may be applied. Once a host
// is known only that member drives rounds; a different host is adopted only
// through the failover election in checkHost.
func (s *Session[C]) fromHost(senderID string) bool {
	return !s.hostLocked || senderID == s.hostID
}

func (s *Session[C]) onChat(raw json.RawMessage) error {
	p, err := domain.DecodeBroadcast[domain.ChatMessagePayload](raw)
	if err != nil {
		return err
	}
	if p.SenderID == s.self {
		return nil
	}

	line := chatLine(p)
	if s.transcript.Add(p.Envelope, line) && s.hooks.OnChat != nil {
		s.hooks.OnChat(line)
	}
	return nil
}

func (s *Session[C]) onGameEvent(raw json.RawMessage) error {
	p, err := domain.DecodeBroadcast[domain.GameEventPayload](raw)
	if err != nil {
		return err
	}
	if p.SenderID == s.self {
		return nil
	}

	switch p.Type {
	case domain.GameEventRoundStart, domain.GameEventRoundAdvance, domain.GameEventReturnToLobby:
		if !s.fromHost(p.SenderID) {
			return fmt.Errorf("%w: %s from %s, host is %s", ErrNotHost, p.Type, p.SenderID, s.hostID)
		}
	}

	switch p.Type {
	case domain.GameEventRoundStart:
		return s.onRoundStart(p)
	case domain.GameEventRoundAdvance:
		if s.controller.ApplyAdvance(p.Round) {
			s.enteredRanking()
		}
	case domain.GameEventReturnToLobby:
		if s.controller.ApplyReturnToLobby() {
			s.phaseChanged()
		}
	case domain.GameEventAnswered:
		s.answered(p.SenderID, p.Round)
	default:
		if s.hooks.OnGameEvent != nil {
			s.hooks.OnGameEvent(p)
		}
	}
	return nil
}

func (s *Session[C]) onRoundStart(p domain.GameEventPayload) error {
	// Two members can briefly both believe they are host after a failover;
	// the one that keeps the role ignores the other's rounds.
	if s.controller.IsHost() {
		return nil
	}

	var content C
	if err := json.Unmarshal(p.Content, &content); err != nil {
		return fmt.Errorf("%w: round content: %v", domain.ErrMalformedBroadcast, err)
	}

	state := RoundState[C]{
		Round:       p.Round,
		TotalRounds: p.TotalRounds,
		Content:     content,
		EndsAt:      time.UnixMilli(p.EndsAt),
	}
	if !s.controller.ApplyRoundStart(state) {
		return nil
	}

	s.hostMissing = time.Time{}
	if !s.hostLocked {
		s.setHost(p.SenderID)
		s.hostLocked = true
	}
	s.roundStarted()
	return nil
}

func (s *Session[C]) handleTick(now time.Time) {
	tick := s.controller.Poll(now)
	if tick.Cue != CueNone && s.hooks.OnCue != nil {
		s.hooks.OnCue(tick.Cue, tick.Remaining)
	}
	if tick.Cue == CueEnd {
		s.enteredRanking()
	}

	if s.controller.IsHost() && s.controller.Phase() == PhaseRanking &&
		!s.rankingUntil.IsZero() && !now.Before(s.rankingUntil) {
		s.rankingUntil = time.Time{}
		if err := s.next(); err != nil {
			s.logger.Error(logging.Session, logging.Round, "next round", map[logging.ExtraKey]any{
				logging.Topic:        s.topic,
				logging.ErrorMessage: err.Error(),
			})
		}
	}

	s.checkHost(now)
}

// checkHost elects a new host when the current one has been gone from
// presence for HostFailoverAfter. Every member runs the same election over
// the same roster, so they agree without talking to each other.
func (s *Session[C]) checkHost(now time.Time) {
	after := s.opts.HostFailoverAfter
	if after <= 0 || s.controller.IsHost() || s.hostID == "" || s.controller.Phase() == PhaseClosed {
		return
	}
	if _, ok := findMember(s.roster, s.hostID); ok {
		s.hostMissing = time.Time{}
		return
	}
	if s.hostMissing.IsZero() {
		s.hostMissing = now
		return
	}
	if now.Sub(s.hostMissing) < after {
		return
	}

	elected, ok := EarliestJoiner(s.roster)
	if !ok {
		return
	}
	s.hostMissing = time.Time{}
	s.logger.Warn(logging.Session, logging.Failover, "host absent, electing earliest joiner", map[logging.ExtraKey]any{
		logging.Topic:    s.topic,
		logging.MemberID: elected.MemberID,
	})
	s.setHost(elected.MemberID)

	if s.controller.IsHost() && s.controller.Phase() == PhaseRanking {
		s.scheduleNext()
	}
}

func (s *Session[C]) maybeAdvance() {
	if !s.controller.ShouldAdvance(s.roster) {
		return
	}
	tr, err := s.controller.AdvanceEarly()
	if err != nil {
		return
	}
	s.announce(tr)
	s.enteredRanking()
}

func (s *Session[C]) next() error {
	tr, err := s.controller.Next(s.ctx, s.now())
	if err != nil {
		return err
	}
	s.announce(tr)
	if tr.Type == domain.GameEventReturnToLobby {
		s.phaseChanged()
		return nil
	}
	s.roundStarted()
	return nil
}

func (s *Session[C]) announce(tr Transition[C]) {
	payload := domain.GameEventPayload{
		Envelope:    s.envelope(),
		Type:        tr.Type,
		Round:       tr.State.Round,
		TotalRounds: tr.State.TotalRounds,
	}
	if tr.Type == domain.GameEventRoundStart {
		content, err := json.Marshal(tr.State.Content)
		if err != nil {
			s.logger.Error(logging.Session, logging.Round, "encode round content", map[logging.ExtraKey]any{
				logging.RoundNo:      tr.State.Round,
				logging.ErrorMessage: err.Error(),
			})
			return
		}
		payload.Content = content
		payload.EndsAt = tr.State.EndsAt.UnixMilli()
	}
	s.send(domain.EventGameEvent, payload)
}

func (s *Session[C]) roundStarted() {
	state, _ := s.controller.Current()
	if s.controller.IsHost() && !s.markedStart {
		s.markedStart = true
		s.markRoom(domain.RoomStatusPlaying)
	}
	if s.hooks.OnRoundStart != nil {
		s.hooks.OnRoundStart(state)
	}
	s.phaseChanged()
}

func (s *Session[C]) enteredRanking() {
	if s.controller.IsHost() {
		s.scheduleNext()
	}
	s.phaseChanged()
}

func (s *Session[C]) scheduleNext() {
	if s.opts.RankingPause > 0 {
		s.rankingUntil = s.now().Add(s.opts.RankingPause)
	}
}

func (s *Session[C]) phaseChanged() {
	phase := s.controller.Phase()
	if phase == PhaseClosed && s.controller.IsHost() && !s.markedClosed {
		s.markedClosed = true
		s.markRoom(domain.RoomStatusClosed)
	}
	if s.hooks.OnPhase != nil {
		state, _ := s.controller.Current()
		s.hooks.OnPhase(phase, state.Round)
	}
}

// markRoom records the room's lifecycle in the directory. Failures are
// logged and otherwise ignored.
func (s *Session[C]) markRoom(status domain.RoomStatus) {
	if s.opts.Directory == nil || s.code == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()

		if err := s.opts.Directory.UpdateStatus(ctx, s.gameID, s.code, status); err != nil {
			s.logger.Warn(logging.Session, logging.Directory, "update room status", map[logging.ExtraKey]any{
				logging.GameID:       s.gameID,
				logging.RoomCode:     s.code,
				logging.ErrorMessage: err.Error(),
			})
		}
	}()
}

func (s *Session[C]) publishView() {
	state, _ := s.controller.Current()
	v := &View[C]{
		Topic:       s.topic,
		GameID:      s.gameID,
		RoomCode:    s.code,
		MemberID:    s.self,
		DisplayName: s.username,
		HostID:      s.hostID,
		IsHost:      s.controller.IsHost(),
		Phase:       s.controller.Phase(),
		Round:       state.Round,
		TotalRounds: s.controller.TotalRounds(),
		Content:     state.Content,
		EndsAt:      state.EndsAt,
		Remaining:   s.controller.Remaining(s.now()),
		Roster:      append([]domain.Member(nil), s.roster...),
		Leaderboard: Leaderboard(s.roster),
		Transcript:  s.transcript.Lines(),
		Score:       s.ledger.Score(),
		Connected:   s.connected,
	}
	s.view.Store(v)
}

// StartGame begins round one. Host only.
func (s *Session[C]) StartGame(ctx context.Context) error {
	return s.do(ctx, func() error {
		tr, err := s.controller.Start(s.ctx, s.now())
		if err != nil {
			return err
		}
		s.announce(tr)
		s.roundStarted()
		return nil
	})
}

// NextRound leaves the ranking pause early. Host only.
func (s *Session[C]) NextRound(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.rankingUntil = time.Time{}
		return s.next()
	})
}

// EndGame sends everyone back to the lobby and closes the room. Host only.
func (s *Session[C]) EndGame(ctx context.Context) error {
	return s.do(ctx, func() error {
		tr, err := s.controller.End()
		if err != nil {
			return err
		}
		s.announce(tr)
		s.phaseChanged()
		return nil
	})
}

// SubmitCorrectAnswer scores locally, republishes presence and tells the
// room who scored. The answer itself stays on this member.
func (s *Session[C]) SubmitCorrectAnswer(ctx context.Context, answer string, points int) error {
	return s.do(ctx, func() error {
		if s.controller.Phase() != PhasePlaying {
			return fmt.Errorf("%w: answer in %s", ErrInvalidPhase, s.controller.Phase())
		}

		s.ledger.Correct(answer, points)
		s.publisher.Publish(s.ledger.Presence())

		state, _ := s.controller.Current()
		payload := domain.CorrectAnswerPayload{Envelope: s.envelope(), Points: points, Round: state.Round}
		if payload.Points < 0 {
			payload.Points = 0
		}
		s.send(domain.EventCorrectAnswer, payload)
		s.transcript.Add(payload.Envelope, correctAnswerLine(payload))

		s.controller.MarkAnswered(s.self)
		s.maybeAdvance()
		return nil
	})
}

// SubmitMiss resets the streak.
func (s *Session[C]) SubmitMiss(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.ledger.Miss()
		s.publisher.Publish(s.ledger.Presence())
		return nil
	})
}

// MarkAnswered tells the host this member is done with the round without
// scoring, so it can end the round early.
func (s *Session[C]) MarkAnswered(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.controller.Phase() != PhasePlaying {
			return fmt.Errorf("%w: answered in %s", ErrInvalidPhase, s.controller.Phase())
		}
		state, _ := s.controller.Current()
		s.send(domain.EventGameEvent, domain.GameEventPayload{
			Envelope: s.envelope(),
			Type:     domain.GameEventAnswered,
			Round:    state.Round,
		})
		s.controller.MarkAnswered(s.self)
		s.maybeAdvance()
		return nil
	})
}

func (s *Session[C]) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty chat message", domain.ErrInvalidInput)
	}

	return s.do(ctx, func() error {
		payload := domain.ChatMessagePayload{Envelope: s.envelope(), Message: text}
		s.send(domain.EventChatMessage, payload)

		line := chatLine(payload)
		if s.transcript.Add(payload.Envelope, line) && s.hooks.OnChat != nil {
			s.hooks.OnChat(line)
		}
		return nil
	})
}

var errReservedEvent = errors.New("reserved game event type")

// SendGameEvent broadcasts a game-specific event. The round control types
// are reserved for the host commands.
func (s *Session[C]) SendGameEvent(ctx context.Context, eventType string, data any) error {
	switch eventType {
	case "", domain.GameEventRoundStart, domain.GameEventRoundAdvance, domain.GameEventReturnToLobby, domain.GameEventAnswered:
		return fmt.Errorf("%w: %w %q", domain.ErrInvalidInput, errReservedEvent, eventType)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	return s.do(ctx, func() error {
		s.send(domain.EventGameEvent, domain.GameEventPayload{
			Envelope: s.envelope(),
			Type:     eventType,
			Data:     raw,
		})
		return nil
	})
}
