// Command player joins a room from the terminal: it creates or joins through
// the room directory, connects to the gateway socket and plays the demo
// translation game.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/infrastructure/configs"
	"github.com/hilthontt/roomsync/internal/infrastructure/directory"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/realtime/wsclient"
	"github.com/hilthontt/roomsync/internal/presentation/terminal"
	"github.com/hilthontt/roomsync/internal/session"
)

const correctPoints = 10

type flags struct {
	server   string
	game     string
	room     string
	name     string
	create   bool
	public   bool
	rounds   int
	duration time.Duration
	logLevel string
}

// parseFlags also resolves -config, whose rounds section supplies the
// defaults for the host flags.
func parseFlags() (flags, string) {
	var f flags
	flag.StringVar(&f.server, "server", "http://localhost:8080", "roomsync server base url")
	flag.StringVar(&f.game, "game", "word-battle", "game id")
	flag.StringVar(&f.room, "room", "", "join code of the room to join")
	flag.StringVar(&f.name, "name", "", "display name, a placeholder is used when empty")
	flag.BoolVar(&f.create, "create", false, "create a new room and host it")
	flag.BoolVar(&f.public, "public", false, "list the created room publicly")
	flag.IntVar(&f.rounds, "rounds", 0, "rounds per game when hosting, overrides rounds.total_rounds")
	flag.DurationVar(&f.duration, "round-duration", 0, "length of a round when hosting, overrides rounds.duration")
	flag.StringVar(&f.logLevel, "log-level", "warn", "log level")
	configPath := configs.DetermineConfigPath(flag.CommandLine, os.Args[1:])
	return f, configPath
}

func sessionOptions(cfg *configs.Config, f flags, dir session.RoomStatusUpdater, logger logging.Logger) session.Options {
	opts := session.Options{
		RoundDuration:     cfg.Rounds.Duration,
		RankingPause:      cfg.Rounds.RankingPause,
		TickInterval:      cfg.Rounds.TickInterval,
		HostFailoverAfter: cfg.Rounds.HostFailoverAfter,
		EventBuffer:       cfg.Realtime.EventBuffer,
		TranscriptLimit:   cfg.Rounds.TranscriptLimit,
		Directory:         dir,
		Logger:            logger,
	}
	if f.duration > 0 {
		opts.RoundDuration = f.duration
	}
	return opts
}

func socketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/socket"
	return u.String(), nil
}

func main() {
	f, configPath := parseFlags()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if f.rounds <= 0 {
		f.rounds = cfg.Rounds.TotalRounds
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Logger = "zerolog"
	logCfg.Encoding = "console"
	logCfg.Level = f.logLevel
	if logCfg.FilePath == "" {
		logCfg.FilePath = "logs"
	}
	logger := logging.NewLogger(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *configs.Config, f flags, logger logging.Logger) error {
	dir := directory.NewClient(f.server, nil)
	out := terminal.NewRenderer(os.Stdout)
	name := domain.DisplayNameOrPlaceholder(f.name)

	var (
		room *directory.Room
		err  error
	)
	switch {
	case f.create:
		room, err = dir.Create(ctx, f.game, name, f.public)
	case f.room != "":
		room, err = dir.Join(ctx, f.game, f.room)
	default:
		return errors.New("either -create or -room is required")
	}
	if err != nil {
		return err
	}

	if f.create {
		invite, err := out.Invite(room.Code, room.JoinLink)
		if err != nil {
			return err
		}
		fmt.Println(invite)
	}

	endpoint, err := socketURL(f.server)
	if err != nil {
		return err
	}
	transport := wsclient.New(wsclient.Config{URL: endpoint}, logger)

	redraw := make(chan struct{}, 1)
	notify := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	manager := session.NewManager[wordRound](transport, sessionOptions(cfg, f, dir, logger))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Close(closeCtx)
	}()

	req := session.ConnectRequest[wordRound]{
		GameID:      room.GameID,
		RoomCode:    room.Code,
		DisplayName: name,
		HostID:      room.HostID,
		Host:        f.create,
		TotalRounds: f.rounds,
		Hooks: session.Hooks[wordRound]{
			OnRoster:        func([]domain.Member) { notify() },
			OnPhase:         func(session.Phase, int) { notify() },
			OnRoundStart:    func(session.RoundState[wordRound]) { notify() },
			OnCue:           func(session.Cue, int) { notify() },
			OnChat:          func(session.Line) { notify() },
			OnCorrectAnswer: func(session.Line) { notify() },
			OnConnection:    func(bool) { notify() },
			OnHostChange:    func(string) { notify() },
		},
	}
	if f.create {
		req.MemberID = room.HostID
		req.Source = newWordSource(demoWords)
	}

	s, err := manager.Connect(ctx, req)
	if err != nil {
		return err
	}

	printHelp(s.View().IsHost)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return nil
		case <-redraw:
			fmt.Println(terminal.View(out, s.View(), wordRound.String))
		case <-ticker.C:
			if s.View().Phase == session.PhasePlaying {
				notify()
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleInput(ctx, s, line)
			if err != nil {
				fmt.Println(err)
			}
			if quit {
				return nil
			}
		}
	}
}

func printHelp(host bool) {
	fmt.Println("Type an answer or a chat message. /quit leaves the room.")
	if host {
		fmt.Println("Host commands: /start /next /end")
	}
}

// handleInput runs one line typed by the player. During a round a matching
// answer scores; anything else is sent as chat.
func handleInput(ctx context.Context, s *session.Session[wordRound], line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil
	case "/quit":
		return true, nil
	case "/start":
		return false, s.StartGame(ctx)
	case "/next":
		return false, s.NextRound(ctx)
	case "/end":
		return false, s.EndGame(ctx)
	}

	v := s.View()
	if v.Phase == session.PhasePlaying {
		if v.Content.Matches(line) {
			return false, s.SubmitCorrectAnswer(ctx, line, correctPoints)
		}
		if err := s.SubmitMiss(ctx); err != nil {
			return false, err
		}
	}
	return false, s.SendChat(ctx, line)
}
