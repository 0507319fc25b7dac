// roomcli is a terminal client for listening rooms. It exercises the client
// SDK end to end: join a room, chat, and drive playback with slash commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/tunewave/listenroom/internal/client"
	"github.com/tunewave/listenroom/internal/config"
	"github.com/tunewave/listenroom/internal/domain"
)

func main() {
	url := pflag.String("url", "ws://localhost:8080/api/ws/room", "room websocket endpoint")
	room := pflag.String("room", "main", "room id to join")
	name := pflag.String("name", "", "display name")
	verbose := pflag.Bool("verbose", false, "debug logging")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: roomcli --name <display name> [--room <id>] [--url <ws endpoint>]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess := client.NewRoomSession(client.Options{
		URL: *url,
		Backoff: client.BackoffPolicy{
			Base:       cfg.Client.BaseBackoff,
			Max:        cfg.Client.MaxBackoff,
			MaxRetries: cfg.Client.MaxRetries,
		},
		OnStatus: func(st client.Status) {
			fmt.Printf("* connection: %s\n", st)
		},
		OnState: printLastEvent,
	})

	userID := domain.UserID(uuid.NewString())
	if err := sess.Connect(ctx, domain.RoomID(*room), userID, *name); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer sess.Disconnect()

	go func() {
		<-ctx.Done()
		sess.Disconnect()
		os.Exit(0)
	}()

	fmt.Printf("joined room %q as %s - type to chat, /help for commands\n", *room, *name)

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := sess.SendChat(line); err != nil {
				fmt.Printf("! not sent: %v\n", err)
			}
			continue
		}
		runCommand(sess, line)
	}
}

func runCommand(sess *client.RoomSession, line string) {
	fields := strings.Fields(line)
	var err error
	switch fields[0] {
	case "/help":
		fmt.Println("/play [ms]  /pause  /seek <ms>  /add <id> [title]  /queue  /who  /quit")
	case "/play":
		pos := int64(0)
		if len(fields) > 1 {
			pos, _ = strconv.ParseInt(fields[1], 10, 64)
		}
		err = sess.RequestPlay(nil, pos)
	case "/pause":
		err = sess.RequestPause(nil)
	case "/seek":
		if len(fields) < 2 {
			fmt.Println("! usage: /seek <ms>")
			return
		}
		var pos int64
		pos, err = strconv.ParseInt(fields[1], 10, 64)
		if err == nil {
			err = sess.RequestSeek(pos)
		}
	case "/add":
		if len(fields) < 2 {
			fmt.Println("! usage: /add <id> [title]")
			return
		}
		track := domain.Track{ID: fields[1], Title: strings.Join(fields[2:], " ")}
		err = sess.RequestAddTrack(track)
	case "/queue":
		for i, tr := range sess.View().Queue {
			fmt.Printf("%3d. %s %s\n", i+1, tr.ID, tr.Title)
		}
	case "/who":
		for _, p := range sess.View().Participants {
			fmt.Printf("  %s (%s)\n", p.Username, p.UserID)
		}
		fmt.Printf("  position: %dms playing=%v\n", sess.PositionNow(), sess.View().IsPlaying)
	case "/quit":
		sess.Disconnect()
		os.Exit(0)
	default:
		fmt.Printf("! unknown command %s\n", fields[0])
	}
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
}

var printedChat int

// printLastEvent shows chat lines the user has not seen yet. A sync_state
// can shrink the history, so the cursor clamps instead of assuming growth.
func printLastEvent(st domain.RoomState) {
	if printedChat > len(st.Chat) {
		printedChat = 0
	}
	for _, m := range st.Chat[printedChat:] {
		if m.IsSystem() {
			fmt.Printf("* %s\n", m.Message)
		} else {
			fmt.Printf("<%s> %s\n", m.Username, m.Message)
		}
	}
	printedChat = len(st.Chat)
}
