package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/adapters/media"
	"github.com/dkeye/Call/internal/adapters/rtc"
	"github.com/dkeye/Call/internal/adapters/ws"
	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/config"
	"github.com/dkeye/Call/internal/domain"
)

type printSink struct{}

func (printSink) CallStatus(sess domain.CallSession, reason string) {
	ev := log.Info().Str("room", string(sess.RoomID)).Str("status", string(sess.Status))
	if reason != "" {
		ev = ev.Str("reason", reason)
	}
	ev.Msg("call status")
}

func (printSink) CallTick(room domain.RoomID, seconds int) {
	log.Debug().Str("room", string(room)).Int("seconds", seconds).Msg("in call")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	server := fmt.Sprintf("ws://localhost:%d/api/ws/signal", cfg.Port)
	self := domain.UserID(uuid.NewString())
	switch len(os.Args) {
	case 1:
	case 2:
		self = domain.UserID(os.Args[1])
	default:
		self = domain.UserID(os.Args[1])
		server = os.Args[2]
	}

	client, err := ws.Dial(ctx, server+"?user="+string(self))
	if err != nil {
		log.Fatal().Err(err).Str("server", server).Msg("relay dial failed")
	}
	defer client.Close()
	log.Info().Str("user", string(self)).Str("server", server).Msg("connected")

	factory := rtc.NewFactory(rtc.ConfigFromSTUN(cfg.StunServers))
	reg := app.NewRegistry(self, media.NewDevices(), factory, client, printSink{}, cfg.RingTimeout)

	go client.Run(ctx, reg)
	repl(ctx, reg)
}

func repl(ctx context.Context, reg *app.Registry) {
	in := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: call <peer> [video] | accept | reject | hangup | mute | video | status | quit")
	for in.Scan() {
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <peer> [video]")
				continue
			}
			kind := domain.CallVoice
			if len(fields) > 2 && fields[2] == "video" {
				kind = domain.CallVideo
			}
			var room domain.RoomID
			room, err = reg.InitiateCall(ctx, "cli", domain.UserID(fields[1]), kind)
			if err == nil {
				fmt.Println("calling in room", room)
			}
		case "accept":
			err = reg.AcceptCall(ctx)
		case "reject":
			err = reg.RejectCall()
		case "hangup":
			err = reg.EndCall()
		case "mute":
			var muted bool
			if muted, err = reg.ToggleMute(); err == nil {
				fmt.Println("muted:", muted)
			}
		case "video":
			var on bool
			if on, err = reg.ToggleVideo(); err == nil {
				fmt.Println("video:", on)
			}
		case "status":
			if sess, ok := reg.Current(); ok {
				fmt.Printf("%s %s with %s\n", sess.Status, sess.Kind, sess.PeerID)
			} else {
				fmt.Println("idle")
			}
		case "quit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}
