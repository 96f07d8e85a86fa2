package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/client"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/chat", "WebSocket endpoint")
	origin := flag.String("origin", "http://localhost:8080", "Origin header sent with the handshake")
	nick := flag.String("nick", "", "nickname to claim after connecting")
	room := flag.String("room", "", "room to join after connecting")
	heartbeat := flag.Duration("heartbeat", time.Minute, "interval between heartbeat messages, 0 to disable")
	echo := flag.Bool("echo", false, "talk to the echo endpoint instead of the chat endpoint")
	verbose := flag.Bool("v", false, "log debug output")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *echo && *url == "ws://localhost:8080/chat" {
		*url = "ws://localhost:8080/echo"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *url, *origin, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lines := make(chan string)
	go readLines(lines)

	state := &client.State{}
	printer := client.NewPrinter(os.Stdout, state)
	group := client.NewGroup(c, logger)

	if *echo {
		printer = client.NewPrinter(os.Stdout, nil)
		group.Go("reader", client.Reader(c, printer.Handle))
		group.Go("heartbeat", client.Heartbeat(c, *heartbeat, func() (any, error) {
			return map[string]string{"heartbeat": time.Now().UTC().Format(time.RFC3339)}, nil
		}))
		group.Go("input", client.InputRelay(c, lines, client.EchoInput, os.Stdout))
	} else {
		if err := sendStartup(c, *nick, *room, state); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		group.Go("reader", client.Reader(c, printer.Handle))
		group.Go("heartbeat", client.Heartbeat(c, *heartbeat, client.UserListHeartbeat(state)))
		group.Go("input", client.InputRelay(c, lines, client.ChatInput(state), os.Stdout))
	}

	if err := group.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sendStartup queues the -nick and -room requests ahead of any user input.
func sendStartup(c client.Sender, nick, room string, state *client.State) error {
	encode := client.ChatInput(state)
	for _, line := range []string{prefixed("/nick ", nick), prefixed("/join ", room)} {
		if line == "" {
			continue
		}
		msg, err := encode(line)
		if err != nil {
			return err
		}
		if err := c.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func prefixed(command, arg string) string {
	if arg == "" || len(arg) > chat.MaxNameLength {
		return ""
	}
	return command + arg
}

// readLines feeds stdin to lines and closes it at EOF.
func readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
