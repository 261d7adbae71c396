package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/hospital-intake-chat/internal/chatclient"
	appconfig "github.com/wolfman30/hospital-intake-chat/internal/config"
	"github.com/wolfman30/hospital-intake-chat/internal/intake"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

const header = "병원 예약 챗봇"

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := chatclient.NewClient(cfg.APIBaseURL, &http.Client{Timeout: 90 * time.Second})
	session := chatclient.NewSession(client)
	logger.Debug("chat session started", "session_id", session.State().SessionID, "api", cfg.APIBaseURL)

	if err := run(ctx, session, os.Stdin, os.Stdout); err != nil {
		logger.Error("chat ended with error", "error", err)
		os.Exit(1)
	}
}

// run drives one chat over line-oriented input until the intake completes,
// the input ends, or ctx is cancelled.
func run(ctx context.Context, session *chatclient.Session, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "=== %s ===\n", header)
	for _, msg := range session.Log() {
		printMessage(out, msg)
	}

	scanner := bufio.NewScanner(in)
	for {
		if session.State().Completed() {
			fmt.Fprintf(out, "(%s)\n", chatclient.ClosedPlaceholder)
			return nil
		}
		fmt.Fprintf(out, "[%s] > ", session.Placeholder())
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		reply, err := session.Send(ctx, scanner.Text())
		switch {
		case errors.Is(err, intake.ErrEmptyInput):
			continue
		case errors.Is(err, intake.ErrCompleted):
			continue
		}
		// A failed turn still yields the apology line, and the same step is asked again.
		printMessage(out, reply)
	}
}

func printMessage(out io.Writer, msg intake.Message) {
	who := "나"
	if msg.Origin == intake.OriginBot {
		who = "챗봇"
	}
	fmt.Fprintf(out, "%s: %s\n", who, msg.Text)
}
