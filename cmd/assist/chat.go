package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/assist/assistant"
	"github.com/aschepis/backscratcher/assist/llm"
	assistlogger "github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/usage"
)

// chatSession sends prompts and keeps the conversation history.
type chatSession struct {
	client  *assistant.Client
	lane    assistant.Lane
	stream  bool
	history bool
	gap     time.Duration
	out     io.Writer

	turns []llm.Message
	last  time.Time
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("assist", flag.ContinueOnError)
	var (
		common    commonFlags
		lane      = fs.String("lane", string(assistant.LaneFast), "Lane to use: fast or deep")
		imagePath = fs.String("image", "", "Chart image to attach to the first prompt (file path, data URL or base64)")
		once      = fs.Bool("once", false, "Send the prompt given as arguments and exit")
		noStream  = fs.Bool("no-stream", false, "Wait for the complete response instead of streaming")
		history   = fs.Bool("history", true, "Send earlier turns with each prompt")
	)
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(&common, assistlogger.SourceMain)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	serveMetrics(ctx, common.metricsAddr, a.log)

	tracker, err := a.startUsage(ctx)
	if err != nil {
		return err
	}
	client, err := a.newClient(tracker)
	if err != nil {
		return err
	}

	var image *assistant.Image
	if *imagePath != "" {
		if image, err = loadImage(*imagePath); err != nil {
			return fmt.Errorf("failed to load image: %w", err)
		}
	}

	session := &chatSession{
		client:  client,
		lane:    assistant.Lane(*lane),
		stream:  !*noStream,
		history: *history,
		gap:     time.Duration(a.cfg.RateLimitMs) * time.Millisecond,
		out:     os.Stdout,
	}

	if *once {
		prompt := strings.Join(fs.Args(), " ")
		if prompt == "" {
			return fmt.Errorf("-once needs a prompt")
		}
		err = session.send(ctx, prompt, image)
	} else {
		err = session.repl(ctx, os.Stdin, image)
	}

	printUsage(os.Stderr, tracker)
	return err
}

// repl reads one prompt per line until EOF or cancellation. The image is
// attached to the first prompt only.
func (s *chatSession) repl(ctx context.Context, in io.Reader, image *assistant.Image) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		prompt := strings.TrimSpace(scanner.Text())
		if prompt != "" {
			if err := s.send(ctx, prompt, image); err != nil {
				return err
			}
			image = nil
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "> ")
	}
	return scanner.Err()
}

// send delivers one prompt. Classified failures are printed, not returned:
// only a broken output is an error.
func (s *chatSession) send(ctx context.Context, prompt string, image *assistant.Image) error {
	s.throttle(ctx)

	var history []llm.Message
	if s.history {
		history = s.turns
	}

	var (
		reply  strings.Builder
		failed bool
	)
	if s.stream {
		req := assistant.StreamRequest{Prompt: prompt, Lane: s.lane, History: history, Image: image}
		for res := range s.client.Stream(ctx, req) {
			chunk, ok := res.Value()
			if !ok {
				printFailure(s.out, res.Err().Message, res.Err().SuggestedAction)
				failed = true
				break
			}
			if chunk.Text != nil {
				reply.WriteString(*chunk.Text)
				if _, err := fmt.Fprint(s.out, *chunk.Text); err != nil {
					return err
				}
			}
		}
		fmt.Fprintln(s.out)
	} else {
		req := assistant.GenerateRequest{Prompt: prompt, Lane: s.lane, History: history, Image: image}
		res := s.client.Generate(ctx, req)
		resp, ok := res.Value()
		if !ok {
			printFailure(s.out, res.Err().Message, res.Err().SuggestedAction)
			failed = true
		} else {
			if resp.Text != nil {
				reply.WriteString(*resp.Text)
				fmt.Fprintln(s.out, *resp.Text)
			}
			for _, call := range resp.FunctionCalls {
				fmt.Fprintf(s.out, "[%s %v]\n", call.Name, call.Args)
			}
		}
	}

	if !failed && s.history {
		s.turns = append(s.turns,
			llm.NewTextMessage(llm.RoleUser, prompt),
			llm.NewTextMessage(llm.RoleAssistant, reply.String()),
		)
	}
	return nil
}

// throttle keeps at least s.gap between requests.
func (s *chatSession) throttle(ctx context.Context) {
	if s.gap > 0 && !s.last.IsZero() {
		if wait := s.gap - time.Since(s.last); wait > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}
	}
	s.last = time.Now()
}

func printFailure(w io.Writer, message, action string) {
	fmt.Fprintf(w, "\n%s\n", message)
	if action != "" {
		fmt.Fprintf(w, "→ %s\n", action)
	}
}

func printUsage(w io.Writer, tracker *usage.Tracker) {
	totals := tracker.Totals()
	if totals.Requests == 0 {
		return
	}
	fmt.Fprintf(w, "%d requests, %d tokens (%d prompt, %d output), cost %.6f\n",
		totals.Requests, totals.TotalTokens, totals.PromptTokens, totals.OutputTokens, totals.Cost)
}

// loadImage reads an image file, or parses the argument as a data URL or
// base64 when no such file exists.
func loadImage(arg string) (*assistant.Image, error) {
	data, err := os.ReadFile(arg) //#nosec 304 -- user-selected image
	if err != nil {
		if os.IsNotExist(err) {
			return assistant.ParseImage(arg)
		}
		return nil, err
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", arg, mimeType)
	}
	return &assistant.Image{MimeType: mimeType, Data: data}, nil
}
