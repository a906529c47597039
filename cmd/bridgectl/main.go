package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"miovo-bridge/internal/client"
	"miovo-bridge/pkg/api"

	"github.com/schollz/progressbar/v3"
)

const usage = `usage: bridgectl [-url ws://host:port/ws] <command> [flags]

commands:
  ping                               round trip a ping
  status                             wait for the next backend status broadcast
  voices                             list the available speakers
  synthesize -text T [-speaker N] -out file.wav
  train -model NAME -epochs N [-data id,id]
`

func main() {
	url := flag.String("url", "ws://localhost:8765/ws", "bridge websocket url")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	c, err := client.Dial(ctx, *url)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()

	if _, err := waitFor(ctx, c, *timeout, api.TypeConnected); err != nil {
		log.Fatalf("bridge did not greet: %v", err)
	}

	command, args := flag.Arg(0), flag.Args()[1:]
	switch command {
	case "ping":
		err = ping(ctx, c, *timeout)
	case "status":
		err = status(ctx, c, *timeout)
	case "voices":
		err = voices(ctx, c, *timeout)
	case "synthesize":
		err = synthesize(ctx, c, *timeout, args)
	case "train":
		err = train(ctx, c, *timeout, args)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

// waitFor returns the next pushed message of msgType.
func waitFor(ctx context.Context, c *client.Client, timeout time.Duration, msgType string) (client.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case msg, ok := <-c.Events():
			if !ok {
				return client.Message{}, client.ErrClosed
			}
			if msg.Type == msgType {
				return msg, nil
			}
		case <-ctx.Done():
			return client.Message{}, ctx.Err()
		}
	}
}

func request(ctx context.Context, c *client.Client, timeout time.Duration, msgType string, data any) (client.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Request(ctx, msgType, data)
}

func ping(ctx context.Context, c *client.Client, timeout time.Duration) error {
	start := time.Now()
	if _, err := request(ctx, c, timeout, api.TypePing, nil); err != nil {
		return err
	}
	fmt.Printf("pong in %s\n", time.Since(start).Round(time.Microsecond))
	return nil
}

func status(ctx context.Context, c *client.Client, timeout time.Duration) error {
	msg, err := waitFor(ctx, c, timeout, api.TypeServiceStatus)
	if err != nil {
		return err
	}
	snapshot, err := client.Decode[api.ServiceStatus](msg)
	if err != nil {
		return err
	}
	fmt.Printf("synthesis:  %s\nconversion: %s\nobserved:   %s\n",
		upDown(snapshot.SynthesisBackendUp), upDown(snapshot.ConversionBackendUp), snapshot.ObservedAt.Format(time.RFC3339))
	return nil
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

type speaker struct {
	Name   string `json:"name"`
	Styles []struct {
		Name string `json:"name"`
		Id   int    `json:"id"`
	} `json:"styles"`
}

func voices(ctx context.Context, c *client.Client, timeout time.Duration) error {
	msg, err := request(ctx, c, timeout, api.TypeListVoices, nil)
	if err != nil {
		return err
	}
	res, err := client.Decode[api.VoicesResponse](msg)
	if err != nil {
		return err
	}

	var speakers []speaker
	if err := json.Unmarshal(res.Speakers, &speakers); err != nil {
		return fmt.Errorf("unexpected speaker catalog: %w", err)
	}

	if res.Mock {
		fmt.Println("(synthesis engine unavailable, showing built-in catalog)")
	}
	for _, s := range speakers {
		for _, style := range s.Styles {
			fmt.Printf("%4d  %s (%s)\n", style.Id, s.Name, style.Name)
		}
	}
	return nil
}

func synthesize(ctx context.Context, c *client.Client, timeout time.Duration, args []string) error {
	fs := flag.NewFlagSet("synthesize", flag.ExitOnError)
	text := fs.String("text", "", "text to speak")
	speakerId := fs.Int("speaker", 1, "speaker style id")
	out := fs.String("out", "out.wav", "output file")
	fs.Parse(args)

	if *text == "" {
		return errors.New("-text is required")
	}

	msg, err := request(ctx, c, timeout, api.TypeSynthesize, api.SynthesizeRequest{Text: *text, SpeakerId: speakerId})
	if err != nil {
		return err
	}
	res, err := client.Decode[api.SynthesisResponse](msg)
	if err != nil {
		return err
	}

	_, encoded, found := strings.Cut(res.Audio, ";base64,")
	if !found {
		return errors.New("response audio is not a base64 data URI")
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("error decoding audio: %w", err)
	}

	if err := os.WriteFile(*out, audio, 0644); err != nil {
		return err
	}

	note := ""
	if res.Mock {
		note = " (silent placeholder, synthesis engine unavailable)"
	}
	fmt.Printf("wrote %d bytes to %s%s\n", len(audio), *out, note)
	return nil
}

func train(ctx context.Context, c *client.Client, timeout time.Duration, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	model := fs.String("model", "", "model name")
	epochs := fs.Int("epochs", 100, "number of epochs")
	data := fs.String("data", "", "comma separated upload ids")
	fs.Parse(args)

	req := api.TrainingRequest{ModelName: *model, Epochs: *epochs, TrainingDataIds: []string{}}
	if *data != "" {
		req.TrainingDataIds = strings.Split(*data, ",")
	}

	msg, err := request(ctx, c, timeout, api.TypeStartTraining, req)
	if err != nil {
		return err
	}
	started, err := client.Decode[api.TrainingStartedResponse](msg)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(started.TotalEpochs,
		progressbar.OptionSetDescription("training "+started.ModelName),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
	)

	for msg := range c.Events() {
		switch msg.Type {
		case api.TypeTrainingProgress:
			progress, err := client.Decode[api.TrainingProgressEvent](msg)
			if err != nil {
				return err
			}
			if progress.ModelId == started.ModelId {
				bar.Set(progress.CurrentEpoch)
			}
		case api.TypeTrainingComplete:
			done, err := client.Decode[api.TrainingCompleteEvent](msg)
			if err != nil {
				return err
			}
			if done.ModelId == started.ModelId {
				bar.Finish()
				fmt.Printf("\nmodel %s is %s\n", done.ModelId, done.Status)
				return nil
			}
		case api.TypeServerShutdown:
			return errors.New("bridge shut down before training finished")
		}
	}

	if err := c.Err(); err != nil {
		return err
	}
	return client.ErrClosed
}
