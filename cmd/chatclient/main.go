// Command chatclient connects to a chat relay, sends stdin lines, and prints
// the lines the server sends back.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/chatrelay/chatclient"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatclient: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("chatclient", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: chatclient [flags] <host> <port>")
		fs.PrintDefaults()
	}

	timeout := fs.DurationP("timeout", "w", 0, "Dial timeout (default 10s)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}

		return err
	}

	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("host and port are required")
	}

	cfg := chatclient.DefaultConfig(net.JoinHostPort(fs.Arg(0), fs.Arg(1)))
	if *timeout > 0 {
		cfg.ConnectionTimeout = *timeout
	}

	client := chatclient.NewClient(cfg)
	done := make(chan struct{})
	var once sync.Once
	client.OnLine(func(e chatclient.LineEvent) {
		fmt.Println(e.Line)
	})
	client.OnConnectionState(func(e chatclient.ConnectionStateEvent) {
		if e.State == chatclient.Disconnected {
			once.Do(func() { close(done) })
		}
	})
	client.OnError(func(e chatclient.ErrorEvent) {
		fmt.Fprintf(os.Stderr, "error: %v\n", e.Error)
	})

	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-input:
			if !ok {
				_ = client.SendLine("EXIT")
				return nil
			}

			if err := client.SendLine(line); err != nil {
				return err
			}
		}
	}
}
