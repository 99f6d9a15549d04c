// Command rosctl is a thin wire-level CLI over the RouterOS API client:
// it issues a raw command or opens a raw stream and prints replies. It
// deliberately knows nothing about any specific router menu — per the
// engine's non-goals, there is no typed API over /ip/address,
// /interface, and so on here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jcelliott/lumber"
	"github.com/spf13/cobra"

	"github.com/nursadev/routeros"
	"github.com/nursadev/routeros/proto"
)

var (
	flagHost     string
	flagPort     int
	flagUser     string
	flagPassword string
	flagTLS      bool
	flagTimeout  time.Duration
	flagDebug    bool
)

func main() {
	root := &cobra.Command{
		Use:   "rosctl",
		Short: "Talk to a MikroTik RouterOS device over its binary API",
	}
	root.PersistentFlags().StringVar(&flagHost, "host", "", "router address (required)")
	root.PersistentFlags().IntVar(&flagPort, "port", 0, "router port (default 8728, or 8729 with --tls)")
	root.PersistentFlags().StringVar(&flagUser, "user", "admin", "login user")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "login password")
	root.PersistentFlags().BoolVar(&flagTLS, "tls", false, "connect over TLS")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "connect timeout")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "log every sentence sent/received")
	_ = root.MarkPersistentFlagRequired("host")

	root.AddCommand(callCmd())
	root.AddCommand(streamCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rosctl:", err)
		os.Exit(1)
	}
}

func dial() (*routeros.Client, error) {
	level := "WARN"
	consoleLevel := lumber.WARN
	if flagDebug {
		level = "DEBUG"
		consoleLevel = lumber.DEBUG
	}
	cfg := routeros.Config{
		Host:           flagHost,
		Port:           flagPort,
		ConnectTimeout: flagTimeout,
		Keepalive:      true,
		TLS:            routeros.TLSConfig{Enabled: flagTLS},
		Logger:         lumber.NewConsoleLogger(consoleLevel),
		LogLevel:       level,
	}
	return routeros.Dial(cfg, flagUser, flagPassword)
}

// callCmd runs one command to completion and prints every row.
//
//	rosctl call /system/resource/getall
//	rosctl call /ip/address/add =address=10.0.0.1/24 =interface=ether1
func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <menu-path> [word ...]",
		Short: "Run one command and print its reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ch, err := c.Write(args)
			if err != nil {
				return err
			}
			reply, err := ch.Wait(context.Background())
			if err != nil {
				return err
			}
			for _, s := range reply.Re {
				printSentence(s.Words)
			}
			return nil
		},
	}
}

// streamCmd opens a long-lived stream (e.g. /tool/torch, /ip/address/listen)
// and prints batches until interrupted (Ctrl-C), then stops cleanly.
//
//	rosctl stream /ip/address/listen
func streamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream <menu-path> [word ...]",
		Short: "Open a long-lived stream and print batches as they arrive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			st, err := c.Stream(args)
			if err != nil {
				return err
			}

			st.OnData(func(batch []proto.Sentence) {
				if len(batch) == 0 {
					fmt.Println("(no changes)")
					return
				}
				for _, s := range batch {
					printSentence(s.Words)
				}
			})

			errCh := make(chan error, 1)
			st.OnError(func(err error) { errCh <- err })

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-c.Closed():
				return routeros.ErrConnectionLost
			case <-sigCh:
				return st.Stop()
			}
		},
	}
}

func printSentence(words []string) {
	fmt.Println(strings.Join(words, " "))
}
