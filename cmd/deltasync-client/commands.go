// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main is a small interactive CLI over transport/wsclient,
// useful for exercising a running deltasync-server by hand: it dials,
// prints the demo.Address model every time it changes, and lets the
// operator push a single mutation before exiting.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/deltasync/clientsync"
	"github.com/AleutianAI/deltasync/delta"
	"github.com/AleutianAI/deltasync/demo"
	"github.com/AleutianAI/deltasync/pkg/logging"
	"github.com/AleutianAI/deltasync/store"
	"github.com/AleutianAI/deltasync/transport/wsclient"
	"github.com/AleutianAI/deltasync/wire"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "deltasync-client",
	Short: "Connects to a deltasync-server and exercises the demo address model",
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect and print the reconciled model on every update, until interrupted",
	RunE:  runWatch,
}

var setNameCmd = &cobra.Command{
	Use:   "set-name [value]",
	Short: "Apply a SetName delta and print the resulting optimistic model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyOne(demo.SetName{Value: args[0]})
	},
}

var setNumberCmd = &cobra.Command{
	Use:   "set-number [value]",
	Short: "Apply a SetNumber delta and print the resulting optimistic model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", args[0], err)
		}
		return applyOne(demo.SetNumber{Value: n})
	},
}

var capitaliseCmd = &cobra.Command{
	Use:   "capitalise",
	Short: "Apply a Capitalise delta and print the resulting optimistic model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyOne(demo.Capitalise{})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "ws://127.0.0.1:8080/ws", "deltasync-server WebSocket URL")
	rootCmd.AddCommand(watchCmd, setNameCmd, setNumberCmd, capitaliseCmd)
}

func dial() (*wsclient.Client[demo.Address], error) {
	return wsclient.Dial(wsclient.Config[demo.Address]{
		URL:        serverURL,
		ModelCodec: wire.JSONModelCodec[demo.Address]{},
		DeltaCodec: demo.DeltaCodec{},
		RefAdder:   store.NoopReferenceAdder[demo.Address],
		Hash:       demo.HashModelID,
		OnUpdate: func(s clientsync.State[demo.Address]) {
			fmt.Printf("%+v\n", s.Model)
		},
		Logger: logging.ForComponent(logging.ComponentClient, slog.LevelInfo).Slog(),
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("%+v\n", c.State().Model)
	err = <-c.Done()
	if err != nil {
		fmt.Fprintln(os.Stderr, "disconnected:", err)
	}
	return nil
}

func applyOne(d delta.Delta[demo.Address]) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	state, err := c.Apply(d, delta.Context{Moment: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	fmt.Printf("%+v\n", state.Model)
	return nil
}
