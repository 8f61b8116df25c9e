// Copyright (c) 2020–2024 The scopeseq developers. All rights reserved.
// Project site: https://github.com/gotmc/scopeseq
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command scopeseq composes, edits and runs oscilloscope sequences.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gotmc/scopeseq/lib/cmdlog"
	"github.com/gotmc/scopeseq/lib/config"
	"github.com/gotmc/scopeseq/lib/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	trace   bool

	v       = viper.New()
	cfg     = config.Default()
	console = cmdlog.New(os.Stdout)
)

var rootCmd = &cobra.Command{
	Use:           "scopeseq",
	Short:         "Compose and run oscilloscope sequences",
	Long:          "scopeseq builds sequences of Start, Delay, Wave Cap, Axis Control and End steps and runs them against a bench oscilloscope.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Init(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
		log := logging.Component("cli")
		log.Debug().Str("command", cmd.CommandPath()).Msg("configuration loaded")
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./scopeseq.yaml)")
	pf.String("address", "", "instrument address, e.g. tcp://10.0.0.5:5025 or gpib:///dev/ttyUSB0?pad=7")
	pf.Duration("timeout", 0, "instrument response timeout")
	pf.String("work-dir", "", "directory holding the step configuration documents")
	pf.String("base-dir", "", "default directory for captures")
	pf.String("log-level", "", "trace, debug, info, warn or error")
	pf.String("log-format", "", "auto, console or json")
	pf.Bool("debug", false, "log session traffic at debug level")
	pf.BoolVar(&trace, "trace", false, "echo every instrument command and response")

	for key, flag := range map[string]string{
		"address":        "address",
		"timeout":        "timeout",
		"work_dir":       "work-dir",
		"base_directory": "base-dir",
		"log.level":      "log-level",
		"log.format":     "log-format",
		"debug":          "debug",
	} {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, cmdlog.ErrStyle.Render("Error: "+err.Error()))
		}
		os.Exit(1)
	}
}
