// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mapzip creates, lists and extracts ZIP archives using the
// parallel engine of the mapzip package.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mapzip"
)

var version = "dev"

type cli struct {
	Version kong.VersionFlag

	LogLevel   string `kong:"name=log-level,env=LOG_LEVEL,default=info,help='Set log level.'"`
	LogJSON    bool   `kong:"name=log-json,env=LOG_JSON,default=false,help='Enable JSON logging output.'"`
	LogNoColor bool   `kong:"name=log-nocolor,env=LOG_NOCOLOR,default=false,help='Disable colorized output.'"`

	Create  createCmd  `kong:"cmd,help='Create a new archive from files or a folder.'"`
	Extract extractCmd `kong:"cmd,help='Extract an archive into a folder.'"`
	List    listCmd    `kong:"cmd,help='List the entries of an archive.'"`
}

type createCmd struct {
	Archive string   `kong:"arg,required,name=archive,type=path,help='Archive to create. Must not exist.'"`
	Paths   []string `kong:"arg,optional,name=path,type=path,help='Files and directories to add, each under its base name.'"`

	Folder     string `kong:"name=folder,type=path,help='Archive the contents of this folder at the archive root.'"`
	Method     string `kong:"name=method,enum='store,deflate,zstd',default=deflate,help='Compression method.'"`
	Level      int    `kong:"name=level,default=0,help='Compression level. 0 picks the method default.'"`
	Password   string `kong:"name=password,env=MAPZIP_PASSWORD,help='Encrypt entries with this password.'"`
	Encryption string `kong:"name=encryption,enum='zipcrypto,aes256',default=aes256,help='Encryption scheme used when a password is set.'"`
	Comment    string `kong:"name=comment,help='Archive comment.'"`
	Workers    int    `kong:"name=workers,default=0,help='Concurrent entry jobs. 0 means one per CPU.'"`
}

func (c *createCmd) Run(ctx context.Context) error {
	if c.Folder != "" && len(c.Paths) > 0 {
		return pkgerrors.New("--folder and path arguments are mutually exclusive")
	}
	if c.Folder == "" && len(c.Paths) == 0 {
		return pkgerrors.New("nothing to archive: give paths or --folder")
	}

	opts := mapzip.Options{
		Level:    c.Level,
		Password: c.Password,
		Comment:  c.Comment,
		Workers:  c.Workers,
	}
	switch c.Method {
	case "store":
		opts.Method = mapzip.Stored
	case "deflate":
		opts.Method = mapzip.Deflated
	case "zstd":
		opts.Method = mapzip.ZStandard
	}
	if c.Password != "" {
		if c.Encryption == "zipcrypto" {
			opts.Encryption = mapzip.ZipCrypto
		} else {
			opts.Encryption = mapzip.AES256
		}
	}

	start := time.Now()
	var err error
	if c.Folder != "" {
		err = mapzip.CreateFromFolderContext(ctx, c.Archive, c.Folder, opts, nil)
	} else {
		err = mapzip.CreateFromPathsContext(ctx, c.Archive, c.Paths, opts, nil)
	}
	if err != nil {
		logEntryFailures(err)
		return pkgerrors.Wrap(err, "cannot create archive")
	}

	log.Info().
		Str("archive", c.Archive).
		Dur("took", time.Since(start)).
		Msg("archive created")
	return nil
}

type extractCmd struct {
	Archive string `kong:"arg,required,name=archive,type=path,help='Archive to extract.'"`
	Dest    string `kong:"arg,optional,name=dest,type=path,default='.',help='Destination folder.'"`

	Password string `kong:"name=password,env=MAPZIP_PASSWORD,help='Password for encrypted entries.'"`
	Workers  int    `kong:"name=workers,default=0,help='Concurrent entry jobs. 0 means one per CPU.'"`
}

func (c *extractCmd) Run(ctx context.Context) error {
	opts := mapzip.Options{
		Password: c.Password,
		Workers:  c.Workers,
	}

	start := time.Now()
	report, err := mapzip.ExtractArchiveContext(ctx, c.Archive, c.Dest, opts, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "cannot extract archive")
	}

	for _, f := range report.Failed {
		log.Error().Str("entry", f.Name).Err(f.Err).Msg("entry failed")
	}
	log.Info().
		Int("extracted", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Dur("took", time.Since(start)).
		Msg("extraction finished")

	if len(report.Failed) > 0 {
		return pkgerrors.Errorf("%d entries failed", len(report.Failed))
	}
	return nil
}

type listCmd struct {
	Archive string `kong:"arg,required,name=archive,type=path,help='Archive to list.'"`
}

func (c *listCmd) Run(_ context.Context) error {
	entries, err := mapzip.ListArchive(c.Archive)
	if err != nil {
		return pkgerrors.Wrap(err, "cannot list archive")
	}

	for _, e := range entries {
		fmt.Printf("%10d  %s  %s\n", e.UncompressedSize, e.ModTime.Format("2006-01-02 15:04"), e.Name)
	}
	log.Info().Int("entries", len(entries)).Msg("done")
	return nil
}

// logEntryFailures surfaces each entry of an aggregate failure on its own
// log line before the wrapped error terminates the command.
func logEntryFailures(err error) {
	var agg *mapzip.AggregateError
	if !errors.As(err, &agg) {
		return
	}
	for _, e := range agg.Entries {
		log.Error().Str("entry", e.Name).Err(e.Err).Msg("entry failed")
	}
}

func configureLogging(c cli) {
	// Adds support for NO_COLOR. More info https://no-color.org/
	_, noColor := os.LookupEnv("NO_COLOR")

	var w io.Writer = os.Stderr
	if !c.LogJSON {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor || c.LogNoColor,
			TimeFormat: time.RFC1123,
		}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown log level")
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("mapzip"),
		kong.Description("Create, list and extract ZIP archives in parallel."),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	configureLogging(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(ctx); err != nil {
		log.Fatal().Err(err).Send()
	}
}
