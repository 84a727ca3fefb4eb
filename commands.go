package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"genrecorpus/acquisition"
	"genrecorpus/audio"
	"genrecorpus/config"
	"genrecorpus/corpus"
	"genrecorpus/database"
	"genrecorpus/progress"
	"genrecorpus/sentry"
	"genrecorpus/server"
	"genrecorpus/spotify"
	"genrecorpus/youtube"
)

type flags struct {
	genres          []string
	count           int
	threads         int
	segmentDuration int
}

// apply overrides config values with flags the user set.
func (f *flags) apply(cmd *cobra.Command) {
	if cmd.Flags().Changed("count") && f.count > 0 {
		config.Config.Spotify.SongsPerGenre = f.count
	}
	if cmd.Flags().Changed("threads") && f.threads > 0 {
		config.Config.Acquisition.Threads = f.threads
	}
	if cmd.Flags().Changed("segment-duration") && f.segmentDuration > 0 {
		config.Config.Acquisition.SegmentDuration = f.segmentDuration
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:           "genrecorpus",
		Short:         "Build a genre-labelled audio clip corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			f.apply(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringSliceVarP(&f.genres, "genre", "g", nil, "Genre to collect (repeatable)")
	rootCmd.PersistentFlags().IntVar(&f.count, "count", 0, "Titles per genre (SONGS_PER_GENRE)")
	rootCmd.PersistentFlags().IntVar(&f.threads, "threads", 0, "Concurrent acquisition workers (THREADS)")
	rootCmd.PersistentFlags().IntVar(&f.segmentDuration, "segment-duration", 0, "Clip length in seconds (SEGMENT_DURATION)")

	rootCmd.AddCommand(newCollectCommand(f))
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newAcquireCommand())
	rootCmd.AddCommand(newRunCommand(f))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newLabelsCommand())

	return rootCmd
}

func newCollectCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Fetch catalog titles for each genre into the progress file",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := lockedStore()
			if err != nil {
				return err
			}
			defer store.Unlock()
			return runCollect(cmd, store, f.genres)
		},
	}
}

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Resolve collected titles to media URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := lockedStore()
			if err != nil {
				return err
			}
			defer store.Unlock()
			return runResolve(cmd, store)
		},
	}
}

func newAcquireCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "acquire",
		Short: "Download and segment every resolved title",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := lockedStore()
			if err != nil {
				return err
			}
			defer store.Unlock()
			return runAcquire(cmd, store)
		},
	}
}

func newRunCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Collect, resolve and acquire in one go",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := lockedStore()
			if err != nil {
				return err
			}
			defer store.Unlock()

			// genres that failed to collect do not block the others
			collectErr := runCollect(cmd, store, f.genres)
			var skipped *skippedGenresError
			if collectErr != nil && !errors.As(collectErr, &skipped) {
				return collectErr
			}
			if collectErr != nil {
				log.Warn(collectErr)
			}
			if err := runResolve(cmd, store); err != nil {
				return err
			}
			if err := runAcquire(cmd, store); err != nil {
				return err
			}
			return collectErr
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print progress of every stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, closeLedger, err := statusServer()
			if err != nil {
				return err
			}
			defer closeLedger()

			status, err := srv.Collect(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, g := range status.Genres {
				state := ""
				if !g.Sealed {
					state = " (interrupted)"
				}
				fmt.Fprintf(out, "%-20s %4d/%-4d resolved%s\n", g.Genre, g.Resolved, g.Titles, state)
			}
			fmt.Fprintf(out, "%d/%d titles resolved, %d clips in %s\n",
				status.Resolved, status.Titles, status.Clips,
				config.Config.Paths.SegmentDir(config.Config.Acquisition.SegmentDuration))
			if run := status.LatestRun; run != nil {
				fmt.Fprintf(out, "last acquisition %s: %d ok, %d failed, %s, %d segments\n",
					run.RunID, run.OK, run.Failed, run.Bytes, run.Segments)
			}
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, closeLedger, err := statusServer()
			if err != nil {
				return err
			}
			defer closeLedger()

			port := config.Config.Options.StatusPort
			httpServer := &http.Server{
				Addr:    ":" + port,
				Handler: srv.Router(sentry.GetSentryGin()),
			}
			go func() {
				<-cmd.Context().Done()
				httpServer.Close()
			}()

			log.Infof("Starting status server on :%s", port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return cmd.Context().Err()
		},
	}
}

func newLabelsCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Write a CSV manifest of clips and their genre labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}
			_, err := corpus.Run(cmd.Context(), acquisition.OSStorage{}, corpus.Labels{}, corpus.NewCSVWriter(out), corpus.Options{
				Dir:         config.Config.Paths.SegmentDir(config.Config.Acquisition.SegmentDuration),
				Ext:         config.Config.Acquisition.MediaExt,
				Concurrency: config.Config.Acquisition.Threads,
			})
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "CSV file to write, - for stdout")
	return cmd
}

func lockedStore() (*progress.Store, error) {
	store := progress.NewStore(config.Config.Paths.ProgressFile)
	if err := store.Lock(); err != nil {
		return nil, err
	}
	return store, nil
}

func runCollect(cmd *cobra.Command, store *progress.Store, genres []string) error {
	if len(genres) == 0 {
		return errors.New("no genres given, use --genre")
	}
	ctx := cmd.Context()
	client, err := spotify.NewClient(ctx, spotify.Credentials{
		ClientID:     config.Config.Spotify.ClientID,
		ClientSecret: config.Config.Spotify.ClientSecret,
	}, config.Config.Options.RequestTimeout)
	if err != nil {
		return err
	}
	return collect(ctx, store, client, genres, config.Config.Spotify.SongsPerGenre)
}

func runResolve(cmd *cobra.Command, store *progress.Store) error {
	searcher := youtube.NewSearchClient("", config.Config.Options.RequestTimeout)
	_, err := resolve(cmd.Context(), store, searcher, config.Config.Youtube.APIKeys)
	return err
}

func runAcquire(cmd *cobra.Command, store *progress.Store) error {
	records, err := store.Load()
	if err != nil {
		return err
	}

	acq := config.Config.Acquisition
	paths := config.Config.Paths
	storage := acquisition.OSStorage{}
	segmentDir := paths.SegmentDir(acq.SegmentDuration)
	for _, dir := range []string{paths.OriginalDir(), segmentDir} {
		if err := storage.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	var recorder acquisition.Recorder
	if paths.LedgerEnabled() {
		ledger, err := database.Open(paths.LedgerPath)
		if err != nil {
			return err
		}
		defer ledger.Close()
		recorder = ledger
	}

	segmenter := audio.NewSegmenter(audio.SegmenterOptions{
		FFmpegPath: acq.FFmpegPath,
		Dir:        segmentDir,
		MediaExt:   acq.MediaExt,
		SegmentExt: acq.SegmentExt,
		Timeout:    acq.TranscodeTimeout,
	})
	scheduler := acquisition.NewScheduler(storage, youtube.NewDownloader(), segmenter, recorder, acquisition.Options{
		OriginalDir:     paths.OriginalDir(),
		MediaExt:        acq.MediaExt,
		SegmentDuration: acq.SegmentDuration,
		Concurrency:     acq.Threads,
		DownloadTimeout: acq.DownloadTimeout,
		ShowBar:         acquisition.StderrIsTerminal(),
	})

	summary, err := scheduler.Run(cmd.Context(), records)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		log.Warnf("%d of %d songs failed, re-run acquire to retry them", summary.Failed, summary.Total)
	}
	return nil
}

// statusServer wires the status view. The returned func closes the ledger.
func statusServer() (*server.Server, func(), error) {
	paths := config.Config.Paths
	acq := config.Config.Acquisition
	store := progress.NewStore(paths.ProgressFile)
	clips := func() (int, error) {
		return acquisition.CountClips(acquisition.OSStorage{}, paths.SegmentDir(acq.SegmentDuration), acq.MediaExt)
	}

	if !paths.LedgerEnabled() {
		return server.New(store, nil, clips), func() {}, nil
	}
	ledger, err := database.Open(paths.LedgerPath)
	if err != nil {
		return nil, nil, err
	}
	return server.New(store, ledger, clips), func() { ledger.Close() }, nil
}
