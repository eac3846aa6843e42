// Package main provides the entry point for the voxqueue CLI.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voxbuzz/voxqueue/internal/channel"
	"github.com/voxbuzz/voxqueue/internal/chat"
	"github.com/voxbuzz/voxqueue/internal/config"
	"github.com/voxbuzz/voxqueue/internal/content"
	"github.com/voxbuzz/voxqueue/internal/media"
	"github.com/voxbuzz/voxqueue/internal/player"
	"github.com/voxbuzz/voxqueue/pkg/wavengine"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	dialogue   bool
	chatID     string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:           "voxqueue",
		Short:         "Narrate article feeds and assistant replies as one audio queue",
		SilenceErrors: false,
		SilenceUsage:  true,
	}

	narrateCmd = &cobra.Command{
		Use:   "narrate [FILE]",
		Short: "Play an article feed as a continuous narration queue",
		Long: "Reads a JSON array of articles from FILE (or stdin with \"-\") and plays\n" +
			"every line of narration in order, with a transition clip between articles.",
		Args: cobra.MaximumNArgs(1),
		RunE: runNarrate,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant and hear its replies",
		Long: "Connects to the assistant channel, prints the transcript and plays reply\n" +
			"audio as it streams in. Each stdin line names an audio file to send as a\n" +
			"voice note; \"/replay [MESSAGE]\" replays a reply.",
		Args: cobra.NoArgs,
		RunE: runChat,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()

	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("engine", "", "playback engine (wav or mock)")
	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))

	narrateCmd.Flags().BoolVarP(&dialogue, "dialogue", "d", false, "prefer two-host dialogue tracks where available")
	chatCmd.Flags().StringVar(&chatID, "chat", "default", "conversation id to join")

	rootCmd.AddCommand(narrateCmd, chatCmd, configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "voxqueue")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "voxqueue")}, dirs...)
	}
	if c := os.Getenv("VOXQUEUE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("voxqueue")
	viper.SetConfigType("yaml")
	config.SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}
	configFile = filepath.Join(dirs[0], "voxqueue.yml")
}

// setup loads the configuration and builds the playback stack shared by
// the narrate and chat commands.
func setup() (config.Config, *player.Driver, error) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return cfg, nil, err
	}

	norm := content.NewNormalizer(cfg.TransitionURL)
	return cfg, player.New(engine, norm), nil
}

func buildEngine(cfg config.Config) (player.Engine, error) {
	switch cfg.Engine {
	case "wav":
		engine, err := wavengine.New(wavengine.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("opening audio device: %w", err)
		}
		return engine, nil
	case "mock":
		return player.NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

func loadArticles(arg string) ([]content.Article, error) {
	var r io.Reader
	if arg == "" || arg == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(arg)
		if err != nil {
			return nil, fmt.Errorf("opening feed: %w", err)
		}
		defer f.Close()
		r = f
	}

	var articles []content.Article
	if err := json.NewDecoder(r).Decode(&articles); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}
	return articles, nil
}

func runNarrate(cmd *cobra.Command, args []string) error {
	_, driver, err := setup()
	if err != nil {
		return err
	}

	arg := ""
	if len(args) == 1 {
		arg = args[0]
	}
	articles, err := loadArticles(arg)
	if err != nil {
		return err
	}

	mode := content.ModeStandard
	if dialogue {
		mode = content.ModeDialogue
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	driver.OnQueueDone(func() { close(done) })
	driver.OnProjection(func(p player.Projection) {
		if p.Text == "" {
			return
		}
		if p.SpeakerLabel != "" {
			fmt.Printf("%s: %s\n", p.SpeakerLabel, p.Text)
			return
		}
		fmt.Println(p.Text)
	})
	driver.OnError(func(err error) {
		log.Warn("playback error", "error", err)
	})

	if err := driver.StartSession(ctx, articles, mode); err != nil {
		return fmt.Errorf("starting narration: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	return driver.Shutdown(context.Background())
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, driver, err := setup()
	if err != nil {
		return err
	}

	store, err := media.NewStore(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening media store: %w", err)
	}

	sock := channel.NewSocket(channel.SocketConfig{
		URL:         cfg.ChannelURL,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sock.Connect(ctx); err != nil {
		return err
	}
	defer sock.Close()

	adapter := chat.NewAdapter(driver, store, sock, chat.AdapterConfig{
		ReplayGrace: cfg.ReplayGrace,
		ChatID:      chatID,
	})
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	defer adapter.Teardown(context.Background())

	go printTranscript(ctx, adapter)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		path := scanner.Text()
		if path == "" {
			continue
		}
		if id, ok := strings.CutPrefix(path, "/replay"); ok {
			replayMessage(ctx, adapter, strings.TrimSpace(id))
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("cannot read voice note", "path", path, "error", err)
			continue
		}
		payload := base64.StdEncoding.EncodeToString(data)
		if err := adapter.SendVoiceNote(ctx, payload); err != nil {
			if errors.Is(err, channel.ErrChannelDown) {
				return err
			}
			log.Error("sending voice note", "error", err)
		}
	}
	return scanner.Err()
}

// replayMessage replays the given assistant message, or the most recent
// one when no id is given.
func replayMessage(ctx context.Context, adapter *chat.Adapter, id string) {
	if id == "" {
		for _, m := range adapter.Messages() {
			if m.Role == chat.RoleAssistant {
				id = m.ID
			}
		}
	}
	if id == "" {
		fmt.Println("nothing to replay yet")
		return
	}
	if err := adapter.Replay(ctx, id); err != nil {
		if errors.Is(err, chat.ErrNotReady) {
			fmt.Println("audio for", id, "is not available yet")
			return
		}
		log.Error("replay failed", "message", id, "error", err)
	}
}

// printTranscript echoes new transcript entries to stdout.
func printTranscript(ctx context.Context, adapter *chat.Adapter) {
	seen := 0
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs := adapter.Messages()
			for ; seen < len(msgs); seen++ {
				fmt.Printf("[%s] %s\n", msgs[seen].Role, msgs[seen].Text)
			}
		}
	}
}
