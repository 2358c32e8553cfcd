package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"livetrans/notify"
	"livetrans/session"
	"livetrans/store"
	"livetrans/stt"
	"livetrans/translate"
	"livetrans/web"
	"livetrans/ws"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(translateCmd)

	rootCmd.PersistentFlags().
		String("deepgram-api-key", "", "Deepgram API key")
	rootCmd.PersistentFlags().
		String("translator-key", "", "Azure Translator API key")
	rootCmd.PersistentFlags().
		String("translator-region", "", "Azure Translator region")
	rootCmd.PersistentFlags().
		String("source-language", "si", "Spoken language fed to recognition")
	rootCmd.PersistentFlags().
		String("target-language", "en", "Language translations are produced in")
	rootCmd.PersistentFlags().Int("http-port", 8765, "HTTP server port")
	rootCmd.PersistentFlags().Int("sample-rate", 16000, "PCM sample rate in Hz")
	rootCmd.PersistentFlags().
		String("db-path", "livetrans.db", "Path to the sqlite transcript archive")
	rootCmd.PersistentFlags().
		String("webhook-url", "", "Optional webhook for final transcriptions")

	viper.BindPFlag(
		"deepgram_api_key",
		rootCmd.PersistentFlags().Lookup("deepgram-api-key"),
	)
	viper.BindPFlag(
		"translator_key",
		rootCmd.PersistentFlags().Lookup("translator-key"),
	)
	viper.BindPFlag(
		"translator_region",
		rootCmd.PersistentFlags().Lookup("translator-region"),
	)
	viper.BindPFlag(
		"source_language",
		rootCmd.PersistentFlags().Lookup("source-language"),
	)
	viper.BindPFlag(
		"target_language",
		rootCmd.PersistentFlags().Lookup("target-language"),
	)
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("sample_rate", rootCmd.PersistentFlags().Lookup("sample-rate"))
	viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db-path"))
	viper.BindPFlag("webhook_url", rootCmd.PersistentFlags().Lookup("webhook-url"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "livetrans",
	Short: "Live transcription and translation over websockets",
	Long:  `livetrans accepts PCM16 audio over websockets, transcribes it as it arrives, and translates each finished utterance.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcription server",
	Run:   runServe,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List archived transcriptions in a table",
	Run:   runSessions,
}

var translateCmd = &cobra.Command{
	Use:   "translate <text>",
	Short: "Translate a single phrase",
	Long:  `Translate one phrase using the configured translator, for checking credentials and language settings.`,
	Args:  cobra.ExactArgs(1),
	Run:   runTranslate,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, xlatLogger, sockLogger, dataLogger := createLoggers()

	deepgramKey := viper.GetString("deepgram_api_key")
	if deepgramKey == "" {
		mainLogger.Fatal("missing DEEPGRAM_API_KEY or --deepgram-api-key=")
	}

	translatorKey := viper.GetString("translator_key")
	if translatorKey == "" {
		mainLogger.Fatal("missing TRANSLATOR_KEY or --translator-key=")
	}

	recognition, err := stt.NewDeepgramClient(
		deepgramKey,
		viper.GetInt("sample_rate"),
		hearLogger,
	)
	if err != nil {
		mainLogger.Fatal("create deepgram client", "error", err.Error())
	}

	translator := translate.NewAzureClient(
		translatorKey,
		viper.GetString("translator_region"),
		xlatLogger,
	)

	archive, err := store.Open(viper.GetString("db_path"), dataLogger)
	if err != nil {
		mainLogger.Fatal("open transcript archive", "error", err.Error())
	}
	defer archive.Close()

	sinks := notify.Fanout{archive}
	var webhook *notify.WebhookSink
	if url := viper.GetString("webhook_url"); url != "" {
		webhook = notify.NewWebhookSink(url, dataLogger)
		sinks = append(sinks, webhook)
	}

	registry := session.NewRegistry(
		recognition,
		translator,
		sinks,
		session.Config{
			SourceLanguage: viper.GetString("source_language"),
			TargetLanguage: viper.GetString("target_language"),
		},
		mainLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go registry.Run(ctx, session.DefaultSweepInterval)

	router := web.NewServer(registry, archive, mainLogger).
		Router(ws.NewHandler(registry, sockLogger))

	port := viper.GetInt("http_port")
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		mainLogger.Info("listening",
			"url", fmt.Sprintf("http://localhost:%d", port),
			"source", viper.GetString("source_language"),
			"target", viper.GetString("target_language"))
		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			mainLogger.Fatal("start HTTP server", "error", err.Error())
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	mainLogger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	cancel()
	if webhook != nil {
		webhook.Close()
	}
}

func runSessions(cmd *cobra.Command, args []string) {
	mainLogger, _, _, _, dataLogger := createLoggers()

	archive, err := store.Open(viper.GetString("db_path"), dataLogger)
	if err != nil {
		mainLogger.Fatal("open transcript archive", "error", err.Error())
	}
	defer archive.Close()

	results, err := archive.Recent(context.Background(), 100)
	if err != nil {
		mainLogger.Fatal("fetch transcriptions", "error", err.Error())
	}

	if len(results) == 0 {
		fmt.Println("No transcriptions found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Session", "At", "Original", "Translated"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, r := range results {
		translated := r.Translated.Text
		if r.TranslationFailed {
			translated = "(translation unavailable)"
		}
		table.Append([]string{
			r.SessionID,
			r.Timestamp.Format("2006-01-02 15:04:05"),
			r.Original.Text,
			translated,
		})
	}

	table.Render()
}

func runTranslate(cmd *cobra.Command, args []string) {
	mainLogger, _, xlatLogger, _, _ := createLoggers()

	translatorKey := viper.GetString("translator_key")
	if translatorKey == "" {
		mainLogger.Fatal("missing TRANSLATOR_KEY or --translator-key=")
	}

	translator := translate.NewAzureClient(
		translatorKey,
		viper.GetString("translator_region"),
		xlatLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	translated, err := translator.Translate(
		ctx,
		args[0],
		viper.GetString("source_language"),
		viper.GetString("target_language"),
	)
	if err != nil {
		mainLogger.Fatal("translate", "error", err.Error())
	}

	fmt.Println(translated)
}

func createLoggers() (mainLogger, hearLogger, xlatLogger, sockLogger, dataLogger *log.Logger) {
	logger.SetLevel(log.DebugLevel)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	hearLogger = logger.With().WithPrefix("hear")
	xlatLogger = logger.With().WithPrefix("xlat")
	sockLogger = logger.With().WithPrefix("sock")
	dataLogger = logger.With().WithPrefix("data")

	return
}
