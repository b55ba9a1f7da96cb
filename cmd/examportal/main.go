package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/examportal/internal/admin"
	"github.com/pavelanni/examportal/internal/attempt"
	"github.com/pavelanni/examportal/internal/audit"
	"github.com/pavelanni/examportal/internal/catalog"
	"github.com/pavelanni/examportal/internal/handler"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/llm"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
	"github.com/pavelanni/examportal/internal/tracing"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examportal",
		Short:        "Written exam practice portal with AI grading",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd(), seedDemoCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examportal --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func commonFlags(f *pflag.FlagSet) {
	f.String("store-driver", "sqlite", "Key-value backend (sqlite, postgres, redis)")
	f.String("store-dsn", "examportal.db", "Backend DSN: file path, postgres URL or redis URL")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func archiveFlags(f *pflag.FlagSet) {
	f.String("archive-endpoint", "", "S3-compatible endpoint for export snapshots (empty disables)")
	f.String("archive-bucket", "examportal", "Bucket for export snapshots")
	f.String("archive-access-key", "", "Object store access key")
	f.String("archive-secret-key", "", "Object store secret key")
	f.Bool("archive-ssl", true, "Use TLS for the object store")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	commonFlags(f)
	archiveFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", appI18n.DefaultLang, "Default language for messages (tr, en)")
	f.String("llm-provider", "gemini", "Grading model provider (gemini, openai, anthropic)")
	f.String("llm-model", "", "Grading model name (provider default when empty)")
	f.String("llm-url", "", "Custom API base URL for openai or anthropic")
	f.String("llm-key", "", "Server default API key used when a session has none")
	f.String("admin-password", "", "Admin passphrase (or set EXAMPORTAL_ADMIN_PASSWORD)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.StringSlice("cors-origins", []string{"http://localhost:5173"}, "Allowed CORS origins")
	f.Float64("grade-rate", 0.2, "Grading submissions per second allowed per client (0 disables)")
	f.Int("grade-burst", 3, "Grading submissions a client may send in a burst")
	f.String("audit-dsn", "", "PostgreSQL DSN mirroring logs and exam results (empty disables)")
	f.String("tracing-endpoint", "", "Jaeger collector endpoint (empty disables tracing)")
	f.Bool("seed-demo", false, "Create demo students with mock history on startup")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-exams",
		Short: "Export the exam catalog as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	commonFlags(f)
	archiveFlags(f)
	f.Int64("exam-id", 0, "Export a single exam (0 = whole catalog)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-exams FILE",
		Short: "Import exams from a JSON array document",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	commonFlags(cmd.Flags())
	return cmd
}

func seedDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Create demo students with mock exam history",
		RunE:  runSeedDemo,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.Uint64("seed", 0, "Random seed for mock history (0 = time based)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examportal")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examportal")
	v.AddConfigPath("/etc/examportal")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// services are the domain objects shared by every command.
type services struct {
	store    *store.Store
	audit    *audit.Logger
	sink     audit.Sink
	catalog  *catalog.Catalog
	identity *identity.Service
}

func openServices(ctx context.Context, v *viper.Viper) (*services, error) {
	s, err := store.Open(ctx, v.GetString("store-driver"), v.GetString("store-dsn"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var sink audit.Sink = audit.NopSink{}
	if dsn := v.GetString("audit-dsn"); dsn != "" {
		pg, err := audit.NewPostgresSink(ctx, dsn)
		if err != nil {
			s.Close()
			return nil, err
		}
		sink = pg
		slog.Info("mirroring audit records to postgres")
	}
	logger := audit.NewLogger(s, sink)

	cat, err := catalog.New(s)
	if err != nil {
		sink.Close()
		s.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	id, err := identity.New(s, logger, v.GetString("admin-password"))
	if err != nil {
		sink.Close()
		s.Close()
		return nil, err
	}
	return &services{store: s, audit: logger, sink: sink, catalog: cat, identity: id}, nil
}

// Close waits for pending audit mirrors and releases the backends.
func (svc *services) Close() {
	svc.audit.Wait()
	svc.sink.Close()
	if err := svc.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

func newArchiver(ctx context.Context, v *viper.Viper) (admin.Archiver, error) {
	endpoint := v.GetString("archive-endpoint")
	if endpoint == "" {
		return nil, nil
	}
	a, err := admin.NewMinioArchiver(ctx, admin.ArchiveConfig{
		Endpoint:  endpoint,
		Bucket:    v.GetString("archive-bucket"),
		AccessKey: v.GetString("archive-access-key"),
		SecretKey: v.GetString("archive-secret-key"),
		UseSSL:    v.GetBool("archive-ssl"),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("archiving catalog exports", "endpoint", endpoint, "bucket", v.GetString("archive-bucket"))
	return a, nil
}

// cliActor is the audit identity of catalog changes made from the command line.
func cliActor() admin.Actor {
	dev := model.UnknownDevice()
	dev.UserAgent = "examportal-cli"
	return admin.Actor{Email: identity.AdminEmail, Device: dev}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	if endpoint := v.GetString("tracing-endpoint"); endpoint != "" {
		shutdown, err := tracing.Init(endpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("flush traces", "error", err)
			}
		}()
	}

	svc, err := openServices(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()

	if v.GetBool("seed-demo") {
		if _, err := svc.identity.SeedDemo(ctx, nil); err != nil {
			return fmt.Errorf("seed demo users: %w", err)
		}
	}

	gateway, err := llm.NewGateway(llm.Config{
		Provider: v.GetString("llm-provider"),
		Model:    v.GetString("llm-model"),
		BaseURL:  v.GetString("llm-url"),
	})
	if err != nil {
		return fmt.Errorf("create grading gateway: %w", err)
	}
	archiver, err := newArchiver(ctx, v)
	if err != nil {
		return fmt.Errorf("connect archive: %w", err)
	}

	h, err := handler.New(handler.Services{
		Store:    svc.store,
		Identity: svc.identity,
		Catalog:  svc.catalog,
		Flow:     attempt.New(svc.catalog, svc.store, svc.audit, gateway, v.GetString("llm-key")),
		Admin:    admin.New(svc.store, svc.catalog, svc.audit, archiver),
	}, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
		GradeRate:     v.GetFloat64("grade-rate"),
		GradeBurst:    v.GetInt("grade-burst"),
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   v.GetStringSlice("cors-origins"),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept-Language", "X-Client-Platform", "X-Screen-Resolution", "X-Connection-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(tracing.Middleware)
	r.Use(handler.Metrics)
	r.Use(appI18n.Middleware)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"store", v.GetString("store-driver"),
			"llm_provider", gateway.Name(),
			"lang", lang,
			"server_key", v.GetString("llm-key") != "",
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	svc, err := openServices(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()
	archiver, err := newArchiver(ctx, v)
	if err != nil {
		return fmt.Errorf("connect archive: %w", err)
	}
	con := admin.New(svc.store, svc.catalog, svc.audit, archiver)

	var data []byte
	if id := v.GetInt64("exam-id"); id != 0 {
		data, err = con.ExportExam(ctx, id)
	} else {
		data, err = con.ExportExams(ctx)
	}
	if err != nil {
		return fmt.Errorf("export exams: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	svc, err := openServices(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := admin.New(svc.store, svc.catalog, svc.audit, nil).ImportExams(ctx, data, cliActor())
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	for from, to := range res.Renamed {
		slog.Info("exam id taken, renumbered", "from", from, "to", to)
	}
	slog.Info("imported exams", "path", args[0], "count", len(res.Imported))
	return nil
}

func runSeedDemo(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	svc, err := openServices(ctx, v)
	if err != nil {
		return err
	}
	defer svc.Close()

	var rng *rand.Rand
	if seed := v.GetUint64("seed"); seed != 0 {
		rng = rand.New(rand.NewPCG(seed, seed))
	}
	res, err := svc.identity.SeedDemo(ctx, rng)
	if err != nil {
		return fmt.Errorf("seed demo users: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d users created, %d histories written\n", res.Users, res.Histories)
	return nil
}
