// Command uploader sends media files to a mediadrop server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/mediadrop/internal/auth"
	"github.com/maneesh/mediadrop/internal/client"
	"github.com/maneesh/mediadrop/internal/config"
	"github.com/maneesh/mediadrop/internal/logging"
	"github.com/maneesh/mediadrop/internal/tracing"
	"github.com/maneesh/mediadrop/internal/upload"
)

const usage = `usage: uploader <command> [flags]

commands:
  upload [-bucket b] [-prefix p] [-session id] [-small] [-publish -title t] <file>
  status <session-id>
  assemble <session-id>
  abort <session-id>
  limits
  token [-subject s] [-scope s]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if ue, ok := upload.AsError(err); ok && ue.RetrySameSession() && ue.SessionID != "" {
			fmt.Fprintf(os.Stderr, "resume with: uploader upload -session %s <file>\n", ue.SessionID)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	if cmd == "token" {
		return runToken(args, out)
	}

	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.ServiceName, getenv("LOG_LEVEL", "info"), "text")
	slog.SetDefault(logger)

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRatio: 1,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	api := client.NewAPI(cfg.ServerURL, cfg.Token, nil, logger)

	switch cmd {
	case "upload":
		uploader, err := newUploader(cfg, api, logger)
		if err != nil {
			return err
		}
		return runUpload(ctx, uploader, args, out)
	case "status":
		id, err := sessionArg(cmd, args)
		if err != nil {
			return err
		}
		status, err := api.Status(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(out, status)
	case "assemble":
		id, err := sessionArg(cmd, args)
		if err != nil {
			return err
		}
		resp, err := api.Assemble(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	case "abort":
		id, err := sessionArg(cmd, args)
		if err != nil {
			return err
		}
		if err := api.Abort(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "session %s aborted\n", id)
		return nil
	case "limits":
		limits, err := api.Limits(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, limits)
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func newUploader(cfg *config.ClientConfig, api *client.API, logger *slog.Logger) (*client.Uploader, error) {
	fingerprints := client.NewMemoryFingerprintStore()
	if cfg.FingerprintFile != "" {
		var err error
		fingerprints, err = client.OpenFingerprintStore(cfg.FingerprintFile)
		if err != nil {
			return nil, err
		}
	}
	return client.New(api, client.Options{
		MaxRetries:          cfg.MaxRetries,
		ChunkedTimeout:      cfg.ChunkedTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		ResumableDelays:     cfg.ResumableDelays,
		Fingerprints:        fingerprints,
		AllowDirectFallback: cfg.AllowDirectFallback,
		ResumeFromServer:    cfg.ResumeFromServer,
	}, logger), nil
}

func runUpload(ctx context.Context, u *client.Uploader, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	bucket := fs.String("bucket", "", "target bucket (defaults by media type)")
	prefix := fs.String("prefix", "", "object path prefix")
	session := fs.String("session", "", "resume a chunked upload session")
	small := fs.Bool("small", false, "force a single direct request")
	publish := fs.Bool("publish", false, "create a media record after upload")
	title := fs.String("title", "", "record title (with -publish)")
	description := fs.String("description", "", "record description (with -publish)")
	quiet := fs.Bool("quiet", false, "suppress progress output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("upload needs exactly one file")
	}
	path := fs.Arg(0)

	progress := func(p float64) {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "\r%s: %5.1f%%", path, p)
			if p >= 100 {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	switch {
	case *publish:
		record, err := u.Publish(ctx, client.PublishRequest{
			Path:        path,
			Title:       *title,
			Description: *description,
			Bucket:      *bucket,
			Prefix:      *prefix,
			OnProgress:  progress,
		})
		if err != nil {
			return err
		}
		return printJSON(out, record)
	case *session != "":
		result, err := u.Resume(ctx, path, *bucket, *prefix, *session, progress)
		if err != nil {
			return err
		}
		return printJSON(out, result)
	case *small:
		result, err := u.UploadSmall(ctx, path, *bucket, *prefix)
		if err != nil {
			return err
		}
		return printJSON(out, result)
	}

	result, err := u.UploadLarge(ctx, path, *bucket, *prefix, progress)
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

// runToken mints a bearer token with the server's signing secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "uploader", "token subject")
	scope := fs.String("scope", "upload", "token scope")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}
	token, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL).Generate(*subject, *scope)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func sessionArg(cmd string, args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("%s needs a session id", cmd)
	}
	return args[0], nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
