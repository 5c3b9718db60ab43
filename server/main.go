// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/curioswitch/go-curiostack/server"
	"github.com/curioswitch/go-usegcp/middleware/firebaseauth"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/genai"

	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/config"
	"github.com/curioswitch/clinicchat/server/internal/handler/bindidentity"
	"github.com/curioswitch/clinicchat/server/internal/handler/createroom"
	"github.com/curioswitch/clinicchat/server/internal/handler/deleteroom"
	"github.com/curioswitch/clinicchat/server/internal/handler/joinroom"
	"github.com/curioswitch/clinicchat/server/internal/handler/markread"
	"github.com/curioswitch/clinicchat/server/internal/handler/sendmessage"
	"github.com/curioswitch/clinicchat/server/internal/handler/session"
	"github.com/curioswitch/clinicchat/server/internal/handler/summarize"
	"github.com/curioswitch/clinicchat/server/internal/handler/uploadimage"
	"github.com/curioswitch/clinicchat/server/internal/httpapi"
	"github.com/curioswitch/clinicchat/server/internal/i18n"
	"github.com/curioswitch/clinicchat/server/internal/identity"
	"github.com/curioswitch/clinicchat/server/internal/imageintake"
	"github.com/curioswitch/clinicchat/server/internal/llm"
	"github.com/curioswitch/clinicchat/server/internal/messages"
	"github.com/curioswitch/clinicchat/server/internal/notifier"
	"github.com/curioswitch/clinicchat/server/internal/rooms"
	"github.com/curioswitch/clinicchat/server/internal/store"
	"github.com/curioswitch/clinicchat/server/internal/summarizer"
)

//go:embed conf/*.yaml
var confFiles embed.FS

func main() {
	conf, _ := fs.Sub(confFiles, "conf")
	os.Exit(server.Main(&config.Config{}, conf, setupServer))
}

func setupServer(ctx context.Context, conf *config.Config, s *server.Server) error {
	mux := server.Mux(s)

	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: conf.Google.Project})
	if err != nil {
		return fmt.Errorf("main: create firebase app: %w", err)
	}

	fbAuth, err := fbApp.Auth(ctx)
	if err != nil {
		return fmt.Errorf("main: create firebase auth client: %w", err)
	}

	var db store.Store
	switch conf.Store.Backend {
	case "memory":
		slog.WarnContext(ctx, "main: using in-memory store, data is lost on restart")
		db = store.NewMemory()
	case "firestore", "":
		firestore, err := fbApp.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("main: create firestore client: %w", err)
		}
		defer func() {
			if err := firestore.Close(); err != nil {
				slog.ErrorContext(ctx, "main: close firestore client", "error", err)
			}
		}()
		db = store.NewFirestore(firestore)
	default:
		return fmt.Errorf("main: unknown store backend %q", conf.Store.Backend)
	}

	var uploader imageintake.Uploader
	if conf.Images.Bucket != "" {
		storage, err := gcs.NewGRPCClient(ctx)
		if err != nil {
			return fmt.Errorf("main: create storage client: %w", err)
		}
		defer func() {
			if err := storage.Close(); err != nil {
				slog.ErrorContext(ctx, "main: close storage client", "error", err)
			}
		}()
		uploader = imageintake.NewBucketUploader(storage, conf.Images.Bucket)
	}

	gen, err := newGenerator(ctx, conf.Summarizer)
	if err != nil {
		return err
	}

	var notify notifier.Notifier = notifier.Nop{}
	if conf.Notifier.Endpoint != "" {
		n := notifier.NewHTTP(http.DefaultClient, conf.Notifier.Endpoint, conf.Notifier.Timeout)
		defer n.Close()
		notify = n
	}

	directory, err := rooms.NewDirectory(db)
	if err != nil {
		return fmt.Errorf("main: create room directory: %w", err)
	}
	binder := identity.NewBinder(db)
	stream := messages.NewStream(db, notify)
	sum := summarizer.New(gen)
	intake := imageintake.New(uploader, conf.Images.MaxWidth, conf.Images.Quality)

	policy := auth.NewAccessPolicy(conf.Access.EmailDomain, conf.Authorization.EmailsCSV)

	fbMW := firebaseauth.NewMiddleware(fbAuth)
	requireAccess := auth.Middleware(auth.FirebaseAuthToken, policy)

	mux.Use(middleware.Maybe(func(h http.Handler) http.Handler {
		return fbMW(requireAccess(h))
	}, func(r *http.Request) bool {
		switch {
		case strings.HasPrefix(r.URL.Path, "/internal/"):
			return false
		case r.URL.Path == "/api/session":
			// Authenticated with a query parameter below.
			return false
		default:
			return true
		}
	}))

	mux.Use(i18n.Middleware())

	httpapi.Handle(mux, "/api/bindUser", bindidentity.NewHandler(binder).BindUser)
	httpapi.Handle(mux, "/api/createRoom", createroom.NewHandler(directory).CreateRoom)
	httpapi.Handle(mux, "/api/joinRoom", joinroom.NewHandler(directory).JoinRoom)
	httpapi.Handle(mux, "/api/deleteRoom", deleteroom.NewHandler(directory).DeleteRoom)
	httpapi.Handle(mux, "/api/sendMessage", sendmessage.NewHandler(binder, stream).SendMessage)
	httpapi.Handle(mux, "/api/markRead", markread.NewHandler(stream).MarkRead)
	httpapi.Handle(mux, "/api/summarize", summarize.NewHandler(stream, sum).Summarize)
	httpapi.Handle(mux, "/api/uploadImage", uploadimage.NewHandler(intake).UploadImage)

	mux.With(auth.Middleware(auth.QueryToken(fbAuth), policy)).
		Get("/api/session", session.NewHandler(binder, directory, stream, sum).ServeHTTP)

	if err := server.Start(ctx, s); err != nil {
		return fmt.Errorf("main: starting server: %w", err)
	}
	return nil
}

func newGenerator(ctx context.Context, conf config.Summarizer) (llm.Generator, error) {
	if conf.APIKey == "" {
		slog.WarnContext(ctx, "main: no summarizer api key, summaries will report missing credentials")
		return llm.Unconfigured{}, nil
	}

	switch conf.Provider {
	case "gemini", "":
		genAI, err := genai.NewClient(ctx, &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  conf.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("main: creating genai client: %w", err)
		}
		model := conf.Model
		if model == "" {
			model = "gemini-2.5-flash"
		}
		return llm.NewGenAI(genAI, model), nil
	case "openai":
		oai := openai.NewClient(option.WithAPIKey(conf.APIKey))
		model := conf.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return llm.NewOpenAI(&oai, model), nil
	default:
		return nil, fmt.Errorf("main: unknown summarizer provider %q", conf.Provider)
	}
}
