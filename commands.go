package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"make_real/canvas"
	"make_real/config"
	"make_real/makereal"
	"make_real/preview"
	"make_real/publisher"
	"make_real/raster"
	"make_real/server"
	"make_real/snapshot"
	"make_real/storage"
)

func newRasterizer(cfg *config.Config, logger *slog.Logger) (*raster.ChromeRasterizer, error) {
	return raster.NewChrome(raster.Config{
		RemoteURL: cfg.Raster.ChromeURL,
		Timeout:   cfg.Raster.Timeout,
		MaxSize:   cfg.Raster.MaxSize,
	}, logger)
}

func newPipeline(cfg *config.Config, logger *slog.Logger) (*makereal.Pipeline, error) {
	factory, err := buildLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}
	opts := []makereal.Option{
		makereal.WithObserver(func(id canvas.ShapeID, s makereal.State) {
			logger.Debug("make real state", "shape", id, "state", s.String())
		}),
	}
	if cfg.LLM.MaxTokens > 0 {
		opts = append(opts, makereal.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	if cfg.Raster.MaxSize > 0 {
		opts = append(opts, makereal.WithMaxImageSize(float64(cfg.Raster.MaxSize)))
	}
	return makereal.New(factory, logger, opts...), nil
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and browser client",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		noBrowser, _ := cmd.Flags().GetBool("no-browser")

		cfg, logger, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()
		if addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		bridge := snapshot.NewBridge(cfg.Snapshot.Timeout, logger)
		hub := snapshot.NewHub(bridge, cfg.Server.AllowedOrigins, logger)
		defer hub.Close()
		util := preview.NewUtil(bridge, logger)
		reg, err := canvas.NewRegistry(util)
		if err != nil {
			return err
		}

		var rast canvas.Rasterizer
		if !noBrowser {
			chrome, err := newRasterizer(cfg, logger)
			if err != nil {
				// 没有浏览器时仍可浏览和编辑，只是无法 make real
				logger.Warn("rasterizer unavailable; make real will fail to capture", "error", err)
			} else {
				defer chrome.Close()
				rast = chrome
			}
		}

		pipeline, err := newPipeline(cfg, logger)
		if err != nil {
			return err
		}
		srv, err := server.New(server.Deps{
			Pipeline:      pipeline,
			Registry:      reg,
			Preview:       util,
			Raster:        rast,
			Store:         store,
			Hub:           hub,
			Logger:        logger,
			RatePerMinute: cfg.Server.RatePerMinute,
		})
		if err != nil {
			return err
		}

		httpSrv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: srv.Routes(),
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", "addr", cfg.Server.Addr, "provider", cfg.LLM.Provider)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run make real once on a wireframe file",
	Long: `Run make real once on a wireframe file and print the generated HTML.

The wireframe file is a JSON array of shapes. Without --select every
top-level shape is selected.

Examples:
  make_real generate --file login.json
  make_real generate --file login.json --select shape:a,shape:b --copy
  make_real generate --file login.json --out ./site`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		selectIDs, _ := cmd.Flags().GetStringSlice("select")
		apiKey, _ := cmd.Flags().GetString("api-key")
		dark, _ := cmd.Flags().GetBool("dark")
		copyOut, _ := cmd.Flags().GetBool("copy")
		outDir, _ := cmd.Flags().GetString("out")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		cfg, logger, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		util := preview.NewUtil(nil, logger)
		reg, err := canvas.NewRegistry(util)
		if err != nil {
			return err
		}
		doc := canvas.NewDocument("cli", reg, nil, logger)
		selection, err := loadWireframe(file, doc, selectIDs)
		if err != nil {
			return err
		}

		chrome, err := newRasterizer(cfg, logger)
		if err != nil {
			return fmt.Errorf("starting rasterizer: %w", err)
		}
		defer chrome.Close()

		pipeline, err := newPipeline(cfg, logger)
		if err != nil {
			return err
		}
		editor := canvas.NewEditor(doc, chrome,
			canvas.WithSelection(selection...),
			canvas.WithPreferences(canvas.Preferences{IsDarkMode: dark}),
			canvas.WithToasts(func(t canvas.Toast) {
				fmt.Fprintf(os.Stderr, "%s %s\n", t.Title, t.Description)
			}),
		)

		id, err := pipeline.Run(cmd.Context(), editor, makereal.Settings{APIKey: apiKey})
		if err != nil {
			editor.AddToast(makereal.ErrorToast(err))
			return err
		}
		shape, _ := doc.Shape(id)
		fmt.Fprintln(cmd.OutOrStdout(), shape.Props.HTML)

		if copyOut {
			text, toast := util.Copy(&shape)
			if err := clipboard.WriteAll(text); err != nil {
				return fmt.Errorf("copy to clipboard: %w", err)
			}
			editor.AddToast(toast)
		}
		if outDir != "" {
			res, err := publisher.New(logger).Publish(cmd.Context(), publisher.PublishParams{
				DocumentID: doc.ID,
				Shape:      shape,
				OutDir:     outDir,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "wrote %d files to %s\n", len(res.Files), res.Dir)
		}
		return nil
	},
}

// loadWireframe reads a JSON array of shapes into doc and returns the ids
// to select.
func loadWireframe(path string, doc *canvas.Document, selectIDs []string) ([]canvas.ShapeID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wireframe: %w", err)
	}
	var shapes []canvas.Shape
	if err := json.Unmarshal(data, &shapes); err != nil {
		return nil, fmt.Errorf("parsing wireframe: %w", err)
	}
	for _, s := range shapes {
		if _, err := doc.CreateShape(s); err != nil {
			return nil, err
		}
	}

	var ids []canvas.ShapeID
	if len(selectIDs) > 0 {
		for _, id := range selectIDs {
			if _, ok := doc.Shape(canvas.ShapeID(id)); !ok {
				return nil, fmt.Errorf("select %s: %w", id, canvas.ErrShapeNotFound)
			}
			ids = append(ids, canvas.ShapeID(id))
		}
		return ids, nil
	}
	for _, s := range doc.Shapes() {
		if s.ParentID == "" {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored preview to disk as a standalone site",
	Long: `Write a stored preview to disk as a standalone site.

Examples:
  make_real export --doc default --shape shape:1234 --out ./site
  make_real export --doc default --shape shape:1234 --out ./site --image`,
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")
		shapeID, _ := cmd.Flags().GetString("shape")
		outDir, _ := cmd.Flags().GetString("out")
		withImage, _ := cmd.Flags().GetBool("image")
		if shapeID == "" || outDir == "" {
			return fmt.Errorf("--shape and --out are required")
		}

		cfg, logger, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		shapes, err := store.LoadShapes(docID)
		if err != nil {
			return err
		}
		var shape *canvas.Shape
		for i := range shapes {
			if string(shapes[i].ID) == shapeID {
				shape = &shapes[i]
				break
			}
		}
		if shape == nil {
			return fmt.Errorf("shape %s in document %s: %w", shapeID, docID, canvas.ErrShapeNotFound)
		}

		params := publisher.PublishParams{DocumentID: docID, Shape: *shape, OutDir: outDir}
		if withImage && shape.Props.HTML != "" {
			chrome, err := newRasterizer(cfg, logger)
			if err != nil {
				return fmt.Errorf("starting rasterizer: %w", err)
			}
			defer chrome.Close()
			img, err := chrome.RenderHTML(cmd.Context(), shape.Props.HTML, int(shape.Props.W), int(shape.Props.H), canvas.FormatJPEG)
			if err != nil {
				return err
			}
			params.Image = &img
		}

		res, err := publisher.New(logger).Publish(cmd.Context(), params)
		if err != nil {
			return err
		}
		for _, f := range res.Files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Bool("no-browser", false, "do not start the headless browser")

	generateCmd.Flags().String("file", "", "wireframe JSON file")
	generateCmd.Flags().StringSlice("select", nil, "shape ids to select (default: all top-level shapes)")
	generateCmd.Flags().String("api-key", "", "OpenAI API key (overrides config)")
	generateCmd.Flags().Bool("dark", false, "ask for a dark design")
	generateCmd.Flags().Bool("copy", false, "copy the generated HTML to the clipboard")
	generateCmd.Flags().String("out", "", "also write the result to this directory")

	exportCmd.Flags().String("doc", "default", "document id")
	exportCmd.Flags().String("shape", "", "preview shape id")
	exportCmd.Flags().String("out", "", "output directory")
	exportCmd.Flags().Bool("image", false, "render preview.jpg with the headless browser")
}
