// Command cpmsrv is the long-running remote floppy controller: it
// registers itself with the host emulator as the FIF port's handler,
// serves the callback HTTP endpoint, and dispatches every command to the
// mounted units.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cpmfif/internal/bridge"
	"cpmfif/internal/cpm"
	"cpmfif/internal/cpmlog"
	"cpmfif/internal/diskmap"
	"cpmfif/internal/engine"
	"cpmfif/internal/status"
	"cpmfif/internal/version"
)

const (
	fifPort         = 0xFD
	shutdownTimeout = 5 * time.Second
)

func main() {
	var (
		hostURL     = flag.String("host", "http://imsai8080", "base URL of the host emulator's /io and /dma endpoints")
		listenAddr  = flag.String("listen", ":3000", "address the callback HTTP server listens on")
		callbackURL = flag.String("callback", "", "callback URL advertised to the host (default: http://<hostname><listen>/cpmsrv)")
		diskmapPath = flag.String("diskmap", "diskmap.json", "path to the drive-letter diskmap file")
		allowFormat = flag.Bool("allow-format", false, "allow FORMAT commands to rewrite image-backed units")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		pretty      = flag.Bool("pretty", true, "use console (vs. JSON) log formatting")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	log := cpmlog.New(os.Stderr, cpmlog.ParseLevel(*logLevel), *pretty)

	cb := *callbackURL
	if cb == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		cb = fmt.Sprintf("http://%s%s/cpmsrv", host, *listenAddr)
	}

	client := bridge.New(*hostURL)
	eng := engine.New(client, log, *allowFormat)
	go eng.Run()

	if err := mountDiskmap(eng, *diskmapPath, log); err != nil {
		log.Fatal().Err(err).Msg("corrupt diskmap")
	}

	handler := bridge.NewCallbackHandler(fifPort, eng.HandleWrite, eng.HandleBulk)
	mux := http.NewServeMux()
	mux.Handle("/cpmsrv", handler)
	mux.HandleFunc("/cpmsrv/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status.Snapshot(eng))
	})
	mux.HandleFunc("/cpmsrv/status/files", func(w http.ResponseWriter, r *http.Request) {
		handleStatusFiles(w, r, eng)
	})
	mux.HandleFunc("/cpmsrv/unmount", func(w http.ResponseWriter, r *http.Request) {
		handleUnmount(w, r, eng, log)
	})
	mux.HandleFunc("/cpmsrv/diskmap/save", func(w http.ResponseWriter, r *http.Request) {
		handleDiskmapSave(w, r, eng, *diskmapPath, log)
	})
	mux.HandleFunc("/cpmsrv/diskmap/reload", func(w http.ResponseWriter, r *http.Request) {
		handleDiskmapReload(w, r, eng, *diskmapPath, log)
	})
	srv := &http.Server{Addr: *listenAddr, Handler: mux}

	_ = client.Deregister(fifPort)
	if err := client.Register(fifPort, cb); err != nil {
		log.Fatal().Err(err).Msg("host registration failed")
	}
	log.Info().Str("callback", cb).Msg("registered with host")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		_ = client.Deregister(fifPort)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		eng.Stop()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("callback server failed")
	}
}

// mountDiskmap loads path and mounts every entry it names, matching
// process_diskmap's dispatch: a letter absent from the map stays LOCAL so
// the host handles that unit itself.
func mountDiskmap(eng *engine.Engine, path string, log zerolog.Logger) error {
	dm, err := diskmap.Load(path)
	if err != nil {
		return err
	}
	if err := eng.ReloadDiskmap(dm, dpbFor); err != nil {
		return err
	}
	for letter, backing := range dm {
		log.Info().Str("drive", letter).Int("unit", diskmap.UnitOf[letter]).Str("path", backing).Msg("mounted from diskmap")
	}
	return nil
}

// handleUnmount drops one unit back to an unmounted state without
// restarting the process, the HTTP surface for the original's `^U`
// keypress.
func handleUnmount(w http.ResponseWriter, r *http.Request, eng *engine.Engine, log zerolog.Logger) {
	unit, err := strconv.Atoi(r.URL.Query().Get("unit"))
	if err != nil {
		http.Error(w, "bad or missing unit", http.StatusBadRequest)
		return
	}
	if _, ok := eng.Snapshot(unit); !ok {
		http.Error(w, "unit not mounted", http.StatusNotFound)
		return
	}
	eng.Unmount(unit)
	log.Info().Int("unit", unit).Msg("unmounted")
	w.WriteHeader(http.StatusOK)
}

// handleDiskmapSave persists the live drive-letter mapping back to path,
// the HTTP surface for the original's `^P` hot-save keypress.
func handleDiskmapSave(w http.ResponseWriter, r *http.Request, eng *engine.Engine, path string, log zerolog.Logger) {
	dm := eng.CurrentDiskmap()
	if err := diskmap.Save(path, dm); err != nil {
		log.Warn().Err(err).Msg("diskmap save failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().Str("path", path).Msg("diskmap saved")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dm)
}

// handleDiskmapReload re-reads path and remounts drives to match it, the
// HTTP surface for the original's `^R` hot-reload keypress.
func handleDiskmapReload(w http.ResponseWriter, r *http.Request, eng *engine.Engine, path string, log zerolog.Logger) {
	dm, err := diskmap.Load(path)
	if err != nil {
		log.Warn().Err(err).Msg("diskmap reload: load failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := eng.ReloadDiskmap(dm, dpbFor); err != nil {
		log.Warn().Err(err).Msg("diskmap reload: mount failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().Str("path", path).Msg("diskmap reloaded")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dm)
}

// handleStatusFiles lists the native files backing one user area of a
// directory-backed unit, the describe endpoint's per-user file listing
// (internal/status.ListUserArea) surfaced over HTTP instead of the dropped
// curses TUI.
func handleStatusFiles(w http.ResponseWriter, r *http.Request, eng *engine.Engine) {
	q := r.URL.Query()
	unit, err := strconv.Atoi(q.Get("unit"))
	if err != nil {
		http.Error(w, "bad or missing unit", http.StatusBadRequest)
		return
	}
	user, err := strconv.Atoi(q.Get("user"))
	if err != nil || user < 0 || user > 15 {
		http.Error(w, "bad or missing user (0-15)", http.StatusBadRequest)
		return
	}

	u, ok := eng.Snapshot(unit)
	if !ok || u.Kind != engine.KindDir {
		http.Error(w, "unit not mounted as a directory-backed drive", http.StatusNotFound)
		return
	}

	files, err := status.ListUserArea(u.RootPath, user)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(files)
}

// dpbFor infers disk geometry from the backing path: a regular file's size
// distinguishes the HDD image shape from the floppy shape; a directory
// defaults to the floppy DPB, matching the original's single global dpb
// (it only ever used the 8" floppy shape for directory-backed units).
func dpbFor(path string) cpm.DPB {
	fi, err := os.Stat(path)
	if err != nil {
		return cpm.Floppy8
	}
	if fi.Mode().IsRegular() && fi.Size() == cpm.HDD.ByteSize() {
		return cpm.HDD
	}
	return cpm.Floppy8
}
