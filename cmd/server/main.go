package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cowrite/backend/internal/api"
	"github.com/cowrite/backend/internal/autosave"
	"github.com/cowrite/backend/internal/db"
	"github.com/cowrite/backend/internal/gate"
	"github.com/cowrite/backend/internal/ws"
)

func main() {
	dbPath := os.Getenv("COWRITE_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/cowrite.db"
	}

	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize version archive: %v", err)
	}
	defer database.Close()

	hub := ws.NewHub(gate.NewPolicy())
	go hub.Run()

	saver := autosave.New(hub, database, autosaveConfig())
	saver.Start()

	apiHandler := api.New(hub, database)
	router := apiHandler.Routes()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	handler := corsMiddleware(router)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		saver.Stop()
		database.Close()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Cowrite server starting on :%s", port)
	log.Printf("Version archive: %s", dbPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?room={roomId}&author={authorId}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET/POST /api/rooms, GET/DELETE /api/rooms/{id}")
	log.Println("  - Snapshot:  GET /api/rooms/{id}/snapshot")
	log.Println("  - Reset:     POST /api/rooms/{id}/reset")
	log.Println("  - Policy:    PUT /api/rooms/{id}/policy")
	log.Println("  - Versions:  GET/POST /api/rooms/{id}/versions")
	log.Println("  - Version:   GET/DELETE /api/versions/{id}")
	log.Println("  - Diff:      GET /api/versions/diff?from=X&to=Y")
	log.Println("  - Restore:   POST /api/versions/{id}/restore")

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func autosaveConfig() autosave.Config {
	config := autosave.DefaultConfig()
	if v := os.Getenv("COWRITE_AUTOSAVE_INTERVAL"); v != "" {
		if interval, err := time.ParseDuration(v); err == nil {
			config.Interval = interval
		} else {
			log.Printf("Ignoring invalid COWRITE_AUTOSAVE_INTERVAL %q", v)
		}
	}
	return config
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
