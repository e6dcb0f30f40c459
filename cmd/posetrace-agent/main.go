package main

import (
	"flag"
	"log"

	"github.com/vincentbai/posetrace-agent/internal/config"
	"github.com/vincentbai/posetrace-agent/internal/database"
	"github.com/vincentbai/posetrace-agent/internal/pose"
	"github.com/vincentbai/posetrace-agent/internal/server"
	"github.com/vincentbai/posetrace-agent/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// Flags win over the environment
	flag.StringVar(&cfg.Address, "addr", cfg.Address, "listen address")
	flag.StringVar(&cfg.OutputPath, "output", cfg.OutputPath, "recording file to write (.ptrk)")
	flag.StringVar(&cfg.SceneExportPath, "scene-export", cfg.SceneExportPath, "copy of the first render scene (.gltf)")
	flag.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite capture journal")
	flag.StringVar(&cfg.ManifestPath, "manifest", cfg.ManifestPath, "YAML list of objects to track")
	flag.BoolVar(&cfg.FlushEveryCapture, "flush-every-capture", cfg.FlushEveryCapture, "rewrite the recording after every capture")
	flag.BoolVar(&cfg.ZUp, "z-up", cfg.ZUp, "convert glTF Y-up scenes to Z-up")
	flag.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "replace an existing recording file")
	sceneRef := flag.String("scene", "", "scene reference stored in the recording")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	var objects []string
	if cfg.ManifestPath != "" {
		manifest, err := config.LoadManifest(cfg.ManifestPath)
		if err != nil {
			log.Fatal(err)
		}
		objects = manifest.Objects
		if *sceneRef == "" {
			*sceneRef = manifest.Scene
		}
	}

	var opts []session.Option
	if cfg.JournalPath != "" {
		db, err := database.NewDatabase(cfg.JournalPath)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		opts = append(opts, session.WithJournal(db))
	}

	sess, err := session.New(*sceneRef, opts...)
	if err != nil {
		log.Fatal(err)
	}
	for _, name := range objects {
		if err := sess.Register(name); err != nil {
			log.Fatal(err)
		}
	}
	log.Printf("Session %s tracking %d objects", sess.ID(), len(objects))

	var sceneOptions []pose.SceneOption
	if cfg.ZUp {
		sceneOptions = append(sceneOptions, pose.WithZUp())
	}

	srv := server.NewServer(sess, cfg.Address, server.Options{
		OutputPath:        cfg.OutputPath,
		SceneExportPath:   cfg.SceneExportPath,
		FlushEveryCapture: cfg.FlushEveryCapture,
		AutoRegister:      len(objects) == 0,
		SceneOptions:      sceneOptions,
	})
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
